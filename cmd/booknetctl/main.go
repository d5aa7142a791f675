// booknetctl はサーバーと同じ設定で DB を直接操作する管理用 CLI
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"BookNet-backend/internal/app"
	"BookNet-backend/internal/platform/auth"
	"BookNet-backend/internal/platform/db"
	"BookNet-backend/internal/platform/page"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "booknetctl",
		Short:         "BookNet 管理ツール",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "設定ファイル")

	withApp := func(fn func(ctx context.Context, a *app.App, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := db.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			a, err := app.Build(cfg)
			if err != nil {
				return err
			}
			a.Start(context.Background())
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return fn(ctx, a, args)
		}
	}

	root.AddCommand(newUserCmd(withApp), newLoansCmd(withApp))
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("BOOKNET_CONFIG"); p != "" {
		return p
	}
	return db.DefaultConfigPath
}

type appRunner func(fn func(ctx context.Context, a *app.App, args []string) error) func(*cobra.Command, []string) error

func newUserCmd(withApp appRunner) *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "アカウント管理"}

	var email, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "アカウントを作成する（パスワードは対話入力）",
		RunE: withApp(func(ctx context.Context, a *app.App, _ []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}
			acct, err := a.Auth.Register(ctx, email, password, role)
			if err != nil {
				return err
			}
			fmt.Printf("created %s (%s, role=%s)\n", acct.ID, acct.Email, acct.Role)
			return nil
		}),
	}
	create.Flags().StringVar(&email, "email", "", "メールアドレス")
	create.Flags().StringVar(&role, "role", auth.RoleUser, "user | admin")
	_ = create.MarkFlagRequired("email")

	disable := &cobra.Command{
		Use:   "disable <account-id>",
		Short: "アカウントを無効化する",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			if err := a.Auth.SetDisabled(ctx, args[0], true); err != nil {
				return err
			}
			fmt.Printf("disabled %s\n", args[0])
			return nil
		}),
	}

	user.AddCommand(create, disable)
	return user
}

func newLoansCmd(withApp appRunner) *cobra.Command {
	loans := &cobra.Command{Use: "loans", Short: "貸出台帳の参照"}

	var size int
	list := &cobra.Command{
		Use:   "list <book-id>",
		Short: "本ごとの貸出履歴を新しい順に表示する",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			res, err := a.Lending.ListByBook(ctx, args[0], page.Request{Size: size})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RECORD\tSTATE\tBORROWER\tBORROWED_AT\tRETURNED_AT\tAPPROVED_AT")
			for _, l := range res.Content {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", l.RecordID, l.State, l.BorrowerID,
					fmtTime(&l.BorrowedAt), fmtTime(l.ReturnedAt), fmtTime(l.ApprovedAt))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d of %d record(s)\n", len(res.Content), res.TotalElements)
			return nil
		}),
	}
	list.Flags().IntVar(&size, "size", page.MaxSize, "表示件数")

	loans.AddCommand(list)
	return loans
}

// readPassword はエコーなしでパスワードを読む
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(b)), nil
}

func fmtTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
