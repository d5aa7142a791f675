// Package app は設定から各サービスを組み立てる（サーバーと CLI で共用）
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"BookNet-backend/internal/books"
	"BookNet-backend/internal/lending"
	"BookNet-backend/internal/platform/auth"
	"BookNet-backend/internal/platform/db"
	"BookNet-backend/internal/platform/keylock"
	"BookNet-backend/internal/platform/notify"
	"BookNet-backend/internal/platform/storage"
	"BookNet-backend/internal/realtime"

	"github.com/jmoiron/sqlx"
)

type App struct {
	Config     *db.Config
	DB         *sql.DB // driver=memory なら nil
	Auth       *auth.Service
	Books      *books.Service
	Lending    *lending.Service
	Hub        *realtime.Hub
	Dispatcher *notify.Dispatcher

	started bool
}

// Build は接続を開いてサービスを配線する。Dispatcher は Start で動かすこと
func Build(cfg *db.Config) (*App, error) {
	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}

	var (
		accounts auth.AccountStore
		bookRepo books.Store
		loans    lending.Store
	)
	if conn == nil {
		log.Printf("[WARN] database driver=memory: data is lost on restart")
		accounts = auth.NewMemStore()
		bookRepo = books.NewMemStore()
		loans = lending.NewMemStore()
	} else {
		x := sqlx.NewDb(conn, cfg.DB.Driver)
		accounts = auth.NewStore(conn)
		bookRepo = books.NewSQLStore(x)
		loans = lending.NewSQLStore(x)
		log.Printf("[INFO] connected to DB: driver=%s", cfg.DB.Driver)
	}

	covers, err := storage.NewLocal(cfg.Storage.UploadDir, storage.DefaultMaxBytes)
	if err != nil {
		closeDB(conn)
		return nil, err
	}

	a := &App{Config: cfg, DB: conn, Hub: realtime.NewHub()}

	// AddressBook は auth.Service。通知は auth より先に作る必要があるので後から差し込む
	addrs := &lazyAddressBook{}
	sinks := []notify.Sink{realtime.NewSink(a.Hub)}
	if cfg.Mail.Enabled {
		sinks = append(sinks, notify.NewMailSink(notify.MailConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		}, addrs))
	}
	a.Dispatcher = notify.NewDispatcher(cfg.Notify.QueueSize, cfg.Notify.MaxAttempts, sinks...)

	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		closeDB(conn)
		return nil, fmt.Errorf("auth.jwt_secret が未設定です")
	}
	a.Auth = auth.NewService(accounts, secret, cfg.Auth.TokenTTL, a.Dispatcher)
	addrs.book = a.Auth

	a.Books = books.NewService(bookRepo, covers)
	a.Lending = lending.NewService(loans, books.NewRegistry(bookRepo),
		lending.WithLocker(keylock.New()),
		lending.WithPublisher(a.Dispatcher),
		lending.WithLockTimeout(cfg.Lending.LockTimeout),
		lending.WithStoreTimeout(cfg.Lending.StoreTimeout),
	)
	a.Books.SetAuthorizer(a.Lending)

	return a, nil
}

// Start は通知の配送を開始する
func (a *App) Start(ctx context.Context) {
	if a.started {
		return
	}
	a.started = true
	go a.Dispatcher.Run(ctx)
}

// Close は未送信の通知を流し切ってから DB を閉じる
func (a *App) Close() {
	if a.started {
		a.Dispatcher.Close()
	}
	closeDB(a.DB)
}

func closeDB(conn *sql.DB) {
	if conn != nil {
		_ = conn.Close()
	}
}

type lazyAddressBook struct{ book notify.AddressBook }

func (l *lazyAddressBook) EmailOf(ctx context.Context, userID string) (string, error) {
	if l.book == nil {
		return "", nil
	}
	return l.book.EmailOf(ctx, userID)
}
