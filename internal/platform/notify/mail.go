package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var mailTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var subjects = map[Kind]string{
	KindAccountRegistered: "BookNet へようこそ",
	KindBookBorrowed:      "あなたの本が借りられました",
	KindBookReturned:      "貸出中の本が返却されました",
	KindReturnApproved:    "返却が承認されました",
}

// AddressBook: ユーザID → メールアドレス
type AddressBook interface {
	EmailOf(ctx context.Context, userID string) (string, error)
}

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

type MailSink struct {
	cfg   MailConfig
	addrs AddressBook
	send  sendFunc
}

func NewMailSink(cfg MailConfig, addrs AddressBook) *MailSink {
	return &MailSink{cfg: cfg, addrs: addrs, send: sendMail}
}

func (m *MailSink) Name() string { return "mail" }

func (m *MailSink) Deliver(ctx context.Context, ev Event) error {
	subject, ok := subjects[ev.Kind]
	if !ok {
		return nil
	}

	var to []string
	if addr := ev.Data["email"]; addr != "" {
		to = append(to, addr)
	} else {
		for _, id := range ev.Recipients {
			addr, err := m.addrs.EmailOf(ctx, id)
			if err != nil {
				return fmt.Errorf("resolve address of %s: %w", id, err)
			}
			if addr != "" {
				to = append(to, addr)
			}
		}
	}
	if len(to) == 0 {
		return nil
	}

	var body bytes.Buffer
	if err := mailTemplates.ExecuteTemplate(&body, string(ev.Kind)+".html", ev); err != nil {
		return fmt.Errorf("render %s: %w", ev.Kind, err)
	}

	msg := buildMessage(m.cfg.From, to, subject, body.String())

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	return m.send(ctx, addr, auth, m.cfg.From, to, msg)
}

// ctx に期限が無いときの接続期限
const defaultSMTPDeadline = 30 * time.Second

// sendMail は smtp.SendMail と同じ手順（STARTTLS は対応していれば使う）を ctx 付きで行う
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultSMTPDeadline)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	// ctx がキャンセルされたら期限を過去にして読み書きを打ち切る
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		conn.Close()
		return err
	}
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from string, to []string, subject, html string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	// 件名に日本語が入るので RFC 2047 でエンコード
	b.WriteString("Subject: " + mime.BEncoding.Encode("UTF-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	return []byte(b.String())
}
