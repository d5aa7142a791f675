package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"net/mail"
	"strings"
	"time"

	"BookNet-backend/internal/platform/notify"

	"github.com/golang-jwt/jwt/v5"
	ulid "github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	minPasswordLen = 8
)

var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrDisabled      = errors.New("account disabled")
)

type Service struct {
	store  AccountStore
	secret []byte
	ttl    time.Duration
	events notify.Publisher
	now    func() time.Time
}

func NewService(store AccountStore, secret []byte, ttl time.Duration, events notify.Publisher) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if events == nil {
		events = notify.Discard{}
	}
	return &Service{
		store:  store,
		secret: secret,
		ttl:    ttl,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type AuthService interface {
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, email, password, role string) (*Account, error)
	SetDisabled(ctx context.Context, id string, disabled bool) error
}

func (s *Service) Secret() []byte { return s.secret }

func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	acct, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if acct == nil {
		return "", ErrAuthFailed
	}
	if acct.IsDisabled {
		return "", ErrDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrAuthFailed
	}
	return s.IssueToken(acct)
}

// IssueToken は HS256 の JWT を発行する。sub=アカウントID
func (s *Service) IssueToken(acct *Account) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   acct.ID,
		"email": acct.Email,
		"role":  acct.Role,
		"iat":   now.Unix(),
		"exp":   now.Add(s.ttl).Unix(),
	})
	return token.SignedString(s.secret)
}

// Register はアカウントを作り、登録完了メールを非同期で送る
func (s *Service) Register(ctx context.Context, email, password, role string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidInput
	}
	if len(password) < minPasswordLen {
		return nil, ErrInvalidInput
	}
	if role == "" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleAdmin {
		return nil, ErrInvalidInput
	}

	exists, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists != nil {
		return nil, ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := s.now()
	acct := &Account{
		ID:           ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
	}
	if err := s.store.Create(ctx, acct); err != nil {
		return nil, err
	}

	s.events.Publish(notify.Event{
		Kind:       notify.KindAccountRegistered,
		ActorID:    acct.ID,
		Recipients: []string{acct.ID},
		Data:       map[string]string{"email": acct.Email},
		At:         now,
	})
	return acct, nil
}

func (s *Service) SetDisabled(ctx context.Context, id string, disabled bool) error {
	n, err := s.store.SetDisabled(ctx, id, disabled)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EmailOf は notify.AddressBook の実装。無効化済みアカウントには送らない
func (s *Service) EmailOf(ctx context.Context, userID string) (string, error) {
	acct, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if acct == nil || acct.IsDisabled {
		return "", nil
	}
	return acct.Email, nil
}
