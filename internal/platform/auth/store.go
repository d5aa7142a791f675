package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"BookNet-backend/internal/platform/db"
)

type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	IsDisabled   bool
	CreatedAt    time.Time
}

// 見つからない場合は nil, nil を返す
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Create(ctx context.Context, a *Account) error // email 重複は ErrAlreadyExists
	SetDisabled(ctx context.Context, id string, disabled bool) (int64, error)
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) AccountStore {
	return &Store{db: db}
}

const accountColumns = `id, email, password_hash, role, is_disabled, created_at`

func (s *Store) get(ctx context.Context, where string, arg any) (*Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where + ` LIMIT 1`
	var a Account
	var isDisabledInt int
	err := s.db.QueryRowContext(ctx, q, arg).Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.Role,
		&isDisabledInt,
		&a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.IsDisabled = isDisabledInt != 0
	return &a, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	return s.get(ctx, "id = ?", id)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return s.get(ctx, "email = ?", strings.ToLower(email))
}

func (s *Store) Create(ctx context.Context, a *Account) error {
	const q = `
INSERT INTO accounts (id, email, password_hash, role, is_disabled, created_at)
VALUES (?, ?, ?, ?, 0, ?)
`
	_, err := s.db.ExecContext(ctx, q, a.ID, strings.ToLower(a.Email), a.PasswordHash, a.Role, a.CreatedAt)
	if db.IsDuplicateKey(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *Store) SetDisabled(ctx context.Context, id string, disabled bool) (int64, error) {
	const q = `UPDATE accounts SET is_disabled = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, disabled, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MemStore は driver=memory 用
type MemStore struct {
	mu   sync.RWMutex
	byID map[string]*Account
}

func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]*Account)}
}

func (m *MemStore) GetByID(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.byID[id]; ok {
		c := *a
		return &c, nil
	}
	return nil, nil
}

func (m *MemStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	email = strings.ToLower(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.byID {
		if a.Email == email {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemStore) Create(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(a.Email)
	for _, x := range m.byID {
		if x.Email == email {
			return ErrAlreadyExists
		}
	}
	if _, ok := m.byID[a.ID]; ok {
		return ErrAlreadyExists
	}
	c := *a
	c.Email = email
	m.byID[c.ID] = &c
	return nil
}

func (m *MemStore) SetDisabled(ctx context.Context, id string, disabled bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return 0, nil
	}
	a.IsDisabled = disabled
	return 1, nil
}
