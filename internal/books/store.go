package books

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"BookNet-backend/internal/platform/page"

	"github.com/jmoiron/sqlx"
)

type Store interface {
	Create(ctx context.Context, b *Book) error
	Get(ctx context.Context, id string) (Book, error) // 無ければ errNoRows
	ListDisplayable(ctx context.Context, viewerID string, p page.Request) ([]Book, int64, error)
	ListByOwner(ctx context.Context, ownerID string, p page.Request) ([]Book, int64, error)
	SetShareable(ctx context.Context, id string, v bool, at time.Time) error
	SetArchived(ctx context.Context, id string, v bool, at time.Time) error
	SetCover(ctx context.Context, id, cover string, at time.Time) error
}

// ---------- sqlx ----------

type SQLStore struct{ db *sqlx.DB }

func NewSQLStore(db *sqlx.DB) *SQLStore { return &SQLStore{db: db} }

const bookColumns = `book_id, title, author_name, isbn, synopsis, owner_id, cover, shareable, archived, created_at, updated_at`

func (s *SQLStore) Create(ctx context.Context, b *Book) error {
	const q = `
	INSERT INTO books (` + bookColumns + `)
	VALUES (:book_id, :title, :author_name, :isbn, :synopsis, :owner_id, :cover, :shareable, :archived, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, b)
	return err
}

func (s *SQLStore) Get(ctx context.Context, id string) (Book, error) {
	var b Book
	err := s.db.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE book_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Book{}, errNoRows
	}
	return b, err
}

func (s *SQLStore) ListDisplayable(ctx context.Context, viewerID string, p page.Request) ([]Book, int64, error) {
	const where = ` FROM books WHERE shareable = 1 AND archived = 0 AND owner_id <> ?`
	return s.list(ctx, where, p, viewerID)
}

func (s *SQLStore) ListByOwner(ctx context.Context, ownerID string, p page.Request) ([]Book, int64, error) {
	const where = ` FROM books WHERE owner_id = ?`
	return s.list(ctx, where, p, ownerID)
}

func (s *SQLStore) list(ctx context.Context, from string, p page.Request, args ...any) ([]Book, int64, error) {
	p = p.Normalize()
	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*)`+from, args...); err != nil {
		return nil, 0, err
	}
	out := []Book{}
	if total == 0 {
		return out, 0, nil
	}
	q := `SELECT ` + bookColumns + from + ` ORDER BY created_at DESC, book_id DESC LIMIT ? OFFSET ?`
	if err := s.db.SelectContext(ctx, &out, q, append(args, p.Limit(), p.Offset())...); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *SQLStore) update(ctx context.Context, col string, id string, v any, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE books SET `+col+` = ?, updated_at = ? WHERE book_id = ?`, v, at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNoRows
	}
	return nil
}

func (s *SQLStore) SetShareable(ctx context.Context, id string, v bool, at time.Time) error {
	return s.update(ctx, "shareable", id, v, at)
}

func (s *SQLStore) SetArchived(ctx context.Context, id string, v bool, at time.Time) error {
	return s.update(ctx, "archived", id, v, at)
}

func (s *SQLStore) SetCover(ctx context.Context, id, cover string, at time.Time) error {
	return s.update(ctx, "cover", id, cover, at)
}

// ---------- memory ----------

type MemStore struct {
	mu    sync.RWMutex
	books map[string]Book
}

func NewMemStore() *MemStore { return &MemStore{books: make(map[string]Book)} }

func (m *MemStore) Create(ctx context.Context, b *Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = *b
	return nil
}

func (m *MemStore) Get(ctx context.Context, id string) (Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return Book{}, errNoRows
	}
	return b, nil
}

func (m *MemStore) ListDisplayable(ctx context.Context, viewerID string, p page.Request) ([]Book, int64, error) {
	return m.list(p, func(b Book) bool { return b.Displayable(viewerID) })
}

func (m *MemStore) ListByOwner(ctx context.Context, ownerID string, p page.Request) ([]Book, int64, error) {
	return m.list(p, func(b Book) bool { return b.OwnerID == ownerID })
}

func (m *MemStore) list(p page.Request, keep func(Book) bool) ([]Book, int64, error) {
	m.mu.RLock()
	hits := []Book{}
	for _, b := range m.books {
		if keep(b) {
			hits = append(hits, b)
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].ID > hits[j].ID
	})

	p = p.Normalize()
	total := int64(len(hits))
	from, to := p.Offset(), p.Offset()+p.Limit()
	if from < 0 || from >= len(hits) {
		return []Book{}, total, nil
	}
	if to > len(hits) {
		to = len(hits)
	}
	return hits[from:to], total, nil
}

func (m *MemStore) modify(id string, at time.Time, fn func(b *Book)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return errNoRows
	}
	fn(&b)
	b.UpdatedAt = at
	m.books[id] = b
	return nil
}

func (m *MemStore) SetShareable(ctx context.Context, id string, v bool, at time.Time) error {
	return m.modify(id, at, func(b *Book) { b.Shareable = v })
}

func (m *MemStore) SetArchived(ctx context.Context, id string, v bool, at time.Time) error {
	return m.modify(id, at, func(b *Book) { b.Archived = v })
}

func (m *MemStore) SetCover(ctx context.Context, id, cover string, at time.Time) error {
	return m.modify(id, at, func(b *Book) { b.Cover = sql.NullString{String: cover, Valid: cover != ""} })
}
