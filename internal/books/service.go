package books

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"BookNet-backend/internal/lending"
	"BookNet-backend/internal/platform/page"
	"BookNet-backend/internal/platform/storage"

	ulid "github.com/oklog/ulid/v2"
)

// -------------- Clock & ID --------------

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }

type ulidGen struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (g *ulidGen) NewULID(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}

// -------------- collaborators --------------

type CoverStorage interface {
	Save(ctx context.Context, ownerID, filename string, r io.Reader) (string, error)
	Open(rel string) (io.ReadCloser, string, error)
	Remove(rel string) error
}

// Authorizer は台帳と同じ規則で本の更新可否を判定する（lending.Service が満たす）
type Authorizer interface {
	Authorize(ctx context.Context, action lending.Action, bookID, actorID string) error
}

// -------------- Service --------------

type Service struct {
	store  Store
	covers CoverStorage
	authz  Authorizer
	clock  Clock
	id     IDGen
}

func NewService(store Store, covers CoverStorage) *Service {
	return &Service{
		store:  store,
		covers: covers,
		clock:  realClock{},
		id:     &ulidGen{entropy: ulid.Monotonic(rand.Reader, 0)},
	}
}

// SetAuthorizer: lending.Service は Registry 経由で books に依存するので後から差し込む
func (s *Service) SetAuthorizer(a Authorizer) { s.authz = a }

// POST /books
func (s *Service) Save(ctx context.Context, ownerID string, in CreateBookRequest) (BookResponse, error) {
	if strings.TrimSpace(ownerID) == "" {
		return BookResponse{}, ErrInvalid("owner required")
	}
	title := strings.TrimSpace(in.Title)
	author := strings.TrimSpace(in.AuthorName)
	isbn := strings.ReplaceAll(strings.TrimSpace(in.ISBN), "-", "")
	if title == "" || author == "" || isbn == "" {
		return BookResponse{}, ErrInvalid("title, author_name and isbn are required")
	}
	if len(isbn) != 10 && len(isbn) != 13 {
		return BookResponse{}, ErrInvalid("isbn must be 10 or 13 characters")
	}

	now := s.clock.Now()
	b := Book{
		ID:         s.id.NewULID(now),
		Title:      title,
		AuthorName: author,
		ISBN:       isbn,
		OwnerID:    ownerID,
		Shareable:  in.Shareable,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.Synopsis != nil && strings.TrimSpace(*in.Synopsis) != "" {
		b.Synopsis = sql.NullString{String: strings.TrimSpace(*in.Synopsis), Valid: true}
	}
	if err := s.store.Create(ctx, &b); err != nil {
		log.Printf("[ERROR] create book: %v", err)
		return BookResponse{}, ErrInternal("failed to save book")
	}
	log.Printf("[INFO] book created: id=%s owner=%s", b.ID, ownerID)
	return toResponse(b), nil
}

func (s *Service) FindByID(ctx context.Context, id string) (BookResponse, error) {
	b, err := s.get(ctx, id)
	if err != nil {
		return BookResponse{}, err
	}
	return toResponse(b), nil
}

func (s *Service) get(ctx context.Context, id string) (Book, error) {
	if strings.TrimSpace(id) == "" {
		return Book{}, ErrInvalid("book_id required")
	}
	b, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errNoRows) {
			return Book{}, ErrNotFound("no book found with the id " + id)
		}
		log.Printf("[ERROR] get book: %v", err)
		return Book{}, ErrInternal("failed to load book")
	}
	return b, nil
}

// 他人が共有していて、アーカイブされていない本
func (s *Service) ListDisplayable(ctx context.Context, viewerID string, p page.Request) (page.Response[BookResponse], error) {
	return s.page(ctx, p, func(p page.Request) ([]Book, int64, error) {
		return s.store.ListDisplayable(ctx, viewerID, p)
	})
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string, p page.Request) (page.Response[BookResponse], error) {
	return s.page(ctx, p, func(p page.Request) ([]Book, int64, error) {
		return s.store.ListByOwner(ctx, ownerID, p)
	})
}

func (s *Service) page(ctx context.Context, p page.Request, fetch func(page.Request) ([]Book, int64, error)) (page.Response[BookResponse], error) {
	p = p.Normalize()
	items, total, err := fetch(p)
	if err != nil {
		log.Printf("[ERROR] list books: %v", err)
		return page.Response[BookResponse]{}, ErrInternal("failed to list books")
	}
	return page.Map(page.New(items, p, total), toResponse), nil
}

// UploadCover は所有者だけがカバー画像を差し替えられる
func (s *Service) UploadCover(ctx context.Context, bookID, actorID, filename string, r io.Reader) (BookResponse, error) {
	if s.authz != nil {
		if err := s.authz.Authorize(ctx, lending.ActionUpdateBook, bookID, actorID); err != nil {
			return BookResponse{}, fromLendingErr(err)
		}
	}
	b, err := s.get(ctx, bookID)
	if err != nil {
		return BookResponse{}, err
	}
	// 台帳が配線されていない構成（単体利用）だけ所有者を直接見る
	if s.authz == nil && b.OwnerID != actorID {
		return BookResponse{}, ErrForbidden("you cannot update others books")
	}

	rel, err := s.covers.Save(ctx, b.OwnerID, filename, r)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUnsupportedType):
			return BookResponse{}, ErrInvalid("cover must be jpg, png, gif or webp")
		case errors.Is(err, storage.ErrTooLarge):
			return BookResponse{}, ErrInvalid("cover file too large")
		}
		log.Printf("[ERROR] save cover: %v", err)
		return BookResponse{}, ErrInternal("failed to save cover")
	}

	now := s.clock.Now()
	if err := s.store.SetCover(ctx, b.ID, rel, now); err != nil {
		_ = s.covers.Remove(rel)
		log.Printf("[ERROR] set cover: %v", err)
		return BookResponse{}, ErrInternal("failed to save cover")
	}
	if b.Cover.Valid {
		if err := s.covers.Remove(b.Cover.String); err != nil {
			log.Printf("[WARN] remove old cover %s: %v", b.Cover.String, err)
		}
	}
	b.Cover = sql.NullString{String: rel, Valid: true}
	b.UpdatedAt = now
	return toResponse(b), nil
}

// OpenCover: 呼び出し側で Close すること
func (s *Service) OpenCover(ctx context.Context, bookID string) (io.ReadCloser, string, error) {
	b, err := s.get(ctx, bookID)
	if err != nil {
		return nil, "", err
	}
	if !b.Cover.Valid || b.Cover.String == "" {
		return nil, "", ErrNotFound("book has no cover")
	}
	rc, ctype, err := s.covers.Open(b.Cover.String)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrNotFound("cover file missing")
		}
		return nil, "", ErrInternal("failed to open cover")
	}
	return rc, ctype, nil
}

func fromLendingErr(err error) error {
	msg := err.Error()
	var le *lending.APIError
	if errors.As(err, &le) {
		msg = le.Message
	}
	switch lending.CodeOf(err) {
	case lending.CodeInvalidArgument:
		return ErrInvalid(msg)
	case lending.CodeNotFound:
		return ErrNotFound(msg)
	case lending.CodeForbidden:
		return ErrForbidden(msg)
	case lending.CodeConflict:
		return ErrConflict(msg)
	case lending.CodeTimeout:
		return ErrUnavailable(msg)
	}
	return ErrInternal(msg)
}
