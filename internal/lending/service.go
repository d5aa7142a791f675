package lending

import (
	"context"
	"crypto/rand"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"BookNet-backend/internal/platform/keylock"
	"BookNet-backend/internal/platform/notify"
	"BookNet-backend/internal/platform/page"

	ulid "github.com/oklog/ulid/v2"
)

const (
	DefaultLockTimeout  = 3 * time.Second
	DefaultStoreTimeout = 5 * time.Second
)

// -------------- Clock & ID --------------

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ NewULID(t time.Time) string }

// 同一ミリ秒内でも単調増加させるため entropy を共有する
type ulidGen struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newULIDGen() *ulidGen {
	return &ulidGen{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ulidGen) NewULID(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}

// -------------- Service --------------

type Service struct {
	store        Store
	books        BookRegistry
	locks        *keylock.Locker
	clock        Clock
	id           IDGen
	events       notify.Publisher
	lockTimeout  time.Duration
	storeTimeout time.Duration
}

type Option func(*Service)

func WithLocker(l *keylock.Locker) Option     { return func(s *Service) { s.locks = l } }
func WithClock(c Clock) Option                { return func(s *Service) { s.clock = c } }
func WithIDGen(g IDGen) Option                { return func(s *Service) { s.id = g } }
func WithPublisher(p notify.Publisher) Option { return func(s *Service) { s.events = p } }
func WithLockTimeout(d time.Duration) Option  { return func(s *Service) { s.lockTimeout = d } }
func WithStoreTimeout(d time.Duration) Option { return func(s *Service) { s.storeTimeout = d } }

func NewService(store Store, books BookRegistry, opts ...Option) *Service {
	s := &Service{
		store:        store,
		books:        books,
		locks:        keylock.New(),
		clock:        realClock{},
		id:           newULIDGen(),
		events:       notify.Discard{},
		lockTimeout:  DefaultLockTimeout,
		storeTimeout: DefaultStoreTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// withBook は本ごとの排他を取り、本を引いてから fn を呼ぶ。
// fn の中は store_timeout で打ち切られる。
func (s *Service) withBook(ctx context.Context, bookID, actorID string, fn func(ctx context.Context, book Book) error) error {
	if strings.TrimSpace(bookID) == "" {
		return ErrInvalid(ReasonMissingID, "book_id required")
	}
	if strings.TrimSpace(actorID) == "" {
		return ErrInvalid(ReasonMissingID, "actor id required")
	}

	unlock, err := s.locks.Lock(ctx, bookID, s.lockTimeout)
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			return ErrTimeout(ReasonLockTimeout, "the book is busy, try again later", err)
		}
		return ErrTimeout(ReasonCanceled, "request canceled while waiting", err)
	}
	defer unlock()

	sctx := ctx
	if s.storeTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
	}

	book, err := s.books.GetBook(sctx, bookID)
	if err != nil {
		return s.mapStoreErr(err)
	}
	if err := fn(sctx, book); err != nil {
		return s.mapStoreErr(err)
	}
	return nil
}

// mutate は open レコードを読んで判定し、許可されたら apply を同じ Tx で行う
func (s *Service) mutate(ctx context.Context, action Action, bookID, actorID string,
	apply func(ctx context.Context, tx Tx, book Book, open *Record, now time.Time) (Record, error),
) (Record, Book, error) {
	var (
		out  Record
		book Book
	)
	err := s.withBook(ctx, bookID, actorID, func(ctx context.Context, b Book) error {
		book = b
		return s.store.WithinBook(ctx, bookID, func(ctx context.Context, tx Tx) error {
			open, err := tx.OpenRecord(ctx, bookID)
			if err != nil {
				return err
			}
			if err := Decide(action, b, open, actorID).Err(); err != nil {
				return err
			}
			out, err = apply(ctx, tx, b, open, s.clock.Now())
			return err
		})
	})
	if err != nil {
		return Record{}, Book{}, err
	}
	return out, book, nil
}

func (s *Service) mapStoreErr(err error) error {
	var api *APIError
	switch {
	case errors.As(err, &api):
		return api
	case errors.Is(err, ErrBookNotFound):
		return ErrNotFound(ReasonBookNotFound, "no book found with the given id")
	case errors.Is(err, ErrRecordNotFound):
		return ErrNotFound(ReasonRecordNotFound, "lending record not found")
	case errors.Is(err, ErrDuplicateOpen):
		return ErrConflict(ReasonAlreadyBorrowed, "the requested book is already borrowed")
	case errors.Is(err, ErrStaleState):
		return ErrConflict(ReasonStaleState, "the lending record was changed by another request")
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout(ReasonStoreTimeout, "storage did not respond in time", err)
	case errors.Is(err, context.Canceled):
		return ErrTimeout(ReasonCanceled, "request canceled", err)
	}
	log.Printf("[ERROR] lending store: %v", err)
	return ErrInternal("internal error", err)
}

// -------------- Transitions --------------

// Borrow: 貸出。新しい ACTIVE レコードを作る
func (s *Service) Borrow(ctx context.Context, bookID, borrowerID string) (Record, error) {
	rec, book, err := s.mutate(ctx, ActionBorrow, bookID, borrowerID,
		func(ctx context.Context, tx Tx, b Book, _ *Record, now time.Time) (Record, error) {
			r := Record{
				ID:         s.id.NewULID(now),
				BookID:     b.ID,
				OwnerID:    b.OwnerID,
				BorrowerID: borrowerID,
				State:      StateActive,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.Insert(ctx, &r); err != nil {
				return Record{}, err
			}
			return r, nil
		})
	if err != nil {
		return Record{}, err
	}
	log.Printf("[INFO] borrow: record=%s book=%s borrower=%s", rec.ID, rec.BookID, rec.BorrowerID)
	s.publish(notify.KindBookBorrowed, rec, book, borrowerID, rec.OwnerID)
	return rec, nil
}

// ReturnBook: 借り手による返却。RETURNED にして所有者の承認待ちにする
func (s *Service) ReturnBook(ctx context.Context, bookID, actorID string) (Record, error) {
	rec, book, err := s.mutate(ctx, ActionReturn, bookID, actorID, s.advance(StateActive, StateReturned))
	if err != nil {
		return Record{}, err
	}
	log.Printf("[INFO] return: record=%s book=%s borrower=%s", rec.ID, rec.BookID, actorID)
	s.publish(notify.KindBookReturned, rec, book, actorID, rec.OwnerID)
	return rec, nil
}

// ApproveReturn: 所有者が返却を確認。レコードは APPROVED で確定し、本は再び借りられる
func (s *Service) ApproveReturn(ctx context.Context, bookID, actorID string) (Record, error) {
	rec, book, err := s.mutate(ctx, ActionApproveReturn, bookID, actorID, s.advance(StateReturned, StateApproved))
	if err != nil {
		return Record{}, err
	}
	log.Printf("[INFO] approve return: record=%s book=%s owner=%s", rec.ID, rec.BookID, actorID)
	s.publish(notify.KindReturnApproved, rec, book, actorID, rec.BorrowerID)
	return rec, nil
}

func (s *Service) advance(from, to State) func(ctx context.Context, tx Tx, _ Book, open *Record, now time.Time) (Record, error) {
	return func(ctx context.Context, tx Tx, _ Book, open *Record, now time.Time) (Record, error) {
		if err := tx.Transition(ctx, open.ID, from, to, now); err != nil {
			return Record{}, err
		}
		r := *open
		r.State = to
		r.UpdatedAt = now
		switch to {
		case StateReturned:
			r.ReturnedAt = &now
		case StateApproved:
			r.ApprovedAt = &now
		}
		return r, nil
	}
}

// 通知はコミット後。呼び出し元の ctx とは切り離す（Publish はブロックしない）
func (s *Service) publish(kind notify.Kind, r Record, b Book, actorID, recipient string) {
	s.events.Publish(notify.Event{
		Kind:       kind,
		RecordID:   r.ID,
		BookID:     r.BookID,
		BookTitle:  b.Title,
		ActorID:    actorID,
		Recipients: []string{recipient},
		At:         s.clock.Now(),
	})
}

// -------------- Owner toggles --------------

func (s *Service) ToggleShareable(ctx context.Context, bookID, actorID string) (ToggleResponse, error) {
	return s.toggle(ctx, ActionToggleShareable, bookID, actorID)
}

func (s *Service) ToggleArchived(ctx context.Context, bookID, actorID string) (ToggleResponse, error) {
	return s.toggle(ctx, ActionToggleArchived, bookID, actorID)
}

func (s *Service) toggle(ctx context.Context, action Action, bookID, actorID string) (ToggleResponse, error) {
	var out ToggleResponse
	err := s.withBook(ctx, bookID, actorID, func(ctx context.Context, b Book) error {
		if err := Decide(action, b, nil, actorID).Err(); err != nil {
			return err
		}
		out = ToggleResponse{BookID: b.ID, Shareable: b.Shareable, Archived: b.Archived}
		if action == ActionToggleShareable {
			out.Shareable = !b.Shareable
			return s.books.SetShareable(ctx, b.ID, out.Shareable)
		}
		out.Archived = !b.Archived
		return s.books.SetArchived(ctx, b.ID, out.Archived)
	})
	if err != nil {
		return ToggleResponse{}, err
	}
	log.Printf("[INFO] toggle %s: book=%s shareable=%t archived=%t", action, out.BookID, out.Shareable, out.Archived)
	return out, nil
}

// Authorize は台帳外の操作（カバー画像の更新など）を同じ規則で判定する。ロックは取らない
func (s *Service) Authorize(ctx context.Context, action Action, bookID, actorID string) error {
	if strings.TrimSpace(bookID) == "" || strings.TrimSpace(actorID) == "" {
		return ErrInvalid(ReasonMissingID, "book_id and actor id required")
	}
	b, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return s.mapStoreErr(err)
	}
	return Decide(action, b, nil, actorID).Err()
}

// -------------- Projections (ロックなし) --------------

// ListActiveLoansFor: 借り手の貸出中(ACTIVE)一覧
func (s *Service) ListActiveLoansFor(ctx context.Context, actorID string, p page.Request) (page.Response[LoanResponse], error) {
	return s.list(ctx, actorID, ListQuery{BorrowerID: actorID, States: []State{StateActive}, Page: p})
}

// ListLoansAwaitingApprovalFor: 所有者宛ての返却承認待ち(RETURNED)一覧
func (s *Service) ListLoansAwaitingApprovalFor(ctx context.Context, ownerID string, p page.Request) (page.Response[LoanResponse], error) {
	return s.list(ctx, ownerID, ListQuery{OwnerID: ownerID, States: []State{StateReturned}, Page: p})
}

// 借りた履歴（全状態）
func (s *Service) ListBorrowHistory(ctx context.Context, actorID string, p page.Request) (page.Response[LoanResponse], error) {
	return s.list(ctx, actorID, ListQuery{BorrowerID: actorID, Page: p})
}

// 貸した履歴（全状態）
func (s *Service) ListLendHistory(ctx context.Context, ownerID string, p page.Request) (page.Response[LoanResponse], error) {
	return s.list(ctx, ownerID, ListQuery{OwnerID: ownerID, Page: p})
}

// ListByBook は管理用（CLI）。権限チェックはしない
func (s *Service) ListByBook(ctx context.Context, bookID string, p page.Request) (page.Response[LoanResponse], error) {
	return s.list(ctx, bookID, ListQuery{BookID: bookID, Page: p})
}

func (s *Service) list(ctx context.Context, key string, q ListQuery) (page.Response[LoanResponse], error) {
	if strings.TrimSpace(key) == "" {
		return page.Response[LoanResponse]{}, ErrInvalid(ReasonMissingID, "id required")
	}
	q.Page = q.Page.Normalize()

	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	recs, total, err := s.store.List(ctx, q)
	if err != nil {
		return page.Response[LoanResponse]{}, s.mapStoreErr(err)
	}
	items, err := s.enrich(ctx, recs)
	if err != nil {
		return page.Response[LoanResponse]{}, err
	}
	return page.New(items, q.Page, total), nil
}

// GetRecord は借り手か所有者だけが見られる
func (s *Service) GetRecord(ctx context.Context, recordID, actorID string) (LoanResponse, error) {
	if strings.TrimSpace(recordID) == "" || strings.TrimSpace(actorID) == "" {
		return LoanResponse{}, ErrInvalid(ReasonMissingID, "record_id and actor id required")
	}
	ctx, cancel := s.readCtx(ctx)
	defer cancel()

	r, err := s.store.Get(ctx, recordID)
	if err != nil {
		return LoanResponse{}, s.mapStoreErr(err)
	}
	if r.BorrowerID != actorID && r.OwnerID != actorID {
		return LoanResponse{}, ErrForbidden(ReasonNotParticipant, "you are not a participant of this loan")
	}
	items, err := s.enrich(ctx, []Record{r})
	if err != nil {
		return LoanResponse{}, err
	}
	return items[0], nil
}

func (s *Service) readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout > 0 {
		return context.WithTimeout(ctx, s.storeTimeout)
	}
	return context.WithCancel(ctx)
}

// enrich は本のタイトル等を補う。削除済みなど引けない本は空欄のまま返す
func (s *Service) enrich(ctx context.Context, recs []Record) ([]LoanResponse, error) {
	cache := make(map[string]Book, len(recs))
	out := make([]LoanResponse, 0, len(recs))
	for _, r := range recs {
		b, ok := cache[r.BookID]
		if !ok {
			got, err := s.books.GetBook(ctx, r.BookID)
			switch {
			case err == nil:
				b = got
			case errors.Is(err, ErrBookNotFound):
				b = Book{ID: r.BookID}
			default:
				return nil, s.mapStoreErr(err)
			}
			cache[r.BookID] = b
		}
		out = append(out, toLoanResponse(r, b))
	}
	return out, nil
}
