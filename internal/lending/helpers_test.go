package lending

import (
	"context"
	"sync"
	"testing"
	"time"

	"BookNet-backend/internal/platform/notify"
)

// fakeRegistry は本の最小限のインメモリ実装
type fakeRegistry struct {
	mu    sync.Mutex
	books map[string]Book
	// block が true なら GetBook は ctx が終わるまで返らない
	block bool
}

func newFakeRegistry(books ...Book) *fakeRegistry {
	r := &fakeRegistry{books: make(map[string]Book)}
	for _, b := range books {
		r.books[b.ID] = b
	}
	return r
}

func (r *fakeRegistry) GetBook(ctx context.Context, id string) (Book, error) {
	r.mu.Lock()
	block := r.block
	b, ok := r.books[id]
	r.mu.Unlock()
	if block {
		<-ctx.Done()
		return Book{}, ctx.Err()
	}
	if !ok {
		return Book{}, ErrBookNotFound
	}
	return b, nil
}

func (r *fakeRegistry) SetShareable(ctx context.Context, id string, v bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[id]
	if !ok {
		return ErrBookNotFound
	}
	b.Shareable = v
	r.books[id] = b
	return nil
}

func (r *fakeRegistry) SetArchived(ctx context.Context, id string, v bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[id]
	if !ok {
		return ErrBookNotFound
	}
	b.Archived = v
	r.books[id] = b
	return nil
}

func (r *fakeRegistry) book(id string) Book {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.books[id]
}

type capturePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *capturePublisher) Publish(ev notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) kinds() []notify.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notify.Kind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

// 1ms ずつ進む時計。一覧の並び順を安定させる
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

const (
	alice = "alice"
	bob   = "bob"
	carol = "carol"
)

func lendableBook(id, owner string) Book {
	return Book{ID: id, OwnerID: owner, Title: "title-" + id, AuthorName: "author", ISBN: "9784000000000", Shareable: true}
}

type fixture struct {
	svc   *Service
	store *MemStore
	books *fakeRegistry
	pub   *capturePublisher
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	f := fixture{
		store: NewMemStore(),
		books: newFakeRegistry(lendableBook("b1", alice), lendableBook("b2", alice), lendableBook("b3", bob)),
		pub:   &capturePublisher{},
	}
	base := []Option{WithPublisher(f.pub), WithClock(newStepClock())}
	f.svc = NewService(f.store, f.books, append(base, opts...)...)
	return f
}
