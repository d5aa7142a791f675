package books

import (
	"context"
	"errors"

	"BookNet-backend/internal/lending"
)

// Registry は books を台帳から見た BookRegistry として公開する
type Registry struct {
	store Store
	clock Clock
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store, clock: realClock{}}
}

var _ lending.BookRegistry = (*Registry)(nil)

func (r *Registry) GetBook(ctx context.Context, bookID string) (lending.Book, error) {
	b, err := r.store.Get(ctx, bookID)
	if err != nil {
		if errors.Is(err, errNoRows) {
			return lending.Book{}, lending.ErrBookNotFound
		}
		return lending.Book{}, err
	}
	return lending.Book{
		ID:         b.ID,
		OwnerID:    b.OwnerID,
		Title:      b.Title,
		AuthorName: b.AuthorName,
		ISBN:       b.ISBN,
		Shareable:  b.Shareable,
		Archived:   b.Archived,
	}, nil
}

func (r *Registry) SetShareable(ctx context.Context, bookID string, shareable bool) error {
	return r.mapErr(r.store.SetShareable(ctx, bookID, shareable, r.clock.Now()))
}

func (r *Registry) SetArchived(ctx context.Context, bookID string, archived bool) error {
	return r.mapErr(r.store.SetArchived(ctx, bookID, archived, r.clock.Now()))
}

func (r *Registry) mapErr(err error) error {
	if errors.Is(err, errNoRows) {
		return lending.ErrBookNotFound
	}
	return err
}
