package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BookNet-backend/internal/platform/page"
)

var (
	// ErrDuplicateOpen: 同じ本に未完了レコードが既にある（UNIQUE 制約違反を含む）
	ErrDuplicateOpen = errors.New("lending: open record already exists for book")
	// ErrStaleState: 条件付き更新で対象行の状態が想定と違った
	ErrStaleState     = errors.New("lending: record state changed concurrently")
	ErrRecordNotFound = errors.New("lending: record not found")
)

// Tx は1冊分のクリティカルセクション内でだけ使える操作
type Tx interface {
	// OpenRecord は未完了(ACTIVE/RETURNED)のレコード。無ければ nil, nil
	OpenRecord(ctx context.Context, bookID string) (*Record, error)
	Insert(ctx context.Context, r *Record) error
	// Transition は state が from の場合だけ to に進める。一致しなければ ErrStaleState
	Transition(ctx context.Context, recordID string, from, to State, at time.Time) error
}

type ListQuery struct {
	BookID     string
	OwnerID    string
	BorrowerID string
	States     []State // 空なら全状態
	Page       page.Request
}

// Store は貸出レコードの永続化。WithinBook の fn がエラーを返したら何も反映しない。
type Store interface {
	WithinBook(ctx context.Context, bookID string, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, recordID string) (Record, error)
	List(ctx context.Context, q ListQuery) ([]Record, int64, error)
}

func checkTransition(from, to State) error {
	next, ok := from.Next()
	if !ok || next != to {
		return fmt.Errorf("lending: illegal transition %s -> %s", from, to)
	}
	return nil
}

func (q ListQuery) matches(r *Record) bool {
	if q.BookID != "" && r.BookID != q.BookID {
		return false
	}
	if q.OwnerID != "" && r.OwnerID != q.OwnerID {
		return false
	}
	if q.BorrowerID != "" && r.BorrowerID != q.BorrowerID {
		return false
	}
	if len(q.States) == 0 {
		return true
	}
	for _, st := range q.States {
		if r.State == st {
			return true
		}
	}
	return false
}
