package lending

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore はプロセス内のレコードストア。driver=memory とテストで使う。
// 書き込みは WithinBook 終了時にまとめて反映し、その時点で未完了の一意性を再確認する。
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	open    map[string]string // book_id -> 未完了の record_id
}

func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string]*Record),
		open:    make(map[string]string),
	}
}

type memOp struct {
	insert   *Record
	recordID string
	from, to State
	at       time.Time
}

type memTx struct {
	s   *MemStore
	ops []memOp
}

func (s *MemStore) WithinBook(ctx context.Context, bookID string, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx.ops)
}

func (s *MemStore) commit(ops []memOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 先に全部検証してから反映する
	pendingOpen := make(map[string]bool)
	for _, op := range ops {
		if op.insert != nil {
			if _, ok := s.open[op.insert.BookID]; ok || pendingOpen[op.insert.BookID] {
				return ErrDuplicateOpen
			}
			if _, ok := s.records[op.insert.ID]; ok {
				return ErrDuplicateOpen
			}
			pendingOpen[op.insert.BookID] = true
			continue
		}
		cur, ok := s.records[op.recordID]
		if !ok {
			return ErrRecordNotFound
		}
		if cur.State != op.from {
			return ErrStaleState
		}
	}

	for _, op := range ops {
		if op.insert != nil {
			r := *op.insert
			s.records[r.ID] = &r
			s.open[r.BookID] = r.ID
			continue
		}
		cur := s.records[op.recordID]
		at := op.at
		cur.State = op.to
		cur.UpdatedAt = at
		switch op.to {
		case StateReturned:
			cur.ReturnedAt = &at
		case StateApproved:
			cur.ApprovedAt = &at
		}
		if !op.to.Open() {
			delete(s.open, cur.BookID)
		}
	}
	return nil
}

func (t *memTx) OpenRecord(ctx context.Context, bookID string) (*Record, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.s.open[bookID]
	if !ok {
		return nil, nil
	}
	r := *t.s.records[id]
	return &r, nil
}

func (t *memTx) Insert(ctx context.Context, r *Record) error {
	if r == nil {
		return ErrRecordNotFound
	}
	c := *r
	t.ops = append(t.ops, memOp{insert: &c})
	return nil
}

func (t *memTx) Transition(ctx context.Context, recordID string, from, to State, at time.Time) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	t.ops = append(t.ops, memOp{recordID: recordID, from: from, to: to, at: at})
	return nil
}

func (s *MemStore) Get(ctx context.Context, recordID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return *r, nil
}

// List は created_at 降順（同時刻は record_id 降順）
func (s *MemStore) List(ctx context.Context, q ListQuery) ([]Record, int64, error) {
	s.mu.RLock()
	hits := make([]Record, 0)
	for _, r := range s.records {
		if q.matches(r) {
			hits = append(hits, *r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].ID > hits[j].ID
	})

	total := int64(len(hits))
	p := q.Page.Normalize()
	from := p.Offset()
	if from < 0 || from >= len(hits) {
		return []Record{}, total, nil
	}
	to := from + p.Limit()
	if to > len(hits) {
		to = len(hits)
	}
	return hits[from:to], total, nil
}
