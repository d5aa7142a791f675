package lending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"BookNet-backend/internal/platform/db"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
)

const recordColumns = `record_id, book_id, owner_id, borrower_id, state, created_at, updated_at, returned_at, approved_at`

// SQLStore は lending_records テーブル（MySQL / sqlite3）
type SQLStore struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	// MySQL は SELECT ... FOR UPDATE で行ロック。sqlite はDB全体が直列なので不要
	forUpdate bool
}

func NewSQLStore(x *sqlx.DB) *SQLStore {
	driver := x.DriverName()
	return &SQLStore{
		db:        x,
		dialect:   goqu.Dialect(driver),
		forUpdate: driver == db.DriverMySQL,
	}
}

type recordRow struct {
	RecordID   string       `db:"record_id"`
	BookID     string       `db:"book_id"`
	OwnerID    string       `db:"owner_id"`
	BorrowerID string       `db:"borrower_id"`
	State      string       `db:"state"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
	ReturnedAt sql.NullTime `db:"returned_at"`
	ApprovedAt sql.NullTime `db:"approved_at"`
}

func (r recordRow) toRecord() Record {
	rec := Record{
		ID:         r.RecordID,
		BookID:     r.BookID,
		OwnerID:    r.OwnerID,
		BorrowerID: r.BorrowerID,
		State:      State(r.State),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.ReturnedAt.Valid {
		t := r.ReturnedAt.Time
		rec.ReturnedAt = &t
	}
	if r.ApprovedAt.Valid {
		t := r.ApprovedAt.Time
		rec.ApprovedAt = &t
	}
	return rec
}

type rowScanner interface{ Scan(dest ...any) error }

func scanRecord(sc rowScanner) (Record, error) {
	var r recordRow
	err := sc.Scan(&r.RecordID, &r.BookID, &r.OwnerID, &r.BorrowerID, &r.State,
		&r.CreatedAt, &r.UpdatedAt, &r.ReturnedAt, &r.ApprovedAt)
	if err != nil {
		return Record{}, err
	}
	return r.toRecord(), nil
}

// ---------- write side ----------

type sqlTx struct {
	tx        db.DBTX
	forUpdate bool
}

func (s *SQLStore) WithinBook(ctx context.Context, bookID string, fn func(ctx context.Context, tx Tx) error) error {
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		return fn(ctx, &sqlTx{tx: tx, forUpdate: s.forUpdate})
	})
	if db.IsDuplicateKey(err) {
		return ErrDuplicateOpen
	}
	return err
}

func (t *sqlTx) OpenRecord(ctx context.Context, bookID string) (*Record, error) {
	q := `SELECT ` + recordColumns + ` FROM lending_records
	WHERE book_id = ? AND state IN ('ACTIVE', 'RETURNED')
	LIMIT 1`
	if t.forUpdate {
		q += ` FOR UPDATE`
	}
	r, err := scanRecord(t.tx.QueryRowContext(ctx, q, bookID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (t *sqlTx) Insert(ctx context.Context, r *Record) error {
	const q = `
	INSERT INTO lending_records
	(record_id, book_id, owner_id, borrower_id, state, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, q,
		r.ID, r.BookID, r.OwnerID, r.BorrowerID, string(r.State), r.CreatedAt, r.UpdatedAt)
	if db.IsDuplicateKey(err) {
		return ErrDuplicateOpen
	}
	return err
}

func (t *sqlTx) Transition(ctx context.Context, recordID string, from, to State, at time.Time) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}

	var col string
	switch to {
	case StateReturned:
		col = "returned_at"
	case StateApproved:
		col = "approved_at"
	}
	q := fmt.Sprintf(`UPDATE lending_records SET state = ?, updated_at = ?, %s = ? WHERE record_id = ? AND state = ?`, col)

	res, err := t.tx.ExecContext(ctx, q, string(to), at, at, recordID, string(from))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff != 1 {
		return ErrStaleState
	}
	return nil
}

// ---------- read side (ロックなし) ----------

func (s *SQLStore) Get(ctx context.Context, recordID string) (Record, error) {
	q := `SELECT ` + recordColumns + ` FROM lending_records WHERE record_id = ?`
	r, err := scanRecord(s.db.QueryRowContext(ctx, q, recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return r, nil
}

func (s *SQLStore) filtered(q ListQuery) *goqu.SelectDataset {
	ds := s.dialect.From("lending_records").Prepared(true)

	var where []goqu.Expression
	if q.BookID != "" {
		where = append(where, goqu.C("book_id").Eq(q.BookID))
	}
	if q.OwnerID != "" {
		where = append(where, goqu.C("owner_id").Eq(q.OwnerID))
	}
	if q.BorrowerID != "" {
		where = append(where, goqu.C("borrower_id").Eq(q.BorrowerID))
	}
	if len(q.States) > 0 {
		states := make([]string, 0, len(q.States))
		for _, st := range q.States {
			states = append(states, string(st))
		}
		where = append(where, goqu.C("state").In(states))
	}
	if len(where) > 0 {
		ds = ds.Where(where...)
	}
	return ds
}

func (s *SQLStore) List(ctx context.Context, q ListQuery) ([]Record, int64, error) {
	p := q.Page.Normalize()
	base := s.filtered(q)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := s.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []Record{}, 0, nil
	}

	listSQL, args, err := base.
		Select("record_id", "book_id", "owner_id", "borrower_id", "state",
			"created_at", "updated_at", "returned_at", "approved_at").
		Order(goqu.C("created_at").Desc(), goqu.C("record_id").Desc()).
		Limit(uint(p.Limit())).
		Offset(uint(p.Offset())).
		ToSQL()
	if err != nil {
		return nil, 0, err
	}

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, listSQL, args...); err != nil {
		return nil, 0, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, total, nil
}
