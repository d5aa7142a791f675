package lending

import (
	"context"
	"errors"
	"time"
)

// State: 貸出レコードの状態。ACTIVE → RETURNED → APPROVED の順にしか進まない
type State string

const (
	StateActive   State = "ACTIVE"
	StateReturned State = "RETURNED"
	StateApproved State = "APPROVED" // 終端
)

// Open: 未完了（本がまだ貸出枠を占有している）か
func (s State) Open() bool { return s == StateActive || s == StateReturned }

// Next は1つ先の状態。終端なら ok=false
func (s State) Next() (State, bool) {
	switch s {
	case StateActive:
		return StateReturned, true
	case StateReturned:
		return StateApproved, true
	default:
		return "", false
	}
}

func ParseState(s string) (State, bool) {
	switch st := State(s); st {
	case StateActive, StateReturned, StateApproved:
		return st, true
	}
	return "", false
}

// Book は台帳が判定に使う最小限の本の情報（Registry 所有）
type Book struct {
	ID         string
	OwnerID    string
	Title      string
	AuthorName string
	ISBN       string
	Shareable  bool
	Archived   bool
}

func (b Book) IsLendable() bool { return b.Shareable && !b.Archived }

// Record は lending_records テーブルの1行
type Record struct {
	ID         string
	BookID     string
	OwnerID    string // 作成時点の本の所有者。一覧用の副インデックス
	BorrowerID string
	State      State
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ReturnedAt *time.Time
	ApprovedAt *time.Time
}

var ErrBookNotFound = errors.New("book not found")

// BookRegistry: 本の取得とオーナー向けフラグ更新。見つからない場合は ErrBookNotFound を返すこと
type BookRegistry interface {
	GetBook(ctx context.Context, bookID string) (Book, error)
	SetShareable(ctx context.Context, bookID string, shareable bool) error
	SetArchived(ctx context.Context, bookID string, archived bool) error
}
