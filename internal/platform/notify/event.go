package notify

import "time"

type Kind string

const (
	KindAccountRegistered Kind = "account_registered"
	KindBookBorrowed      Kind = "book_borrowed"
	KindBookReturned      Kind = "book_returned"
	KindReturnApproved    Kind = "return_approved"
)

// Event は業務処理の確定後に流す通知。判定には一切使わない。
type Event struct {
	Kind       Kind              `json:"event"`
	RecordID   string            `json:"record_id,omitempty"`
	BookID     string            `json:"book_id,omitempty"`
	BookTitle  string            `json:"book_title,omitempty"`
	ActorID    string            `json:"actor_id"`
	Recipients []string          `json:"-"`
	Data       map[string]string `json:"data,omitempty"`
	At         time.Time         `json:"at"`
}

type Publisher interface {
	Publish(ev Event)
}

// Discard は何もしない Publisher（テスト・CLI 用）
type Discard struct{}

func (Discard) Publish(Event) {}
