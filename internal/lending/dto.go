package lending

import "time"

// POST /books/borrow/:book_id 等の遷移系レスポンス
type TransitionResponse struct {
	RecordID string    `json:"record_id"`
	BookID   string    `json:"book_id"`
	State    State     `json:"state"`
	At       time.Time `json:"at"`
}

// 一覧の1行。本の情報は Registry から補完する
type LoanResponse struct {
	RecordID       string     `json:"record_id"`
	BookID         string     `json:"book_id"`
	Title          string     `json:"title"`
	AuthorName     string     `json:"author_name"`
	ISBN           string     `json:"isbn"`
	OwnerID        string     `json:"owner_id"`
	BorrowerID     string     `json:"borrower_id"`
	State          State      `json:"state"`
	Returned       bool       `json:"returned"`
	ReturnApproved bool       `json:"return_approved"`
	BorrowedAt     time.Time  `json:"borrowed_at"`
	ReturnedAt     *time.Time `json:"returned_at,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
}

type ToggleResponse struct {
	BookID    string `json:"book_id"`
	Shareable bool   `json:"shareable"`
	Archived  bool   `json:"archived"`
}

func toTransitionResponse(r Record) TransitionResponse {
	at := r.UpdatedAt
	if at.IsZero() {
		at = r.CreatedAt
	}
	return TransitionResponse{RecordID: r.ID, BookID: r.BookID, State: r.State, At: at}
}

func toLoanResponse(r Record, b Book) LoanResponse {
	return LoanResponse{
		RecordID:       r.ID,
		BookID:         r.BookID,
		Title:          b.Title,
		AuthorName:     b.AuthorName,
		ISBN:           b.ISBN,
		OwnerID:        r.OwnerID,
		BorrowerID:     r.BorrowerID,
		State:          r.State,
		Returned:       r.State != StateActive,
		ReturnApproved: r.State == StateApproved,
		BorrowedAt:     r.CreatedAt,
		ReturnedAt:     r.ReturnedAt,
		ApprovedAt:     r.ApprovedAt,
	}
}
