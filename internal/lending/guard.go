package lending

type Action string

const (
	ActionBorrow          Action = "BORROW"
	ActionReturn          Action = "RETURN"
	ActionApproveReturn   Action = "APPROVE_RETURN"
	ActionToggleShareable Action = "TOGGLE_SHAREABLE"
	ActionToggleArchived  Action = "TOGGLE_ARCHIVED"
	ActionUpdateBook      Action = "UPDATE_BOOK" // カバー画像のアップロードなど
)

type Decision struct {
	Allowed bool
	Code    Code
	Reason  Reason
	Message string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(code Code, reason Reason, msg string) Decision {
	return Decision{Code: code, Reason: reason, Message: msg}
}

// Err は拒否なら *APIError、許可なら nil
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &APIError{Code: d.Code, Reason: d.Reason, Message: d.Message}
}

// Decide は副作用のない認可判定。open はその本の未完了レコード（無ければ nil）。
// ルールは上から順に評価し、最初に当たったものを返す。
func Decide(action Action, book Book, open *Record, actorID string) Decision {
	isOwner := actorID == book.OwnerID

	switch action {
	case ActionBorrow:
		// 所有者チェックは本の状態に関係なく最優先
		if isOwner {
			return deny(CodeForbidden, ReasonOwnBook, "you cannot borrow your own book")
		}
		if !book.IsLendable() {
			return deny(CodeConflict, ReasonNotShareable, "the requested book cannot be borrowed since it is archived or not shareable")
		}
		if open != nil {
			return deny(CodeConflict, ReasonAlreadyBorrowed, "the requested book is already borrowed")
		}
		return allow()

	case ActionReturn:
		if open == nil {
			return deny(CodeNotFound, ReasonNoActiveLoan, "there is no active loan for this book")
		}
		if open.BorrowerID != actorID {
			return deny(CodeForbidden, ReasonNotBorrower, "you did not borrow this book")
		}
		if open.State != StateActive {
			return deny(CodeConflict, ReasonAlreadyReturned, "the book is already returned and waiting for approval")
		}
		return allow()

	case ActionApproveReturn:
		if !isOwner {
			return deny(CodeForbidden, ReasonNotOwner, "you cannot approve the return of a book you do not own")
		}
		if open == nil || open.State != StateReturned {
			return deny(CodeConflict, ReasonNotYetReturned, "the book is not returned yet, you cannot approve its return")
		}
		return allow()

	case ActionToggleShareable, ActionToggleArchived, ActionUpdateBook:
		if !isOwner {
			return deny(CodeForbidden, ReasonNotOwner, "you cannot update others books")
		}
		return allow()
	}

	return deny(CodeInvalidArgument, ReasonUnknownAction, "unknown action: "+string(action))
}
