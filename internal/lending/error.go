package lending

import (
	"errors"
	"fmt"
	"net/http"
)

// -------------- Error model & mapping --------------

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeUnauthenticated Code = "UNAUTHENTICATED" // 認証ミドルウェアを通っていない
	CodeForbidden       Code = "FORBIDDEN"
	CodeConflict        Code = "CONFLICT"
	CodeTimeout         Code = "TIMEOUT" // 呼び出し側でのバックオフ再試行が許される唯一の種別
	CodeInternal        Code = "INTERNAL"
)

// Reason は同じ Code の中での理由。API 利用者が分岐に使うので値は変えないこと
type Reason string

const (
	ReasonMissingID       Reason = "MISSING_ID"
	ReasonBookNotFound    Reason = "BOOK_NOT_FOUND"
	ReasonRecordNotFound  Reason = "RECORD_NOT_FOUND"
	ReasonOwnBook         Reason = "OWN_BOOK"
	ReasonNotShareable    Reason = "NOT_SHAREABLE"
	ReasonAlreadyBorrowed Reason = "ALREADY_BORROWED"
	ReasonNoActiveLoan    Reason = "NO_ACTIVE_LOAN"
	ReasonNotBorrower     Reason = "NOT_BORROWER"
	ReasonAlreadyReturned Reason = "ALREADY_RETURNED"
	ReasonNotOwner        Reason = "NOT_OWNER"
	ReasonNotYetReturned  Reason = "NOT_YET_RETURNED"
	ReasonNotParticipant  Reason = "NOT_PARTICIPANT"
	ReasonStaleState      Reason = "STALE_STATE"
	ReasonLockTimeout     Reason = "LOCK_TIMEOUT"
	ReasonStoreTimeout    Reason = "STORE_TIMEOUT"
	ReasonCanceled        Reason = "CANCELED"
	ReasonUnknownAction   Reason = "UNKNOWN_ACTION"
	ReasonUnknownEncoding Reason = "UNKNOWN_ENCODING"
)

type APIError struct {
	Code    Code
	Reason  Reason
	Message string
	cause   error
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s(%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.cause }

func ErrInvalid(reason Reason, msg string) *APIError {
	return &APIError{Code: CodeInvalidArgument, Reason: reason, Message: msg}
}
func ErrNotFound(reason Reason, msg string) *APIError {
	return &APIError{Code: CodeNotFound, Reason: reason, Message: msg}
}
func ErrForbidden(reason Reason, msg string) *APIError {
	return &APIError{Code: CodeForbidden, Reason: reason, Message: msg}
}
func ErrConflict(reason Reason, msg string) *APIError {
	return &APIError{Code: CodeConflict, Reason: reason, Message: msg}
}
func ErrTimeout(reason Reason, msg string, cause error) *APIError {
	return &APIError{Code: CodeTimeout, Reason: reason, Message: msg, cause: cause}
}
func ErrInternal(msg string, cause error) *APIError {
	return &APIError{Code: CodeInternal, Message: msg, cause: cause}
}

// CodeOf は err が *APIError ならその Code、そうでなければ INTERNAL
func CodeOf(err error) Code {
	var api *APIError
	if errors.As(err, &api) {
		return api.Code
	}
	return CodeInternal
}

// ReasonOf は err が *APIError ならその Reason
func ReasonOf(err error) Reason {
	var api *APIError
	if errors.As(err, &api) {
		return api.Reason
	}
	return ""
}

// -------------- Error helpers for handler --------------

func ToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
