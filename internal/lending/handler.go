package lending

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"BookNet-backend/internal/platform/auth"
	"BookNet-backend/internal/platform/page"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

// RegisterRoutes は認証済みグループに載せること
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// 遷移
	r.POST("/books/borrow/:book_id", h.Borrow)
	r.PATCH("/books/borrow/return/:book_id", h.ReturnBook)
	r.PATCH("/books/borrow/return/approve/:book_id", h.ApproveReturn)

	// 所有者のフラグ切り替え
	r.PATCH("/books/shareable/:book_id", h.ToggleShareable)
	r.PATCH("/books/archived/:book_id", h.ToggleArchived)

	// 一覧
	r.GET("/books/borrowed", h.ListBorrowed)
	r.GET("/books/returned", h.ListReturned)
	r.GET("/books/borrowed/history", h.ListBorrowHistory)
	r.GET("/books/lent/history", h.ListLendHistory)
	r.GET("/books/lent/history/export", h.ExportLendHistory)
	r.GET("/loans/:record_id", h.GetRecord)
}

// ---------- handlers ----------

// @Summary  本を借りる
// @Tags     lending
// @Param    book_id path string true "book id"
// @Success  201 {object} TransitionResponse
// @Failure  403,404,409,503 {object} errorDTO
// @Router   /books/borrow/{book_id} [post]
func (h *Handler) Borrow(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	rec, err := h.svc.Borrow(c.Request.Context(), c.Param("book_id"), actor)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Header("Location", "/api/v1/loans/"+rec.ID)
	c.JSON(http.StatusCreated, toTransitionResponse(rec))
}

// @Summary  借りた本を返す
// @Tags     lending
// @Router   /books/borrow/return/{book_id} [patch]
func (h *Handler) ReturnBook(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	rec, err := h.svc.ReturnBook(c.Request.Context(), c.Param("book_id"), actor)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransitionResponse(rec))
}

// @Summary  返却を承認する（所有者のみ）
// @Tags     lending
// @Router   /books/borrow/return/approve/{book_id} [patch]
func (h *Handler) ApproveReturn(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	rec, err := h.svc.ApproveReturn(c.Request.Context(), c.Param("book_id"), actor)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransitionResponse(rec))
}

func (h *Handler) ToggleShareable(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	res, err := h.svc.ToggleShareable(c.Request.Context(), c.Param("book_id"), actor)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ToggleArchived(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	res, err := h.svc.ToggleArchived(c.Request.Context(), c.Param("book_id"), actor)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListBorrowed(c *gin.Context) {
	h.listFor(c, h.svc.ListActiveLoansFor)
}

func (h *Handler) ListReturned(c *gin.Context) {
	h.listFor(c, h.svc.ListLoansAwaitingApprovalFor)
}

func (h *Handler) ListBorrowHistory(c *gin.Context) {
	h.listFor(c, h.svc.ListBorrowHistory)
}

func (h *Handler) ListLendHistory(c *gin.Context) {
	h.listFor(c, h.svc.ListLendHistory)
}

type listFunc func(ctx context.Context, actorID string, p page.Request) (page.Response[LoanResponse], error)

func (h *Handler) listFor(c *gin.Context, fn listFunc) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	res, err := fn(c.Request.Context(), actor, pageRequest(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ExportLendHistory(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	enc, ok := ParseEncoding(c.Query("encoding"))
	if !ok {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, ReasonUnknownEncoding, "encoding must be utf8 or sjis"))
		return
	}

	charset := "utf-8"
	if enc == EncodingSJIS {
		charset = "Shift_JIS"
	}
	c.Header("Content-Type", "text/csv; charset="+charset)
	c.Header("Content-Disposition", `attachment; filename="lent_history.csv"`)
	c.Status(http.StatusOK)

	// ヘッダ送信後の失敗はステータスを変えられないのでログだけ
	if err := h.svc.ExportLendHistoryCSV(c.Request.Context(), actor, enc, c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func (h *Handler) GetRecord(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	res, err := h.svc.GetRecord(c.Request.Context(), c.Param("record_id"), actor)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ---------- helpers ----------

func actorOrAbort(c *gin.Context) (string, bool) {
	actor, ok := auth.ActorID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(CodeUnauthenticated, "", "unauthenticated"))
		return "", false
	}
	return actor, true
}

func pageRequest(c *gin.Context) page.Request {
	return page.Request{
		Number: parseIntDefault(c.Query("page"), 0),
		Size:   parseIntDefault(c.Query("size"), page.DefaultSize),
	}.Normalize()
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return d
	}
	return v
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Reason  Reason `json:"reason,omitempty"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, reason Reason, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Reason = reason
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	var api *APIError
	if errors.As(err, &api) {
		return errorBody(api.Code, api.Reason, api.Message)
	}
	return errorBody(CodeInternal, "", "internal error")
}

func writeErr(c *gin.Context, err error) {
	status := ToHTTPStatus(err)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", fmt.Sprint(retryAfterSeconds))
	}
	c.JSON(status, errorFromErr(err))
}

const retryAfterSeconds = 1
