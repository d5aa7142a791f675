package lending

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"BookNet-backend/internal/platform/auth"
	"BookNet-backend/internal/platform/keylock"
	"BookNet-backend/internal/platform/page"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// X-Test-User を認証済み利用者として扱う
func fakeAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if u := c.GetHeader("X-Test-User"); u != "" {
			c.Set(auth.CtxUserIDKey, u)
		}
		c.Next()
	}
}

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1", fakeAuth())
	RegisterRoutes(api, svc)
	return r
}

func do(r http.Handler, method, path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) errorDTO {
	t.Helper()
	var e errorDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestHandler_LendingFlow(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f.svc)

	w := do(r, http.MethodPost, "/api/v1/books/borrow/b1", bob)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tr TransitionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tr))
	assert.Equal(t, StateActive, tr.State)
	assert.Equal(t, "/api/v1/loans/"+tr.RecordID, w.Header().Get("Location"))

	w = do(r, http.MethodPost, "/api/v1/books/borrow/b1", alice)
	assert.Equal(t, http.StatusForbidden, w.Code)
	e := decodeErr(t, w)
	assert.Equal(t, CodeForbidden, e.Error.Code)
	assert.Equal(t, ReasonOwnBook, e.Error.Reason)

	w = do(r, http.MethodPost, "/api/v1/books/borrow/b1", carol)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ReasonAlreadyBorrowed, decodeErr(t, w).Error.Reason)

	w = do(r, http.MethodGet, "/api/v1/books/borrowed", bob)
	require.Equal(t, http.StatusOK, w.Code)
	var borrowed page.Response[LoanResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &borrowed))
	require.Len(t, borrowed.Content, 1)
	assert.Equal(t, tr.RecordID, borrowed.Content[0].RecordID)

	w = do(r, http.MethodPatch, "/api/v1/books/borrow/return/b1", bob)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/v1/books/returned", alice)
	require.Equal(t, http.StatusOK, w.Code)
	var returned page.Response[LoanResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &returned))
	require.Len(t, returned.Content, 1)
	assert.True(t, returned.Content[0].Returned)

	w = do(r, http.MethodPatch, "/api/v1/books/borrow/return/approve/b1", bob)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPatch, "/api/v1/books/borrow/return/approve/b1", alice)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tr))
	assert.Equal(t, StateApproved, tr.State)

	w = do(r, http.MethodPatch, "/api/v1/books/borrow/return/approve/b1", alice)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ReasonNotYetReturned, decodeErr(t, w).Error.Reason)

	w = do(r, http.MethodGet, "/api/v1/loans/"+tr.RecordID, carol)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(r, http.MethodGet, "/api/v1/loans/"+tr.RecordID, bob)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_ErrorsAndAuth(t *testing.T) {
	locks := keylock.New()
	f := newFixture(t, WithLocker(locks), WithLockTimeout(10*time.Millisecond))
	r := newTestRouter(f.svc)

	w := do(r, http.MethodPost, "/api/v1/books/borrow/b1", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/v1/books/borrow/missing", bob)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ReasonBookNotFound, decodeErr(t, w).Error.Reason)

	unlock, err := locks.Lock(context.Background(), "b1", 0)
	require.NoError(t, err)
	w = do(r, http.MethodPost, "/api/v1/books/borrow/b1", bob)
	unlock()
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, CodeTimeout, decodeErr(t, w).Error.Code)

	w = do(r, http.MethodPatch, "/api/v1/books/shareable/b1", bob)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodPatch, "/api/v1/books/archived/b1", alice)
	require.Equal(t, http.StatusOK, w.Code)
	var tg ToggleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tg))
	assert.True(t, tg.Archived)

	w = do(r, http.MethodGet, "/api/v1/books/lent/history/export?encoding=ebcdic", alice)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ExportShiftJIS(t *testing.T) {
	f := newFixture(t)
	f.books.books["b1"] = Book{ID: "b1", OwnerID: alice, Title: "吾輩は猫である", AuthorName: "夏目漱石", ISBN: "9784101010014", Shareable: true}
	r := newTestRouter(f.svc)

	_, err := f.svc.Borrow(context.Background(), "b1", bob)
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/api/v1/books/lent/history/export?encoding=sjis", alice)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=Shift_JIS", w.Header().Get("Content-Type"))

	utf8, err := io.ReadAll(transform.NewReader(bytes.NewReader(w.Body.Bytes()), japanese.ShiftJIS.NewDecoder()))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(utf8)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "record_id,book_id,title"))
	assert.Contains(t, lines[1], "吾輩は猫である")
	assert.Contains(t, lines[1], "夏目漱石")
	assert.Contains(t, lines[1], ",ACTIVE,")
}

func TestExport_UTF8HasBOM(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Borrow(ctx, "b1", bob)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportLendHistoryCSV(ctx, alice, EncodingUTF8, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte{0xEF, 0xBB, 0xBF}))
	assert.Contains(t, buf.String(), "title-b1")

	enc, ok := ParseEncoding("CP932")
	assert.True(t, ok)
	assert.Equal(t, EncodingSJIS, enc)
	_, ok = ParseEncoding("latin1")
	assert.False(t, ok)
}

func TestHandler_HugePageIsEmpty(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f.svc)

	w := do(r, http.MethodPost, "/api/v1/books/borrow/b1", bob)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodGet, "/api/v1/books/borrowed/history?page=4611686018427387905", bob)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res page.Response[LoanResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Empty(t, res.Content)
	assert.Equal(t, int64(1), res.TotalElements)
	assert.True(t, res.Last)
}
