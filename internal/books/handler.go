package books

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"BookNet-backend/internal/platform/auth"
	"BookNet-backend/internal/platform/page"

	"github.com/gin-gonic/gin"
)

const maxCoverForm = 6 << 20

type Handler struct{ svc *Service }

// RegisterRoutes は認証済みグループに載せること
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.POST("/books", h.Save)
	r.GET("/books", h.ListDisplayable) // 借りられる本
	r.GET("/books/owner", h.ListByOwner)
	r.GET("/books/:book_id", h.FindByID)

	r.POST("/books/cover/:book_id", h.UploadCover)
	r.GET("/books/cover/:book_id", h.GetCover)
}

// ---------- handlers ----------

func (h *Handler) Save(c *gin.Context) {
	actor, ok := auth.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody(CodeUnauthenticated, "unauthenticated"))
		return
	}
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.Save(c.Request.Context(), actor, req)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Header("Location", "/api/v1/books/"+res.ID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) FindByID(c *gin.Context) {
	res, err := h.svc.FindByID(c.Request.Context(), c.Param("book_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListDisplayable(c *gin.Context) {
	actor, _ := auth.ActorID(c)
	res, err := h.svc.ListDisplayable(c.Request.Context(), actor, pageRequest(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListByOwner(c *gin.Context) {
	actor, ok := auth.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody(CodeUnauthenticated, "unauthenticated"))
		return
	}
	res, err := h.svc.ListByOwner(c.Request.Context(), actor, pageRequest(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// multipart の "file" を受け取る
func (h *Handler) UploadCover(c *gin.Context) {
	actor, ok := auth.ActorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody(CodeUnauthenticated, "unauthenticated"))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCoverForm)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "file is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "cannot read file"))
		return
	}
	defer f.Close()

	res, err := h.svc.UploadCover(c.Request.Context(), c.Param("book_id"), actor, fh.Filename, f)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetCover(c *gin.Context) {
	rc, ctype, err := h.svc.OpenCover(c.Request.Context(), c.Param("book_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	defer rc.Close()
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	c.Header("Content-Type", ctype)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}

// ---------- helpers ----------

func pageRequest(c *gin.Context) page.Request {
	return page.Request{
		Number: atoiDef(c.Query("page"), 0),
		Size:   atoiDef(c.Query("size"), page.DefaultSize),
	}.Normalize()
}

func atoiDef(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func writeErr(c *gin.Context, err error) {
	status := ToHTTPStatus(err)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.JSON(status, errorFromErr(err))
}

func errorFromErr(err error) errorDTO {
	var api *APIError
	if errors.As(err, &api) {
		return errorBody(api.Code, api.Message)
	}
	return errorBody(CodeInternal, "internal error")
}
