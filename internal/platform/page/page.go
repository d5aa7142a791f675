// Package page はページング付き一覧レスポンスの共通形
package page

import "math"

const (
	DefaultSize = 10
	MaxSize     = 100
)

// Request: 0 始まりのページ番号とページサイズ
type Request struct {
	Number int
	Size   int
}

func (r Request) Normalize() Request {
	if r.Number < 0 {
		r.Number = 0
	}
	if r.Size <= 0 {
		r.Size = DefaultSize
	}
	if r.Size > MaxSize {
		r.Size = MaxSize
	}
	// Offset と Number+1 が溢れない範囲に収める
	if limit := math.MaxInt/r.Size - 1; r.Number > limit {
		r.Number = limit
	}
	return r
}

func (r Request) Offset() int { return r.Number * r.Size }
func (r Request) Limit() int  { return r.Size }

type Response[T any] struct {
	Content       []T   `json:"content"`
	Number        int   `json:"number"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"total_elements"`
	TotalPages    int   `json:"total_pages"`
	First         bool  `json:"first"`
	Last          bool  `json:"last"`
}

func New[T any](items []T, req Request, total int64) Response[T] {
	req = req.Normalize()
	if items == nil {
		items = []T{}
	}
	totalPages := int((total + int64(req.Size) - 1) / int64(req.Size))
	return Response[T]{
		Content:       items,
		Number:        req.Number,
		Size:          req.Size,
		TotalElements: total,
		TotalPages:    totalPages,
		First:         req.Number == 0,
		Last:          req.Number+1 >= totalPages,
	}
}

// Map は Content だけ変換してメタ情報はそのまま引き継ぐ
func Map[T, U any](in Response[T], fn func(T) U) Response[U] {
	out := make([]U, 0, len(in.Content))
	for _, v := range in.Content {
		out = append(out, fn(v))
	}
	return Response[U]{
		Content:       out,
		Number:        in.Number,
		Size:          in.Size,
		TotalElements: in.TotalElements,
		TotalPages:    in.TotalPages,
		First:         in.First,
		Last:          in.Last,
	}
}
