package lending

import (
	"context"
	"encoding/csv"
	"io"
	"strings"
	"time"

	"BookNet-backend/internal/platform/page"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type Encoding string

const (
	EncodingUTF8 Encoding = "utf8" // BOM 付き。Excel でそのまま開ける
	EncodingSJIS Encoding = "sjis" // Windows の「ANSI（CP932）」相当
)

func ParseEncoding(s string) (Encoding, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf8", "utf-8":
		return EncodingUTF8, true
	case "sjis", "shift_jis", "cp932":
		return EncodingSJIS, true
	}
	return "", false
}

var exportHeader = []string{"record_id", "book_id", "title", "author_name", "isbn", "borrower_id", "state", "borrowed_at", "returned_at", "approved_at"}

// ExportLendHistoryCSV は所有者の貸出履歴を全件 CSV で書き出す
func (s *Service) ExportLendHistoryCSV(ctx context.Context, ownerID string, enc Encoding, w io.Writer) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrInvalid(ReasonMissingID, "actor id required")
	}

	var tw *transform.Writer
	switch enc {
	case EncodingSJIS:
		tw = transform.NewWriter(w, japanese.ShiftJIS.NewEncoder())
	default:
		tw = transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	}
	cw := csv.NewWriter(tw)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}

	p := page.Request{Number: 0, Size: page.MaxSize}
	for {
		res, err := s.ListLendHistory(ctx, ownerID, p)
		if err != nil {
			return err
		}
		for _, l := range res.Content {
			if err := cw.Write(loanRow(l)); err != nil {
				return err
			}
		}
		if res.Last || len(res.Content) == 0 {
			break
		}
		p.Number++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return tw.Close()
}

func loanRow(l LoanResponse) []string {
	return []string{
		l.RecordID, l.BookID, l.Title, l.AuthorName, l.ISBN, l.BorrowerID, string(l.State),
		formatTime(&l.BorrowedAt), formatTime(l.ReturnedAt), formatTime(l.ApprovedAt),
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
