package books

import (
	"database/sql"
	"time"
)

// Book は books テーブルの1行
type Book struct {
	ID         string         `db:"book_id"`
	Title      string         `db:"title"`
	AuthorName string         `db:"author_name"`
	ISBN       string         `db:"isbn"`
	Synopsis   sql.NullString `db:"synopsis"`
	OwnerID    string         `db:"owner_id"`
	Cover      sql.NullString `db:"cover"` // storage の相対パス
	Shareable  bool           `db:"shareable"`
	Archived   bool           `db:"archived"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

// Displayable: 他人の一覧に出してよいか
func (b Book) Displayable(viewerID string) bool {
	return b.Shareable && !b.Archived && b.OwnerID != viewerID
}
