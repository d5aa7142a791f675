package books

import "time"

type CreateBookRequest struct {
	Title      string  `json:"title" binding:"required"`
	AuthorName string  `json:"author_name" binding:"required"`
	ISBN       string  `json:"isbn" binding:"required"`
	Synopsis   *string `json:"synopsis,omitempty"`
	Shareable  bool    `json:"shareable"`
}

type BookResponse struct {
	ID         string    `json:"book_id"`
	Title      string    `json:"title"`
	AuthorName string    `json:"author_name"`
	ISBN       string    `json:"isbn"`
	Synopsis   string    `json:"synopsis,omitempty"`
	OwnerID    string    `json:"owner_id"`
	HasCover   bool      `json:"has_cover"`
	Shareable  bool      `json:"shareable"`
	Archived   bool      `json:"archived"`
	CreatedAt  time.Time `json:"created_at"`
}

func toResponse(b Book) BookResponse {
	return BookResponse{
		ID:         b.ID,
		Title:      b.Title,
		AuthorName: b.AuthorName,
		ISBN:       b.ISBN,
		Synopsis:   b.Synopsis.String,
		OwnerID:    b.OwnerID,
		HasCover:   b.Cover.Valid && b.Cover.String != "",
		Shareable:  b.Shareable,
		Archived:   b.Archived,
		CreatedAt:  b.CreatedAt,
	}
}
