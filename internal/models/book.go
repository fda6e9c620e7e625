package models

import (
	"time"

	"github.com/google/uuid"
)

// Book is a catalog entry for a downloadable title.
type Book struct {
	BaseModel
	Title            string `json:"title"`
	Slug             string `gorm:"uniqueIndex" json:"slug"`
	Description      string `json:"description"`
	ShortDescription string `json:"short_description"`

	Price     float64 `json:"price"`
	SalePrice float64 `json:"sale_price"`
	IsOnSale  bool    `json:"is_on_sale"`

	Pages           int    `json:"pages"`
	PublicationYear int    `json:"publication_year"`
	ISBN            string `gorm:"index" json:"isbn"`
	Language        string `gorm:"default:English" json:"language"`

	CoverImageURL string `json:"cover_image_url"`
	FileURL       string `json:"file_url"`
	PreviewURL    string `json:"preview_url"`

	MetaTitle       string `json:"meta_title"`
	MetaDescription string `json:"meta_description"`
	Keywords        string `json:"keywords"`

	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`

	Status       BookStatus `gorm:"default:draft" json:"status"`
	IsFeatured   bool       `json:"is_featured"`
	IsBestseller bool       `json:"is_bestseller"`

	ViewCount     int `json:"view_count"`
	DownloadCount int `json:"download_count"`

	PublishedAt *time.Time `json:"published_at"`

	AuthorID   *uuid.UUID `gorm:"type:uuid" json:"author_id"`
	Author     *Author    `json:"author,omitempty"`
	Categories []Category `gorm:"many2many:book_categories;" json:"categories,omitempty"`
}

// CurrentPrice returns the sale price while a sale is running, otherwise
// the list price. Order items snapshot this value at creation time.
func (b *Book) CurrentPrice() float64 {
	if b.IsOnSale && b.SalePrice > 0 {
		return b.SalePrice
	}
	return b.Price
}

// Purchasable reports whether the book may be added to new orders.
func (b *Book) Purchasable() bool {
	return b.Status == BookActive
}
