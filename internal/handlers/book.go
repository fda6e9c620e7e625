package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/ebookstore/internal/middleware"
	"github.com/example/ebookstore/internal/models"
	"github.com/example/ebookstore/internal/services"
	"github.com/example/ebookstore/internal/utils"
)

// BookHandler manages the book catalog.
type BookHandler struct {
	db    *gorm.DB
	audit *services.AuditService
}

// NewBookHandler constructs BookHandler.
func NewBookHandler(db *gorm.DB, audit *services.AuditService) *BookHandler {
	return &BookHandler{db: db, audit: audit}
}

// ListBooks returns paginated books with search, filter and sort options.
// Unauthenticated callers only ever see active titles.
func (h *BookHandler) ListBooks(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Book{})

	search := strings.TrimSpace(c.Query("search"))
	if search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(keywords) LIKE ?", pattern, pattern, pattern)
	}

	if status := c.Query("status"); status != "" {
		parsed, err := models.ParseBookStatus(status)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		query = query.Where("status = ?", parsed)
	} else {
		query = query.Where("status = ?", models.BookActive)
	}

	if authorID := c.Query("author_id"); authorID != "" {
		id, err := uuid.Parse(authorID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid author_id")
		}
		query = query.Where("author_id = ?", id)
	}

	if categoryID := c.Query("category_id"); categoryID != "" {
		id, err := uuid.Parse(categoryID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid category_id")
		}
		query = query.Joins("JOIN book_categories ON book_categories.book_id = books.id").
			Where("book_categories.category_id = ?", id)
	}

	if c.Query("featured") == "true" {
		query = query.Where("is_featured = ?", true)
	}
	if c.Query("bestseller") == "true" {
		query = query.Where("is_bestseller = ?", true)
	}

	switch c.Query("sort") {
	case "price_asc":
		query = query.Order("price asc")
	case "price_desc":
		query = query.Order("price desc")
	case "rating":
		query = query.Order("rating desc")
	case "popular":
		query = query.Order("view_count desc")
	default:
		query = query.Order("created_at desc")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var books []models.Book
	if err := query.Preload("Author").Preload("Categories").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&books).Error; err != nil {
		return err
	}

	if search != "" {
		h.audit.LogEvent(services.Event{
			Type:        models.EventSearch,
			SearchQuery: search,
			Request:     requestInfo(c),
		})
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       books,
		"pagination": paginationEnvelope(pg, total),
	})
}

// GetBook returns a single book and counts the view.
func (h *BookHandler) GetBook(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var book models.Book
	if err := h.db.Preload("Author").Preload("Categories").
		First(&book, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "book not found")
		}
		return err
	}

	if err := h.db.Model(&book).
		Update("view_count", gorm.Expr("view_count + 1")).Error; err != nil {
		return err
	}

	h.audit.LogEvent(services.Event{
		Type:    models.EventBookView,
		BookID:  &book.ID,
		Request: requestInfo(c),
	})

	return c.JSON(fiber.Map{"success": true, "data": book})
}

type bookPayload struct {
	Title            string     `json:"title"`
	Slug             string     `json:"slug"`
	Description      string     `json:"description"`
	ShortDescription string     `json:"short_description"`
	Price            *float64   `json:"price"`
	SalePrice        *float64   `json:"sale_price"`
	IsOnSale         *bool      `json:"is_on_sale"`
	Pages            int        `json:"pages"`
	PublicationYear  int        `json:"publication_year"`
	ISBN             string     `json:"isbn"`
	Language         string     `json:"language"`
	CoverImageURL    string     `json:"cover_image_url"`
	FileURL          string     `json:"file_url"`
	PreviewURL       string     `json:"preview_url"`
	MetaTitle        string     `json:"meta_title"`
	MetaDescription  string     `json:"meta_description"`
	Keywords         string     `json:"keywords"`
	Status           string     `json:"status"`
	IsFeatured       *bool      `json:"is_featured"`
	IsBestseller     *bool      `json:"is_bestseller"`
	AuthorID         string     `json:"author_id"`
	CategoryIDs      []string   `json:"category_ids"`
}

// CreateBook persists a new book.
func (h *BookHandler) CreateBook(c *fiber.Ctx) error {
	var req bookPayload
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Slug) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title and slug are required")
	}
	if req.Price == nil || *req.Price < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "price is required")
	}

	book := models.Book{
		Title:            req.Title,
		Slug:             req.Slug,
		Description:      req.Description,
		ShortDescription: req.ShortDescription,
		Price:            *req.Price,
		Pages:            req.Pages,
		PublicationYear:  req.PublicationYear,
		ISBN:             req.ISBN,
		CoverImageURL:    req.CoverImageURL,
		FileURL:          req.FileURL,
		PreviewURL:       req.PreviewURL,
		MetaTitle:        req.MetaTitle,
		MetaDescription:  req.MetaDescription,
		Keywords:         req.Keywords,
		Status:           models.BookDraft,
	}

	if req.Language != "" {
		book.Language = req.Language
	}
	if req.SalePrice != nil {
		book.SalePrice = *req.SalePrice
	}
	if req.IsOnSale != nil {
		book.IsOnSale = *req.IsOnSale
	}
	if req.IsFeatured != nil {
		book.IsFeatured = *req.IsFeatured
	}
	if req.IsBestseller != nil {
		book.IsBestseller = *req.IsBestseller
	}

	if req.Status != "" {
		status, err := models.ParseBookStatus(req.Status)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		book.Status = status
	}
	if book.Status == models.BookActive {
		now := time.Now()
		book.PublishedAt = &now
	}

	if req.AuthorID != "" {
		authorID, err := uuid.Parse(req.AuthorID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid author_id")
		}
		book.AuthorID = &authorID
	}

	categories, err := h.resolveCategories(req.CategoryIDs)
	if err != nil {
		return err
	}
	book.Categories = categories

	if err := h.db.Create(&book).Error; err != nil {
		return err
	}

	if user, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&user.ID, "create_book", "book", book.ID.String(), nil, book, requestInfo(c))
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": book})
}

// UpdateBook updates an existing book.
func (h *BookHandler) UpdateBook(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var book models.Book
	if err := h.db.First(&book, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "book not found")
		}
		return err
	}

	old := book

	var req bookPayload
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]any{}
	if req.Title != "" {
		updates["title"] = req.Title
	}
	if req.Slug != "" {
		updates["slug"] = req.Slug
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.ShortDescription != "" {
		updates["short_description"] = req.ShortDescription
	}
	if req.Price != nil {
		updates["price"] = *req.Price
	}
	if req.SalePrice != nil {
		updates["sale_price"] = *req.SalePrice
	}
	if req.IsOnSale != nil {
		updates["is_on_sale"] = *req.IsOnSale
	}
	if req.Pages > 0 {
		updates["pages"] = req.Pages
	}
	if req.PublicationYear > 0 {
		updates["publication_year"] = req.PublicationYear
	}
	if req.ISBN != "" {
		updates["isbn"] = req.ISBN
	}
	if req.Language != "" {
		updates["language"] = req.Language
	}
	if req.CoverImageURL != "" {
		updates["cover_image_url"] = req.CoverImageURL
	}
	if req.FileURL != "" {
		updates["file_url"] = req.FileURL
	}
	if req.PreviewURL != "" {
		updates["preview_url"] = req.PreviewURL
	}
	if req.MetaTitle != "" {
		updates["meta_title"] = req.MetaTitle
	}
	if req.MetaDescription != "" {
		updates["meta_description"] = req.MetaDescription
	}
	if req.Keywords != "" {
		updates["keywords"] = req.Keywords
	}
	if req.IsFeatured != nil {
		updates["is_featured"] = *req.IsFeatured
	}
	if req.IsBestseller != nil {
		updates["is_bestseller"] = *req.IsBestseller
	}

	if req.Status != "" {
		status, err := models.ParseBookStatus(req.Status)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		updates["status"] = status
		if status == models.BookActive && book.PublishedAt == nil {
			now := time.Now()
			updates["published_at"] = &now
		}
	}

	if req.AuthorID != "" {
		authorID, err := uuid.Parse(req.AuthorID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid author_id")
		}
		updates["author_id"] = authorID
	}

	if len(updates) > 0 {
		if err := h.db.Model(&book).Updates(updates).Error; err != nil {
			return err
		}
	}

	if req.CategoryIDs != nil {
		categories, err := h.resolveCategories(req.CategoryIDs)
		if err != nil {
			return err
		}
		if err := h.db.Model(&book).Association("Categories").Replace(categories); err != nil {
			return err
		}
	}

	if user, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&user.ID, "update_book", "book", book.ID.String(), old, book, requestInfo(c))
	}

	return c.JSON(fiber.Map{"success": true, "data": book})
}

// DeleteBook removes a book from the catalog. Historical order items keep
// their denormalized title and price snapshots.
func (h *BookHandler) DeleteBook(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	if err := h.db.Delete(&models.Book{}, "id = ?", id).Error; err != nil {
		return err
	}

	if user, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&user.ID, "delete_book", "book", id.String(), nil, nil, requestInfo(c))
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// BookStats returns catalog-level aggregates for the admin dashboard.
func (h *BookHandler) BookStats(c *fiber.Ctx) error {
	var total, active, draft, featured int64
	if err := h.db.Model(&models.Book{}).Count(&total).Error; err != nil {
		return err
	}
	if err := h.db.Model(&models.Book{}).Where("status = ?", models.BookActive).Count(&active).Error; err != nil {
		return err
	}
	if err := h.db.Model(&models.Book{}).Where("status = ?", models.BookDraft).Count(&draft).Error; err != nil {
		return err
	}
	if err := h.db.Model(&models.Book{}).Where("is_featured = ?", true).Count(&featured).Error; err != nil {
		return err
	}

	var totals struct {
		Views     int64
		Downloads int64
	}
	if err := h.db.Model(&models.Book{}).
		Select("COALESCE(SUM(view_count),0) as views, COALESCE(SUM(download_count),0) as downloads").
		Scan(&totals).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_books":     total,
			"active_books":    active,
			"draft_books":     draft,
			"featured_books":  featured,
			"total_views":     totals.Views,
			"total_downloads": totals.Downloads,
		},
	})
}

func (h *BookHandler) resolveCategories(ids []string) ([]models.Category, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	parsed := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "invalid category id")
		}
		parsed = append(parsed, id)
	}

	var categories []models.Category
	if err := h.db.Where("id IN ?", parsed).Find(&categories).Error; err != nil {
		return nil, err
	}
	if len(categories) != len(parsed) {
		return nil, fiber.NewError(fiber.StatusBadRequest, "unknown category id")
	}

	return categories, nil
}
