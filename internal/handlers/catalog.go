package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/ebookstore/internal/middleware"
	"github.com/example/ebookstore/internal/models"
	"github.com/example/ebookstore/internal/services"
	"github.com/example/ebookstore/internal/utils"
)

// CatalogHandler manages authors and categories.
type CatalogHandler struct {
	db    *gorm.DB
	audit *services.AuditService
}

// NewCatalogHandler constructs CatalogHandler.
func NewCatalogHandler(db *gorm.DB, audit *services.AuditService) *CatalogHandler {
	return &CatalogHandler{db: db, audit: audit}
}

// ListAuthors returns paginated authors, optionally filtered by name.
func (h *CatalogHandler) ListAuthors(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Author{})

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		query = query.Where("name ILIKE ?", "%"+search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var authors []models.Author
	if err := query.Limit(pg.Limit).Offset(pg.Offset).Order("name asc").
		Find(&authors).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       authors,
		"pagination": paginationEnvelope(pg, total),
	})
}

// GetAuthor returns a single author with their books.
func (h *CatalogHandler) GetAuthor(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var author models.Author
	if err := h.db.Preload("Books").First(&author, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "author not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": author})
}

// CreateAuthor persists a new author.
func (h *CatalogHandler) CreateAuthor(c *fiber.Ctx) error {
	var payload models.Author
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(payload.Name) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "author name is required")
	}

	if err := h.db.Create(&payload).Error; err != nil {
		return err
	}

	if user, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&user.ID, "create_author", "author", payload.ID.String(), nil, payload, requestInfo(c))
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": payload})
}

// UpdateAuthor updates an existing author.
func (h *CatalogHandler) UpdateAuthor(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var author models.Author
	if err := h.db.First(&author, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "author not found")
		}
		return err
	}

	old := author

	var payload models.Author
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	payload.ID = author.ID
	if err := h.db.Model(&author).Updates(payload).Error; err != nil {
		return err
	}

	if user, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&user.ID, "update_author", "author", author.ID.String(), old, author, requestInfo(c))
	}

	return c.JSON(fiber.Map{"success": true, "data": author})
}

// DeleteAuthor removes an author; their books keep a dangling reference
// cleared here to preserve historical order snapshots.
func (h *CatalogHandler) DeleteAuthor(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Book{}).Where("author_id = ?", id).
			Update("author_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Author{}, "id = ?", id).Error
	})
	if err != nil {
		return err
	}

	if user, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&user.ID, "delete_author", "author", id.String(), nil, nil, requestInfo(c))
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// AuthorStats returns per-author catalog aggregates.
func (h *CatalogHandler) AuthorStats(c *fiber.Ctx) error {
	var total int64
	if err := h.db.Model(&models.Author{}).Count(&total).Error; err != nil {
		return err
	}

	var topAuthors []struct {
		AuthorID uuid.UUID `json:"author_id"`
		Name     string    `json:"name"`
		Books    int64     `json:"books"`
	}
	if err := h.db.Model(&models.Book{}).
		Select("books.author_id, authors.name, COUNT(books.id) as books").
		Joins("JOIN authors ON authors.id = books.author_id").
		Group("books.author_id, authors.name").
		Order("books desc").
		Limit(5).
		Scan(&topAuthors).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_authors": total,
			"top_authors":   topAuthors,
		},
	})
}

// ListCategories returns paginated categories.
func (h *CatalogHandler) ListCategories(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Category{})

	if c.Query("active") == "true" {
		query = query.Where("is_active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var categories []models.Category
	if err := query.Limit(pg.Limit).Offset(pg.Offset).Order("name asc").
		Find(&categories).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       categories,
		"pagination": paginationEnvelope(pg, total),
	})
}

// GetCategory returns a single category by ID.
func (h *CatalogHandler) GetCategory(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var category models.Category
	if err := h.db.First(&category, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "category not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": category})
}

// GetCategoryBySlug returns a single category by slug.
func (h *CatalogHandler) GetCategoryBySlug(c *fiber.Ctx) error {
	var category models.Category
	if err := h.db.First(&category, "slug = ?", c.Params("slug")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "category not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": category})
}

// CreateCategory persists a new category.
func (h *CatalogHandler) CreateCategory(c *fiber.Ctx) error {
	var payload models.Category
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(payload.Name) == "" || strings.TrimSpace(payload.Slug) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name and slug are required")
	}

	if err := h.db.Create(&payload).Error; err != nil {
		return err
	}

	if user, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&user.ID, "create_category", "category", payload.ID.String(), nil, payload, requestInfo(c))
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": payload})
}

// UpdateCategory updates an existing category.
func (h *CatalogHandler) UpdateCategory(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var category models.Category
	if err := h.db.First(&category, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "category not found")
		}
		return err
	}

	old := category

	var payload models.Category
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	payload.ID = category.ID
	if err := h.db.Model(&category).Updates(payload).Error; err != nil {
		return err
	}

	if user, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&user.ID, "update_category", "category", category.ID.String(), old, category, requestInfo(c))
	}

	return c.JSON(fiber.Map{"success": true, "data": category})
}

// ToggleCategoryStatus flips a category's visibility.
func (h *CatalogHandler) ToggleCategoryStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var category models.Category
	if err := h.db.First(&category, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "category not found")
		}
		return err
	}

	if err := h.db.Model(&category).Update("is_active", !category.IsActive).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": category})
}

// DeleteCategory removes a category by ID.
func (h *CatalogHandler) DeleteCategory(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	if err := h.db.Delete(&models.Category{}, "id = ?", id).Error; err != nil {
		return err
	}

	if user, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&user.ID, "delete_category", "category", id.String(), nil, nil, requestInfo(c))
	}

	return c.SendStatus(fiber.StatusNoContent)
}
