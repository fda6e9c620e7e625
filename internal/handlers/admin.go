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

// AdminHandler covers user administration, dashboard analytics, audit
// log browsing and system settings.
type AdminHandler struct {
	db    *gorm.DB
	audit *services.AuditService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(db *gorm.DB, audit *services.AuditService) *AdminHandler {
	return &AdminHandler{db: db, audit: audit}
}

// ListUsers returns paginated user accounts with search and role filters.
func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.User{})

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?", pattern, pattern, pattern)
	}
	if role := c.Query("role"); role != "" {
		parsed, err := models.ParseUserRole(role)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		query = query.Where("role = ?", parsed)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var users []models.User
	if err := query.Limit(pg.Limit).Offset(pg.Offset).Order("created_at desc").
		Find(&users).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       users,
		"pagination": paginationEnvelope(pg, total),
	})
}

// GetUser returns one user account.
func (h *AdminHandler) GetUser(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var user models.User
	if err := h.db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": user})
}

type adminUserRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
	Role      string `json:"role"`
}

// CreateUser lets an admin provision an account with an explicit role.
func (h *AdminHandler) CreateUser(c *fiber.Ctx) error {
	var req adminUserRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" || req.FirstName == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing required fields")
	}
	if len(req.Password) < 8 {
		return fiber.NewError(fiber.StatusBadRequest, "password must be at least 8 characters")
	}

	role := models.RoleCustomer
	if req.Role != "" {
		parsed, err := models.ParseUserRole(req.Role)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		role = parsed
	}

	var existing models.User
	if err := h.db.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		return fiber.NewError(fiber.StatusConflict, "user already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to hash password")
	}

	user := models.User{
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     true,
	}
	if err := h.db.Create(&user).Error; err != nil {
		return err
	}

	if admin, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&admin.ID, "create_user", "user", user.ID.String(), nil, user, requestInfo(c))
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": user})
}

// UpdateUser updates profile fields and role on an account.
func (h *AdminHandler) UpdateUser(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var user models.User
	if err := h.db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return err
	}

	old := user

	var req adminUserRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]any{}
	if req.FirstName != "" {
		updates["first_name"] = req.FirstName
	}
	if req.LastName != "" {
		updates["last_name"] = req.LastName
	}
	if req.Role != "" {
		role, err := models.ParseUserRole(req.Role)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		updates["role"] = role
	}

	if len(updates) > 0 {
		if err := h.db.Model(&user).Updates(updates).Error; err != nil {
			return err
		}
	}

	if admin, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&admin.ID, "update_user", "user", user.ID.String(), old, user, requestInfo(c))
	}

	return c.JSON(fiber.Map{"success": true, "data": user})
}

// ToggleUserStatus activates or deactivates an account. Admins cannot
// deactivate themselves.
func (h *AdminHandler) ToggleUserStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	admin, ok := middleware.GetCurrentUser(c)
	if ok && admin.ID == id {
		return fiber.NewError(fiber.StatusBadRequest, "cannot change your own status")
	}

	var user models.User
	if err := h.db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return err
	}

	if err := h.db.Model(&user).Update("is_active", !user.IsActive).Error; err != nil {
		return err
	}

	if ok {
		h.audit.LogAction(&admin.ID, "toggle_user_status", "user", user.ID.String(), nil, fiber.Map{
			"is_active": user.IsActive,
		}, requestInfo(c))
	}

	return c.JSON(fiber.Map{"success": true, "data": user})
}

// Dashboard returns the aggregates the admin landing page renders.
func (h *AdminHandler) Dashboard(c *fiber.Ctx) error {
	var userCount, bookCount, orderCount int64
	if err := h.db.Model(&models.User{}).Count(&userCount).Error; err != nil {
		return err
	}
	if err := h.db.Model(&models.Book{}).Count(&bookCount).Error; err != nil {
		return err
	}
	if err := h.db.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		return err
	}

	var revenue struct {
		Total float64
	}
	if err := h.db.Model(&models.Order{}).
		Where("payment_status = ?", models.PaymentCompleted).
		Select("COALESCE(SUM(total_amount),0) as total").
		Scan(&revenue).Error; err != nil {
		return err
	}

	since := time.Now().AddDate(0, 0, -30)

	var recentOrders int64
	if err := h.db.Model(&models.Order{}).
		Where("created_at >= ?", since).Count(&recentOrders).Error; err != nil {
		return err
	}

	var recentRevenue struct {
		Total float64
	}
	if err := h.db.Model(&models.Order{}).
		Where("payment_status = ? AND created_at >= ?", models.PaymentCompleted, since).
		Select("COALESCE(SUM(total_amount),0) as total").
		Scan(&recentRevenue).Error; err != nil {
		return err
	}

	var topBooks []struct {
		BookID    uuid.UUID `json:"book_id"`
		BookTitle string    `json:"book_title"`
		Sold      int64     `json:"sold"`
	}
	if err := h.db.Model(&models.OrderItem{}).
		Select("order_items.book_id, order_items.book_title, SUM(order_items.quantity) as sold").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.payment_status = ?", models.PaymentCompleted).
		Group("order_items.book_id, order_items.book_title").
		Order("sold desc").
		Limit(5).
		Scan(&topBooks).Error; err != nil {
		return err
	}

	var latest []models.Order
	if err := h.db.Order("created_at desc").Limit(10).Find(&latest).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_users":   userCount,
			"total_books":   bookCount,
			"total_orders":  orderCount,
			"total_revenue": revenue.Total,
			"orders_30d":    recentOrders,
			"revenue_30d":   recentRevenue.Total,
			"top_books":     topBooks,
			"recent_orders": latest,
		},
	})
}

// ListAnalyticsEvents returns raw analytics events, newest first.
func (h *AdminHandler) ListAnalyticsEvents(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.AnalyticsEvent{})

	if eventType := c.Query("event_type"); eventType != "" {
		parsed, err := models.ParseEventType(eventType)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		query = query.Where("event_type = ?", parsed)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var events []models.AnalyticsEvent
	if err := query.Limit(pg.Limit).Offset(pg.Offset).Order("created_at desc").
		Find(&events).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       events,
		"pagination": paginationEnvelope(pg, total),
	})
}

// ListAuditLogs returns the audit trail, newest first.
func (h *AdminHandler) ListAuditLogs(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.AuditLog{})

	if action := c.Query("action"); action != "" {
		query = query.Where("action = ?", action)
	}
	if resourceType := c.Query("resource_type"); resourceType != "" {
		query = query.Where("resource_type = ?", resourceType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var logs []models.AuditLog
	if err := query.Preload("User").
		Limit(pg.Limit).Offset(pg.Offset).Order("created_at desc").
		Find(&logs).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       logs,
		"pagination": paginationEnvelope(pg, total),
	})
}

// ListSettings returns all system settings.
func (h *AdminHandler) ListSettings(c *fiber.Ctx) error {
	var settings []models.SystemSetting
	if err := h.db.Order("key asc").Find(&settings).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": settings})
}

type upsertSettingRequest struct {
	Value       string `json:"value"`
	Description string `json:"description"`
	SettingType string `json:"setting_type"`
}

// UpsertSetting creates or updates one setting by key.
func (h *AdminHandler) UpsertSetting(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Params("key"))
	if key == "" {
		return fiber.NewError(fiber.StatusBadRequest, "setting key is required")
	}

	var req upsertSettingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	var setting models.SystemSetting
	err := h.db.First(&setting, "key = ?", key).Error
	switch {
	case err == nil:
		old := setting
		updates := map[string]any{"value": req.Value}
		if req.Description != "" {
			updates["description"] = req.Description
		}
		if req.SettingType != "" {
			updates["setting_type"] = req.SettingType
		}
		if err := h.db.Model(&setting).Updates(updates).Error; err != nil {
			return err
		}
		if admin, ok := middleware.GetCurrentUser(c); ok {
			h.audit.LogAction(&admin.ID, "update_setting", "setting", key, old, setting, requestInfo(c))
		}
		return c.JSON(fiber.Map{"success": true, "data": setting})

	case errors.Is(err, gorm.ErrRecordNotFound):
		setting = models.SystemSetting{
			Key:         key,
			Value:       req.Value,
			Description: req.Description,
			SettingType: req.SettingType,
		}
		if setting.SettingType == "" {
			setting.SettingType = "string"
		}
		if err := h.db.Create(&setting).Error; err != nil {
			return err
		}
		if admin, ok := middleware.GetCurrentUser(c); ok {
			h.audit.LogAction(&admin.ID, "create_setting", "setting", key, nil, setting, requestInfo(c))
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": setting})

	default:
		return err
	}
}
