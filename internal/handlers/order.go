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

// OrderHandler exposes checkout, order history and download endpoints.
type OrderHandler struct {
	db     *gorm.DB
	orders *services.OrderService
	audit  *services.AuditService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(db *gorm.DB, orders *services.OrderService, audit *services.AuditService) *OrderHandler {
	return &OrderHandler{db: db, orders: orders, audit: audit}
}

type createOrderRequest struct {
	Items []struct {
		BookID   string `json:"book_id"`
		Quantity int    `json:"quantity"`
	} `json:"items"`
	Currency          string `json:"currency"`
	Notes             string `json:"notes"`
	BillingAddress    string `json:"billing_address"`
	BillingCity       string `json:"billing_city"`
	BillingState      string `json:"billing_state"`
	BillingCountry    string `json:"billing_country"`
	BillingPostalCode string `json:"billing_postal_code"`
}

// CreateOrder places a new pending order for the authenticated customer.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	input := services.CreateOrderInput{
		Currency:          req.Currency,
		Notes:             req.Notes,
		BillingAddress:    req.BillingAddress,
		BillingCity:       req.BillingCity,
		BillingState:      req.BillingState,
		BillingCountry:    req.BillingCountry,
		BillingPostalCode: req.BillingPostalCode,
	}
	for _, item := range req.Items {
		bookID, err := uuid.Parse(item.BookID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid book_id")
		}
		input.Items = append(input.Items, services.OrderItemInput{
			BookID:   bookID,
			Quantity: item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(c.Context(), user, input)
	if err != nil {
		return domainError(err)
	}

	h.audit.LogEvent(services.Event{
		Type:    models.EventPurchase,
		UserID:  &user.ID,
		OrderID: &order.ID,
		Metadata: fiber.Map{
			"order_number": order.OrderNumber,
			"total_amount": order.TotalAmount,
		},
		Request: requestInfo(c),
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": order})
}

// ListMyOrders returns the authenticated customer's order history.
func (h *OrderHandler) ListMyOrders(c *fiber.Ctx) error {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Order{}).Where("customer_id = ?", user.ID)

	if status := c.Query("status"); status != "" {
		parsed, err := models.ParseOrderStatus(status)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		query = query.Where("status = ?", parsed)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var orders []models.Order
	if err := query.Preload("Items").
		Limit(pg.Limit).Offset(pg.Offset).Order("created_at desc").
		Find(&orders).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       orders,
		"pagination": paginationEnvelope(pg, total),
	})
}

// GetMyOrder returns one of the customer's own orders with items and
// payment history.
func (h *OrderHandler) GetMyOrder(c *fiber.Ctx) error {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var order models.Order
	if err := h.db.Preload("Items").Preload("Items.Book").Preload("Payments").
		First(&order, "id = ? AND customer_id = ?", id, user.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": order})
}

// DownloadItem consumes one download from an order item's entitlement and
// hands back the ebook file location. Only the owning customer of a
// completed order may download.
func (h *OrderHandler) DownloadItem(c *fiber.Ctx) error {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid order id")
	}
	itemID, err := uuid.Parse(c.Params("itemId"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid item id")
	}

	var order models.Order
	if err := h.db.First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}
	if order.CustomerID != user.ID {
		return domainError(services.ErrAccessDenied)
	}
	if order.Status != models.OrderCompleted || order.PaymentStatus != models.PaymentCompleted {
		return domainError(services.ErrOrderNotCompleted)
	}

	var item models.OrderItem
	if err := h.db.First(&item, "id = ? AND order_id = ?", itemID, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order item not found")
		}
		return err
	}

	var book models.Book
	if err := h.db.First(&book, "id = ?", item.BookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "book not found")
		}
		return err
	}

	updated, err := h.orders.RecordDownload(c.Context(), item.ID)
	if err != nil {
		return domainError(err)
	}

	h.audit.LogEvent(services.Event{
		Type:    models.EventBookDownload,
		UserID:  &user.ID,
		BookID:  &book.ID,
		OrderID: &order.ID,
		Request: requestInfo(c),
	})

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"download_url":        book.FileURL,
			"book_title":          updated.BookTitle,
			"downloads_remaining": updated.DownloadsRemaining(),
			"download_expires_at": updated.DownloadExpiresAt,
		},
	})
}

// ListOrders returns all orders for admin review, with search and status
// filters.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Order{})

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(order_number) LIKE ? OR LOWER(customer_email) LIKE ? OR LOWER(customer_name) LIKE ?", pattern, pattern, pattern)
	}
	if status := c.Query("status"); status != "" {
		parsed, err := models.ParseOrderStatus(status)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		query = query.Where("status = ?", parsed)
	}
	if paymentStatus := c.Query("payment_status"); paymentStatus != "" {
		parsed, err := models.ParsePaymentStatus(paymentStatus)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		query = query.Where("payment_status = ?", parsed)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var orders []models.Order
	if err := query.Preload("Items").
		Limit(pg.Limit).Offset(pg.Offset).Order("created_at desc").
		Find(&orders).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       orders,
		"pagination": paginationEnvelope(pg, total),
	})
}

// GetOrder returns any order by ID for admin review.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var order models.Order
	if err := h.db.Preload("Customer").Preload("Items").Preload("Items.Book").Preload("Payments").
		First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": order})
}

type updateOrderStatusRequest struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	AdminNotes    string `json:"admin_notes"`
}

// UpdateOrderStatus lets an admin override order and payment status, for
// manual reconciliation. The transition is audited with before and after
// snapshots.
func (h *OrderHandler) UpdateOrderStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var order models.Order
	if err := h.db.First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	old := order

	var req updateOrderStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]any{}
	if req.Status != "" {
		status, err := models.ParseOrderStatus(req.Status)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		updates["status"] = status
		if status == models.OrderCompleted && order.CompletedAt == nil {
			now := time.Now()
			updates["completed_at"] = &now
		}
	}
	if req.PaymentStatus != "" {
		paymentStatus, err := models.ParsePaymentStatus(req.PaymentStatus)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		updates["payment_status"] = paymentStatus
	}
	if req.AdminNotes != "" {
		updates["admin_notes"] = req.AdminNotes
	}

	if len(updates) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no updates provided")
	}

	if err := h.db.Model(&order).Updates(updates).Error; err != nil {
		return err
	}

	if user, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&user.ID, "update_order_status", "order", order.ID.String(), old, order, requestInfo(c))
	}

	return c.JSON(fiber.Map{"success": true, "data": order})
}

// OrderStats returns revenue and volume aggregates for the admin
// dashboard. Revenue only counts settled orders.
func (h *OrderHandler) OrderStats(c *fiber.Ctx) error {
	var total, completed, pending, failed int64
	if err := h.db.Model(&models.Order{}).Count(&total).Error; err != nil {
		return err
	}
	if err := h.db.Model(&models.Order{}).Where("status = ?", models.OrderCompleted).Count(&completed).Error; err != nil {
		return err
	}
	if err := h.db.Model(&models.Order{}).Where("status = ?", models.OrderPending).Count(&pending).Error; err != nil {
		return err
	}
	if err := h.db.Model(&models.Order{}).Where("status = ?", models.OrderFailed).Count(&failed).Error; err != nil {
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

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_orders":     total,
			"completed_orders": completed,
			"pending_orders":   pending,
			"failed_orders":    failed,
			"total_revenue":    revenue.Total,
		},
	})
}

// DeleteOrder removes an order and everything it owns. Admin only.
func (h *OrderHandler) DeleteOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	if err := h.orders.DeleteOrder(c.Context(), id); err != nil {
		return domainError(err)
	}

	if user, ok := middleware.GetCurrentUser(c); ok {
		h.audit.LogAction(&user.ID, "delete_order", "order", id.String(), nil, nil, requestInfo(c))
	}

	return c.SendStatus(fiber.StatusNoContent)
}
