package handlers

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/ebookstore/internal/middleware"
	"github.com/example/ebookstore/internal/models"
	"github.com/example/ebookstore/internal/services"
	"github.com/example/ebookstore/internal/utils"
)

// PaymentHandler exposes gateway checkout, verification and webhook
// endpoints.
type PaymentHandler struct {
	db       *gorm.DB
	payments *services.PaymentService
	audit    *services.AuditService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(db *gorm.DB, payments *services.PaymentService, audit *services.AuditService) *PaymentHandler {
	return &PaymentHandler{db: db, payments: payments, audit: audit}
}

type createGatewayOrderRequest struct {
	OrderID string `json:"order_id"`
}

// CreateGatewayOrder opens a gateway checkout session for one of the
// customer's own unpaid orders.
func (h *PaymentHandler) CreateGatewayOrder(c *fiber.Ctx) error {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createGatewayOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid order_id")
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

	gatewayOrder, err := h.payments.InitiateGatewayOrder(c.Context(), &order)
	if err != nil {
		return domainError(err)
	}

	return c.JSON(fiber.Map{"success": true, "data": gatewayOrder})
}

type verifyPaymentRequest struct {
	OrderID           string `json:"order_id"`
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

// VerifyPayment confirms a client-side gateway payment. On a valid
// signature the order completes and the ledger records the settlement; a
// replay of an already recorded payment succeeds without re-applying
// side effects.
func (h *PaymentHandler) VerifyPayment(c *fiber.Ctx) error {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req verifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.OrderID == "" || req.RazorpayOrderID == "" || req.RazorpayPaymentID == "" || req.RazorpaySignature == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing required fields")
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid order_id")
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

	payment, err := h.payments.VerifyAndRecordPayment(c.Context(), &order, services.VerifyInput{
		GatewayOrderID:   req.RazorpayOrderID,
		GatewayPaymentID: req.RazorpayPaymentID,
		Signature:        req.RazorpaySignature,
		RawResponse:      c.Body(),
	})
	if err != nil {
		return domainError(err)
	}

	h.audit.LogAction(&user.ID, "verify_payment", "order", order.ID.String(), nil, fiber.Map{
		"gateway_payment_id": req.RazorpayPaymentID,
		"amount":             payment.Amount,
	}, requestInfo(c))

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"payment":      payment,
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
		},
	})
}

// webhookPayload mirrors the gateway's webhook envelope.
type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// Webhook applies asynchronous gateway notifications. The signature is
// checked by middleware before this runs; any delivery that parses is
// acknowledged with 200 so the gateway stops retrying.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	var payload webhookPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid webhook payload")
	}

	outcome, err := h.payments.HandleWebhook(c.Context(), services.WebhookEvent{
		Event:            payload.Event,
		GatewayOrderID:   payload.Payload.Payment.Entity.OrderID,
		GatewayPaymentID: payload.Payload.Payment.Entity.ID,
		RawPayload:       c.Body(),
	})
	if err != nil {
		log.Printf("webhook %s failed: %v", payload.Event, err)
		return fiber.NewError(fiber.StatusInternalServerError, "webhook processing failed")
	}

	if outcome.Applied && outcome.Order != nil {
		h.audit.LogAction(nil, "webhook_"+payload.Event, "order", outcome.Order.ID.String(), nil, fiber.Map{
			"gateway_payment_id": payload.Payload.Payment.Entity.ID,
		}, requestInfo(c))
	}

	return c.JSON(fiber.Map{"success": true})
}

// ListPaymentMethods returns the checkout options the store accepts.
func (h *PaymentHandler) ListPaymentMethods(c *fiber.Ctx) error {
	methods := []fiber.Map{
		{
			"id":      models.MethodRazorpay,
			"name":    "Razorpay",
			"enabled": h.payments.KeyID() != "",
			"key_id":  h.payments.KeyID(),
		},
	}

	return c.JSON(fiber.Map{"success": true, "data": methods})
}

// ListPayments returns the payment ledger for admin review.
func (h *PaymentHandler) ListPayments(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Payment{})

	if status := c.Query("status"); status != "" {
		parsed, err := models.ParsePaymentStatus(status)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		query = query.Where("status = ?", parsed)
	}
	if method := c.Query("method"); method != "" {
		parsed, err := models.ParsePaymentMethod(method)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		query = query.Where("payment_method = ?", parsed)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var payments []models.Payment
	if err := query.Limit(pg.Limit).Offset(pg.Offset).Order("created_at desc").
		Find(&payments).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       payments,
		"pagination": paginationEnvelope(pg, total),
	})
}
