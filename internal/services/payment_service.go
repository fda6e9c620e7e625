package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/ebookstore/internal/config"
	"github.com/example/ebookstore/internal/models"
)

// PaymentService reconciles gateway responses to the payment ledger and
// the order's payment status. Gateway credentials are injected at
// construction; nothing is read from ambient state at call time.
type PaymentService struct {
	db            *gorm.DB
	orders        *OrderService
	keyID         string
	keySecret     string
	webhookSecret string
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(db *gorm.DB, orders *OrderService, cfg *config.Config) *PaymentService {
	return &PaymentService{
		db:            db,
		orders:        orders,
		keyID:         cfg.RazorpayKeyID,
		keySecret:     cfg.RazorpayKeySecret,
		webhookSecret: cfg.RazorpayWebhookSecret,
	}
}

// KeyID exposes the public gateway key for checkout handoff payloads.
func (s *PaymentService) KeyID() string {
	return s.keyID
}

// GatewayOrder is the handoff payload the frontend passes to the gateway
// checkout widget. Amount is in minor currency units.
type GatewayOrder struct {
	GatewayOrderID string `json:"razorpay_order_id"`
	KeyID          string `json:"razorpay_key_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
}

// InitiateGatewayOrder records a pending gateway order on the order and
// moves its payment status to processing. Fails if the order is already
// settled.
func (s *PaymentService) InitiateGatewayOrder(ctx context.Context, order *models.Order) (*GatewayOrder, error) {
	if s.keyID == "" {
		return nil, ErrGatewayNotConfigured
	}
	if order.PaymentStatus == models.PaymentCompleted {
		return nil, ErrAlreadyPaid
	}

	gatewayOrderID := fmt.Sprintf("order_%s_%d", order.OrderNumber, time.Now().Unix())

	res := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status <> ?", order.ID, models.PaymentCompleted).
		Updates(map[string]any{
			"payment_gateway_order_id": gatewayOrderID,
			"payment_status":           models.PaymentProcessing,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyPaid
	}

	order.PaymentGatewayOrderID = gatewayOrderID
	order.PaymentStatus = models.PaymentProcessing

	return &GatewayOrder{
		GatewayOrderID: gatewayOrderID,
		KeyID:          s.keyID,
		Amount:         int64(order.TotalAmount * 100),
		Currency:       order.Currency,
		Receipt:        order.OrderNumber,
	}, nil
}

// VerifySignature checks the gateway's HMAC-SHA256 signature over
// "<gatewayOrderID>|<gatewayPaymentID>" in constant time. An unset secret
// fails verification rather than passing it.
func (s *PaymentService) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return verifyHMAC(s.keySecret, gatewayOrderID+"|"+gatewayPaymentID, signature)
}

// VerifyWebhookSignature checks the webhook HMAC over the raw body.
func (s *PaymentService) VerifyWebhookSignature(body []byte, signature string) bool {
	return verifyHMAC(s.webhookSecret, string(body), signature)
}

// VerifyInput carries a client-side payment confirmation.
type VerifyInput struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	RawResponse      []byte
}

// VerifyAndRecordPayment validates the signature, writes the completed
// payment ledger entry and completes the order, all in one transaction.
// A replay with a gateway payment id the ledger already holds is a no-op
// success, whether it arrives here or through the webhook.
func (s *PaymentService) VerifyAndRecordPayment(ctx context.Context, order *models.Order, input VerifyInput) (*models.Payment, error) {
	if !s.VerifySignature(input.GatewayOrderID, input.GatewayPaymentID, input.Signature) {
		return nil, ErrInvalidSignature
	}

	return s.recordCompletedPayment(ctx, order.ID, input.GatewayOrderID, input.GatewayPaymentID, input.Signature, input.RawResponse)
}

// WebhookEvent is an asynchronous gateway notification.
type WebhookEvent struct {
	Event            string
	GatewayOrderID   string
	GatewayPaymentID string
	RawPayload       []byte
}

// WebhookOutcome reports what a webhook delivery did, for logging and
// auditing; the HTTP layer acknowledges regardless.
type WebhookOutcome struct {
	Order   *models.Order
	Payment *models.Payment
	Applied bool
}

// HandleWebhook applies a gateway notification. Captured events run the
// same completion sequence as direct verification; failed events never
// downgrade an already completed order. Unknown orders and unknown event
// kinds are ignored so the gateway stops retrying.
func (s *PaymentService) HandleWebhook(ctx context.Context, event WebhookEvent) (*WebhookOutcome, error) {
	// Orders that never initiated checkout carry an empty gateway order
	// id; an empty lookup key must not match them.
	if event.GatewayOrderID == "" {
		return &WebhookOutcome{}, nil
	}

	var order models.Order
	err := s.db.WithContext(ctx).
		First(&order, "payment_gateway_order_id = ?", event.GatewayOrderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &WebhookOutcome{}, nil
		}
		return nil, err
	}

	switch event.Event {
	case "payment.captured":
		if event.GatewayPaymentID == "" {
			return &WebhookOutcome{Order: &order}, nil
		}
		payment, err := s.recordCompletedPayment(ctx, order.ID, event.GatewayOrderID, event.GatewayPaymentID, "", event.RawPayload)
		if err != nil {
			if errors.Is(err, ErrAlreadyPaid) {
				return &WebhookOutcome{Order: &order}, nil
			}
			return nil, err
		}
		return &WebhookOutcome{Order: &order, Payment: payment, Applied: true}, nil

	case "payment.failed":
		res := s.db.WithContext(ctx).Model(&models.Order{}).
			Where("id = ? AND payment_status <> ?", order.ID, models.PaymentCompleted).
			Updates(map[string]any{
				"status":         models.OrderFailed,
				"payment_status": models.PaymentFailed,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		return &WebhookOutcome{Order: &order, Applied: res.RowsAffected > 0}, nil

	default:
		return &WebhookOutcome{Order: &order}, nil
	}
}

// recordCompletedPayment is the single completion path shared by direct
// verification and the webhook. Duplicate suppression by gateway payment
// id comes first; the order-completion compare-and-set decides which of
// two racing callers performs the side effects, and only the caller that
// won the transition writes the ledger row.
func (s *PaymentService) recordCompletedPayment(ctx context.Context, orderID uuid.UUID, gatewayOrderID, gatewayPaymentID, signature string, rawResponse []byte) (*models.Payment, error) {
	var payment *models.Payment

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Payment
		err := tx.First(&existing, "order_id = ? AND gateway_payment_id = ?", orderID, gatewayPaymentID).Error
		if err == nil {
			payment = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var order models.Order
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
			}
			return err
		}
		if order.PaymentStatus == models.PaymentCompleted {
			// Settled under a different gateway payment id.
			return ErrAlreadyPaid
		}

		applied, err := s.orders.MarkCompletedTx(tx, orderID)
		if err != nil {
			return err
		}
		if !applied {
			// A concurrent transaction completed the order between our
			// status read and the compare-and-set. Its ledger row is
			// committed and visible now; surface it instead of writing a
			// second one.
			err := tx.First(&existing, "order_id = ? AND gateway_payment_id = ?", orderID, gatewayPaymentID).Error
			if err == nil {
				payment = &existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			return ErrAlreadyPaid
		}

		if err := tx.Model(&models.Order{}).
			Where("id = ?", orderID).
			Updates(map[string]any{
				"payment_method":           models.MethodRazorpay,
				"payment_gateway_id":       gatewayPaymentID,
				"payment_gateway_order_id": gatewayOrderID,
			}).Error; err != nil {
			return err
		}

		now := time.Now()
		record := models.Payment{
			OrderID:          orderID,
			Amount:           order.TotalAmount,
			Currency:         order.Currency,
			PaymentMethod:    models.MethodRazorpay,
			Status:           models.PaymentCompleted,
			GatewayPaymentID: gatewayPaymentID,
			GatewayOrderID:   gatewayOrderID,
			GatewaySignature: signature,
			GatewayResponse:  rawResponse,
			ProcessedAt:      &now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		payment = &record
		return nil
	})
	if err != nil {
		return nil, err
	}

	return payment, nil
}

func verifyHMAC(secret, message, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
