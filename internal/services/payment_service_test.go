package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/example/ebookstore/internal/models"
)

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func newPaymentFixture(t *testing.T) (*gorm.DB, *OrderService, *PaymentService, *models.Order) {
	t.Helper()

	db := openTestDB(t)
	cfg := testConfig()
	orders := NewOrderService(db, cfg)
	payments := NewPaymentService(db, orders, cfg)

	user := createTestUser(t, db, "payer@example.com")
	book := createTestBook(t, db, "paid-title", 25)

	order, err := orders.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	return db, orders, payments, order
}

func TestVerifySignature(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig()
	svc := NewPaymentService(db, NewOrderService(db, cfg), cfg)

	valid := sign(cfg.RazorpayKeySecret, "order_abc|pay_123")
	assert.True(t, svc.VerifySignature("order_abc", "pay_123", valid))
	assert.False(t, svc.VerifySignature("order_abc", "pay_123", "deadbeef"))
	assert.False(t, svc.VerifySignature("order_abc", "pay_999", valid))
	assert.False(t, svc.VerifySignature("order_abc", "pay_123", ""))
}

func TestVerifySignatureEmptySecretFails(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig()
	cfg.RazorpayKeySecret = ""
	svc := NewPaymentService(db, NewOrderService(db, cfg), cfg)

	// A missing secret must fail closed, even for a "matching" signature.
	assert.False(t, svc.VerifySignature("order_abc", "pay_123", sign("", "order_abc|pay_123")))
}

func TestVerifyWebhookSignature(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig()
	svc := NewPaymentService(db, NewOrderService(db, cfg), cfg)

	body := []byte(`{"event":"payment.captured"}`)
	assert.True(t, svc.VerifyWebhookSignature(body, sign(cfg.RazorpayWebhookSecret, string(body))))
	assert.False(t, svc.VerifyWebhookSignature(body, "bogus"))

	cfg.RazorpayWebhookSecret = ""
	bare := NewPaymentService(db, NewOrderService(db, cfg), cfg)
	assert.False(t, bare.VerifyWebhookSignature(body, sign("", string(body))))
}

func TestInitiateGatewayOrder(t *testing.T) {
	db, _, payments, order := newPaymentFixture(t)

	gw, err := payments.InitiateGatewayOrder(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, "rzp_test_key", gw.KeyID)
	assert.Equal(t, int64(order.TotalAmount*100), gw.Amount)
	assert.Equal(t, order.OrderNumber, gw.Receipt)
	assert.NotEmpty(t, gw.GatewayOrderID)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, models.PaymentProcessing, reloaded.PaymentStatus)
	assert.Equal(t, gw.GatewayOrderID, reloaded.PaymentGatewayOrderID)
}

func TestInitiateGatewayOrderUnconfigured(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig()
	cfg.RazorpayKeyID = ""
	orders := NewOrderService(db, cfg)
	payments := NewPaymentService(db, orders, cfg)

	_, err := payments.InitiateGatewayOrder(context.Background(), &models.Order{})
	assert.ErrorIs(t, err, ErrGatewayNotConfigured)
}

func TestInitiateGatewayOrderAlreadyPaid(t *testing.T) {
	_, orders, payments, order := newPaymentFixture(t)

	require.NoError(t, orders.MarkCompleted(context.Background(), order.ID))
	order.PaymentStatus = models.PaymentCompleted

	_, err := payments.InitiateGatewayOrder(context.Background(), order)
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestVerifyAndRecordPayment(t *testing.T) {
	db, _, payments, order := newPaymentFixture(t)
	cfg := testConfig()

	gw, err := payments.InitiateGatewayOrder(context.Background(), order)
	require.NoError(t, err)

	input := VerifyInput{
		GatewayOrderID:   gw.GatewayOrderID,
		GatewayPaymentID: "pay_ok",
		Signature:        sign(cfg.RazorpayKeySecret, gw.GatewayOrderID+"|pay_ok"),
	}

	payment, err := payments.VerifyAndRecordPayment(context.Background(), order, input)
	require.NoError(t, err)
	assert.Equal(t, order.TotalAmount, payment.Amount)
	assert.Equal(t, models.PaymentCompleted, payment.Status)
	assert.NotNil(t, payment.ProcessedAt)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, models.OrderCompleted, reloaded.Status)
	assert.Equal(t, models.PaymentCompleted, reloaded.PaymentStatus)
	assert.Equal(t, "pay_ok", reloaded.PaymentGatewayID)
	assert.Equal(t, models.MethodRazorpay, reloaded.PaymentMethod)
}

func TestVerifyAndRecordPaymentInvalidSignature(t *testing.T) {
	db, _, payments, order := newPaymentFixture(t)

	_, err := payments.VerifyAndRecordPayment(context.Background(), order, VerifyInput{
		GatewayOrderID:   "order_x",
		GatewayPaymentID: "pay_x",
		Signature:        "forged",
	})
	assert.ErrorIs(t, err, ErrInvalidSignature)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestVerifyAndRecordPaymentReplayIsNoop(t *testing.T) {
	db, _, payments, order := newPaymentFixture(t)
	cfg := testConfig()

	gw, err := payments.InitiateGatewayOrder(context.Background(), order)
	require.NoError(t, err)

	input := VerifyInput{
		GatewayOrderID:   gw.GatewayOrderID,
		GatewayPaymentID: "pay_replay",
		Signature:        sign(cfg.RazorpayKeySecret, gw.GatewayOrderID+"|pay_replay"),
	}

	first, err := payments.VerifyAndRecordPayment(context.Background(), order, input)
	require.NoError(t, err)

	second, err := payments.VerifyAndRecordPayment(context.Background(), order, input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestVerifyAndRecordPaymentSecondPaymentID(t *testing.T) {
	_, _, payments, order := newPaymentFixture(t)
	cfg := testConfig()

	gw, err := payments.InitiateGatewayOrder(context.Background(), order)
	require.NoError(t, err)

	first := VerifyInput{
		GatewayOrderID:   gw.GatewayOrderID,
		GatewayPaymentID: "pay_first",
		Signature:        sign(cfg.RazorpayKeySecret, gw.GatewayOrderID+"|pay_first"),
	}
	_, err = payments.VerifyAndRecordPayment(context.Background(), order, first)
	require.NoError(t, err)

	// A different gateway payment id against a settled order is rejected.
	second := VerifyInput{
		GatewayOrderID:   gw.GatewayOrderID,
		GatewayPaymentID: "pay_second",
		Signature:        sign(cfg.RazorpayKeySecret, gw.GatewayOrderID+"|pay_second"),
	}
	_, err = payments.VerifyAndRecordPayment(context.Background(), order, second)
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestHandleWebhookCaptured(t *testing.T) {
	db, _, payments, order := newPaymentFixture(t)

	gw, err := payments.InitiateGatewayOrder(context.Background(), order)
	require.NoError(t, err)

	outcome, err := payments.HandleWebhook(context.Background(), WebhookEvent{
		Event:            "payment.captured",
		GatewayOrderID:   gw.GatewayOrderID,
		GatewayPaymentID: "pay_hook",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	require.NotNil(t, outcome.Payment)
	assert.Equal(t, order.TotalAmount, outcome.Payment.Amount)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, models.PaymentCompleted, reloaded.PaymentStatus)

	// Redelivery of the same payment id stays a single ledger row.
	_, err = payments.HandleWebhook(context.Background(), WebhookEvent{
		Event:            "payment.captured",
		GatewayOrderID:   gw.GatewayOrderID,
		GatewayPaymentID: "pay_hook",
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestHandleWebhookCapturedAfterDirectVerify(t *testing.T) {
	db, _, payments, order := newPaymentFixture(t)
	cfg := testConfig()

	gw, err := payments.InitiateGatewayOrder(context.Background(), order)
	require.NoError(t, err)

	_, err = payments.VerifyAndRecordPayment(context.Background(), order, VerifyInput{
		GatewayOrderID:   gw.GatewayOrderID,
		GatewayPaymentID: "pay_dual",
		Signature:        sign(cfg.RazorpayKeySecret, gw.GatewayOrderID+"|pay_dual"),
	})
	require.NoError(t, err)

	// The async notification for the same capture must not double-book.
	_, err = payments.HandleWebhook(context.Background(), WebhookEvent{
		Event:            "payment.captured",
		GatewayOrderID:   gw.GatewayOrderID,
		GatewayPaymentID: "pay_dual",
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestHandleWebhookFailed(t *testing.T) {
	db, _, payments, order := newPaymentFixture(t)

	gw, err := payments.InitiateGatewayOrder(context.Background(), order)
	require.NoError(t, err)

	outcome, err := payments.HandleWebhook(context.Background(), WebhookEvent{
		Event:            "payment.failed",
		GatewayOrderID:   gw.GatewayOrderID,
		GatewayPaymentID: "pay_bad",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, models.OrderFailed, reloaded.Status)
	assert.Equal(t, models.PaymentFailed, reloaded.PaymentStatus)
}

func TestHandleWebhookFailedNeverDowngradesCompleted(t *testing.T) {
	db, orders, payments, order := newPaymentFixture(t)

	gw, err := payments.InitiateGatewayOrder(context.Background(), order)
	require.NoError(t, err)
	require.NoError(t, orders.MarkCompleted(context.Background(), order.ID))

	outcome, err := payments.HandleWebhook(context.Background(), WebhookEvent{
		Event:            "payment.failed",
		GatewayOrderID:   gw.GatewayOrderID,
		GatewayPaymentID: "pay_late",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Applied)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, models.OrderCompleted, reloaded.Status)
	assert.Equal(t, models.PaymentCompleted, reloaded.PaymentStatus)
}

func TestRecordCompletedPaymentSingleLedgerRow(t *testing.T) {
	db, orders, payments, order := newPaymentFixture(t)

	gw, err := payments.InitiateGatewayOrder(context.Background(), order)
	require.NoError(t, err)

	// The order settles out-of-band: completion plus the winning caller's
	// ledger row are already committed.
	require.NoError(t, orders.MarkCompleted(context.Background(), order.ID))
	winner := models.Payment{
		OrderID:          order.ID,
		Amount:           order.TotalAmount,
		Currency:         order.Currency,
		PaymentMethod:    models.MethodRazorpay,
		Status:           models.PaymentCompleted,
		GatewayPaymentID: "pay_winner",
		GatewayOrderID:   gw.GatewayOrderID,
	}
	require.NoError(t, db.Create(&winner).Error)

	// The losing caller replaying the same payment id gets the winner's
	// row back, not a second one.
	payment, err := payments.recordCompletedPayment(context.Background(), order.ID, gw.GatewayOrderID, "pay_winner", "", nil)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, payment.ID)

	// A different payment id against the settled order is rejected.
	_, err = payments.recordCompletedPayment(context.Background(), order.ID, gw.GatewayOrderID, "pay_other", "", nil)
	assert.ErrorIs(t, err, ErrAlreadyPaid)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestHandleWebhookEmptyGatewayOrderID(t *testing.T) {
	db, _, payments, order := newPaymentFixture(t)

	// The pending order has never initiated checkout, so its gateway order
	// id column is empty; an empty lookup key must not reach it.
	outcome, err := payments.HandleWebhook(context.Background(), WebhookEvent{
		Event:            "payment.failed",
		GatewayOrderID:   "",
		GatewayPaymentID: "pay_stray",
	})
	require.NoError(t, err)
	assert.Nil(t, outcome.Order)
	assert.False(t, outcome.Applied)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, models.OrderPending, reloaded.Status)
	assert.Equal(t, models.PaymentPending, reloaded.PaymentStatus)
}

func TestHandleWebhookCapturedEmptyPaymentID(t *testing.T) {
	db, _, payments, order := newPaymentFixture(t)

	gw, err := payments.InitiateGatewayOrder(context.Background(), order)
	require.NoError(t, err)

	outcome, err := payments.HandleWebhook(context.Background(), WebhookEvent{
		Event:            "payment.captured",
		GatewayOrderID:   gw.GatewayOrderID,
		GatewayPaymentID: "",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.Nil(t, outcome.Payment)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, models.PaymentProcessing, reloaded.PaymentStatus)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestHandleWebhookUnknownOrder(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig()
	payments := NewPaymentService(db, NewOrderService(db, cfg), cfg)

	outcome, err := payments.HandleWebhook(context.Background(), WebhookEvent{
		Event:            "payment.captured",
		GatewayOrderID:   "order_never_seen",
		GatewayPaymentID: "pay_x",
	})
	require.NoError(t, err)
	assert.Nil(t, outcome.Order)
	assert.False(t, outcome.Applied)
}

func TestHandleWebhookUnknownEvent(t *testing.T) {
	_, _, payments, order := newPaymentFixture(t)

	gw, err := payments.InitiateGatewayOrder(context.Background(), order)
	require.NoError(t, err)

	outcome, err := payments.HandleWebhook(context.Background(), WebhookEvent{
		Event:          "payment.authorized",
		GatewayOrderID: gw.GatewayOrderID,
	})
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.Nil(t, outcome.Payment)
}
