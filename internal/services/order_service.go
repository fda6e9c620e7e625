package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/ebookstore/internal/config"
	"github.com/example/ebookstore/internal/models"
)

// OrderService owns the order lifecycle: creation, item merging, totals,
// completion and download entitlement.
type OrderService struct {
	db              *gorm.DB
	defaultCurrency string
	taxRate         float64
	downloadLimit   int
	downloadTTL     time.Duration
}

// NewOrderService constructs an OrderService with injected policy values.
func NewOrderService(db *gorm.DB, cfg *config.Config) *OrderService {
	return &OrderService{
		db:              db,
		defaultCurrency: cfg.DefaultCurrency,
		taxRate:         cfg.TaxRate,
		downloadLimit:   cfg.DownloadLimit,
		downloadTTL:     time.Duration(cfg.DownloadTTLDays) * 24 * time.Hour,
	}
}

// OrderItemInput references one book and quantity in a checkout request.
type OrderItemInput struct {
	BookID   uuid.UUID
	Quantity int
}

// CreateOrderInput carries everything needed to place an order.
type CreateOrderInput struct {
	Items             []OrderItemInput
	Currency          string
	Notes             string
	BillingAddress    string
	BillingCity       string
	BillingState      string
	BillingCountry    string
	BillingPostalCode string
}

// CreateOrder places a new pending order for the customer. Every
// referenced book is resolved and validated before anything is persisted,
// so a failing item can never leave a partially populated order behind.
// Unit prices are frozen at the book's current effective price.
func (s *OrderService) CreateOrder(ctx context.Context, customer *models.User, input CreateOrderInput) (*models.Order, error) {
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: order items are required", ErrValidation)
	}

	currency := input.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}
	currency, err := models.ParseCurrency(currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := time.Now()
	expiresAt := now.Add(s.downloadTTL)

	order := &models.Order{
		CustomerID:        customer.ID,
		CustomerEmail:     customer.Email,
		CustomerName:      customer.FullName(),
		BillingAddress:    input.BillingAddress,
		BillingCity:       input.BillingCity,
		BillingState:      input.BillingState,
		BillingCountry:    input.BillingCountry,
		BillingPostalCode: input.BillingPostalCode,
		Currency:          currency,
		Notes:             input.Notes,
		Status:            models.OrderPending,
		PaymentStatus:     models.PaymentPending,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, in := range input.Items {
			quantity := in.Quantity
			if quantity <= 0 {
				quantity = 1
			}

			var book models.Book
			if err := tx.First(&book, "id = ?", in.BookID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: book %s", ErrNotFound, in.BookID)
				}
				return err
			}
			if !book.Purchasable() {
				return fmt.Errorf("%w: %s", ErrBookUnavailable, book.Title)
			}

			unitPrice := book.CurrentPrice()
			merged := false
			for idx := range order.Items {
				if order.Items[idx].BookID == book.ID {
					order.Items[idx].Quantity += quantity
					order.Items[idx].TotalPrice = float64(order.Items[idx].Quantity) * order.Items[idx].UnitPrice
					merged = true
					break
				}
			}
			if merged {
				continue
			}

			expiry := expiresAt
			order.Items = append(order.Items, models.OrderItem{
				BookID:            book.ID,
				BookTitle:         book.Title,
				Quantity:          quantity,
				UnitPrice:         unitPrice,
				TotalPrice:        float64(quantity) * unitPrice,
				DownloadLimit:     s.downloadLimit,
				DownloadExpiresAt: &expiry,
			})
		}

		order.RecalculateTotals()
		order.TaxAmount = roundMoney(order.Subtotal * s.taxRate)
		order.RecalculateTotals()

		// Regenerate on the vanishingly rare order number collision. Each
		// attempt runs under a savepoint: a unique violation poisons the
		// surrounding transaction on Postgres until rolled back to it.
		for attempt := 0; attempt < 3; attempt++ {
			order.OrderNumber = newOrderNumber()
			if err := tx.SavePoint("create_order").Error; err != nil {
				return err
			}
			err := tx.Create(order).Error
			if err == nil {
				return nil
			}
			if !isUniqueViolation(err) || attempt == 2 {
				return err
			}
			if err := tx.RollbackTo("create_order").Error; err != nil {
				return err
			}
			order.ID = uuid.Nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// AddItem merges the book into an existing line item or appends a new one,
// then rebuilds the order totals with a full resum. The unique index on
// (order_id, book_id) turns a concurrent double-insert into a retryable
// conflict handled here.
func (s *OrderService) AddItem(ctx context.Context, orderID, bookID uuid.UUID, quantity int, overridePrice *float64) (*models.Order, error) {
	if quantity <= 0 {
		quantity = 1
	}

	var order models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
			}
			return err
		}

		var book models.Book
		if err := tx.First(&book, "id = ?", bookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: book %s", ErrNotFound, bookID)
			}
			return err
		}

		unitPrice := book.CurrentPrice()
		if overridePrice != nil {
			unitPrice = *overridePrice
		}

		if err := s.mergeItem(tx, &order, &book, quantity, unitPrice); err != nil {
			if !isUniqueViolation(err) {
				return err
			}
			// Lost the insert race; the row exists now, merge into it.
			if err := s.mergeItem(tx, &order, &book, quantity, unitPrice); err != nil {
				return err
			}
		}

		return s.recalculateTotalsTx(tx, &order)
	})
	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (s *OrderService) mergeItem(tx *gorm.DB, order *models.Order, book *models.Book, quantity int, unitPrice float64) error {
	// Both expressions evaluate against the pre-update row, so two
	// concurrent merges cannot lose an increment.
	res := tx.Model(&models.OrderItem{}).
		Where("order_id = ? AND book_id = ?", order.ID, book.ID).
		Updates(map[string]any{
			"quantity":    gorm.Expr("quantity + ?", quantity),
			"total_price": gorm.Expr("(quantity + ?) * unit_price", quantity),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	expiry := time.Now().Add(s.downloadTTL)
	item := models.OrderItem{
		OrderID:           order.ID,
		BookID:            book.ID,
		BookTitle:         book.Title,
		Quantity:          quantity,
		UnitPrice:         unitPrice,
		TotalPrice:        float64(quantity) * unitPrice,
		DownloadLimit:     s.downloadLimit,
		DownloadExpiresAt: &expiry,
	}
	return tx.Create(&item).Error
}

func (s *OrderService) recalculateTotalsTx(tx *gorm.DB, order *models.Order) error {
	var items []models.OrderItem
	if err := tx.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
		return err
	}

	order.Items = items
	order.RecalculateTotals()

	return tx.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"subtotal":     order.Subtotal,
			"total_amount": order.TotalAmount,
		}).Error
}

// MarkCompleted transitions the order to completed exactly once. The
// compare-and-set on payment_status gates every side effect, so replays
// and racing verification/webhook paths apply them at most once.
func (s *OrderService) MarkCompleted(ctx context.Context, orderID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.MarkCompletedTx(tx, orderID)
		return err
	})
}

// MarkCompletedTx is the transaction-scoped form used by the payment
// service when completion must share a transaction with ledger writes.
// It reports whether this call performed the transition; callers must
// not write completion side effects of their own when it did not.
func (s *OrderService) MarkCompletedTx(tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	now := time.Now()
	res := tx.Model(&models.Order{}).
		Where("id = ? AND payment_status <> ?", orderID, models.PaymentCompleted).
		Updates(map[string]any{
			"status":         models.OrderCompleted,
			"payment_status": models.PaymentCompleted,
			"completed_at":   &now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Already completed, possibly by a concurrent transaction.
		return false, nil
	}

	var items []models.OrderItem
	if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return false, err
	}
	for _, item := range items {
		if err := tx.Model(&models.Book{}).
			Where("id = ?", item.BookID).
			Update("download_count", gorm.Expr("download_count + ?", item.Quantity)).Error; err != nil {
			return false, err
		}
	}

	return true, nil
}

// RecordDownload consumes one download from the line item's entitlement.
// The increment is a single conditional update, so two concurrent requests
// cannot both take the last remaining download.
func (s *OrderService) RecordDownload(ctx context.Context, itemID uuid.UUID) (*models.OrderItem, error) {
	now := time.Now()

	res := s.db.WithContext(ctx).Model(&models.OrderItem{}).
		Where("id = ? AND download_count < download_limit AND (download_expires_at IS NULL OR download_expires_at >= ?)", itemID, now).
		Update("download_count", gorm.Expr("download_count + 1"))
	if res.Error != nil {
		return nil, res.Error
	}

	var item models.OrderItem
	if err := s.db.WithContext(ctx).First(&item, "id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order item %s", ErrNotFound, itemID)
		}
		return nil, err
	}

	if res.RowsAffected == 0 {
		if item.DownloadExpiresAt != nil && now.After(*item.DownloadExpiresAt) {
			return &item, ErrDownloadExpired
		}
		return &item, ErrDownloadLimitExceeded
	}

	return &item, nil
}

// DeleteOrder removes the order together with its owned items and
// payments in one transaction. Destructive, admin only.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
			}
			return err
		}
		if err := tx.Where("order_id = ?", orderID).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", orderID).Delete(&models.Payment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&order).Error
	})
}

// newOrderNumber is a variable so tests can force collisions.
var newOrderNumber = generateOrderNumber

func generateOrderNumber() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("EB%s%s", time.Now().UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(buf)))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func roundMoney(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
