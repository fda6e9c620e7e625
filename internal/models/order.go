package models

import (
	"time"

	"github.com/google/uuid"
)

// Order is one checkout transaction. It exclusively owns its items and
// payments: deleting an order cascades to both.
type Order struct {
	BaseModel
	OrderNumber string `gorm:"uniqueIndex" json:"order_number"`

	CustomerID    uuid.UUID `gorm:"type:uuid;index" json:"customer_id"`
	Customer      *User     `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	CustomerEmail string    `json:"customer_email"`
	CustomerName  string    `json:"customer_name"`

	// Billing snapshot, copied at creation time.
	BillingAddress    string `json:"billing_address"`
	BillingCity       string `json:"billing_city"`
	BillingState      string `json:"billing_state"`
	BillingCountry    string `json:"billing_country"`
	BillingPostalCode string `json:"billing_postal_code"`

	Subtotal       float64 `json:"subtotal"`
	TaxAmount      float64 `json:"tax_amount"`
	DiscountAmount float64 `json:"discount_amount"`
	TotalAmount    float64 `json:"total_amount"`
	Currency       string  `gorm:"default:USD" json:"currency"`

	Status        OrderStatus   `gorm:"default:pending;index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"default:pending;index" json:"payment_status"`

	PaymentMethod         PaymentMethod `json:"payment_method"`
	PaymentGatewayID      string        `json:"payment_gateway_id"`
	PaymentGatewayOrderID string        `gorm:"index" json:"payment_gateway_order_id"`

	Notes      string `json:"notes"`
	AdminNotes string `json:"admin_notes"`

	CompletedAt *time.Time `json:"completed_at"`

	Items    []OrderItem `gorm:"constraint:OnDelete:CASCADE" json:"items,omitempty"`
	Payments []Payment   `gorm:"constraint:OnDelete:CASCADE" json:"payments,omitempty"`
}

// RecalculateTotals resums every line item. Totals are always rebuilt from
// scratch rather than adjusted incrementally.
func (o *Order) RecalculateTotals() {
	var subtotal float64
	for _, item := range o.Items {
		subtotal += item.TotalPrice
	}
	o.Subtotal = subtotal
	o.TotalAmount = o.Subtotal + o.TaxAmount - o.DiscountAmount
}

// OrderItem snapshots one book's title and price at order time. The
// (order_id, book_id) pair is unique so concurrent merges cannot produce
// duplicate rows for the same book.
type OrderItem struct {
	BaseModel
	OrderID uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_order_items_order_book" json:"order_id"`
	BookID  uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_order_items_order_book" json:"book_id"`
	Book    *Book     `json:"book,omitempty"`

	BookTitle  string  `json:"book_title"`
	Quantity   int     `gorm:"default:1" json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`

	DownloadCount     int        `json:"download_count"`
	DownloadLimit     int        `gorm:"default:5" json:"download_limit"`
	DownloadExpiresAt *time.Time `json:"download_expires_at"`
}

// CanDownload reports entitlement at the given instant. It is a pure
// check; recording a download is a separate atomic operation.
func (i *OrderItem) CanDownload(now time.Time) bool {
	if i.DownloadExpiresAt != nil && now.After(*i.DownloadExpiresAt) {
		return false
	}
	return i.DownloadCount < i.DownloadLimit
}

// DownloadsRemaining never reports below zero.
func (i *OrderItem) DownloadsRemaining() int {
	remaining := i.DownloadLimit - i.DownloadCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Payment is one settlement attempt against an order. Orders may carry
// several (failed attempts, retries) but at most one completed row per
// gateway payment id.
type Payment struct {
	BaseModel
	OrderID uuid.UUID `gorm:"type:uuid;index" json:"order_id"`

	Amount        float64       `json:"amount"`
	Currency      string        `gorm:"default:USD" json:"currency"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        PaymentStatus `gorm:"default:pending;index" json:"status"`

	GatewayPaymentID string `gorm:"index" json:"gateway_payment_id"`
	GatewayOrderID   string `gorm:"index" json:"gateway_order_id"`
	GatewaySignature string `json:"gateway_signature"`
	GatewayResponse  []byte `gorm:"type:jsonb" json:"gateway_response"`

	RefundAmount float64 `json:"refund_amount"`
	RefundReason string  `json:"refund_reason"`

	ProcessedAt *time.Time `json:"processed_at"`
}
