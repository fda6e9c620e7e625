package models

import "fmt"

// UserRole controls access to management endpoints.
type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleEditor   UserRole = "editor"
	RoleAdmin    UserRole = "admin"
)

// OrderStatus is the fulfillment state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

// PaymentStatus is the settlement state of an order or payment attempt.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentCompleted         PaymentStatus = "completed"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// PaymentMethod identifies the gateway or channel a payment went through.
type PaymentMethod string

const (
	MethodRazorpay     PaymentMethod = "razorpay"
	MethodStripe       PaymentMethod = "stripe"
	MethodPayPal       PaymentMethod = "paypal"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodWallet       PaymentMethod = "wallet"
)

// BookStatus controls catalog visibility and purchasability.
type BookStatus string

const (
	BookActive   BookStatus = "active"
	BookInactive BookStatus = "inactive"
	BookDraft    BookStatus = "draft"
)

// EventType classifies analytics events.
type EventType string

const (
	EventPageView         EventType = "page_view"
	EventBookView         EventType = "book_view"
	EventBookDownload     EventType = "book_download"
	EventSearch           EventType = "search"
	EventPurchase         EventType = "purchase"
	EventUserRegistration EventType = "user_registration"
	EventUserLogin        EventType = "user_login"
)

// Currencies accepted at checkout.
const (
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
	CurrencyGBP = "GBP"
	CurrencyINR = "INR"
)

// ParseCurrency rejects unknown values instead of defaulting.
func ParseCurrency(s string) (string, error) {
	switch s {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyINR:
		return s, nil
	}
	return "", fmt.Errorf("unknown currency %q", s)
}

// ParseOrderStatus rejects unknown values instead of defaulting.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderPending, OrderProcessing, OrderCompleted, OrderFailed, OrderCancelled, OrderRefunded:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// ParsePaymentStatus rejects unknown values instead of defaulting.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(s) {
	case PaymentPending, PaymentProcessing, PaymentCompleted, PaymentFailed, PaymentRefunded, PaymentPartiallyRefunded:
		return PaymentStatus(s), nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

// ParsePaymentMethod rejects unknown values instead of defaulting.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case MethodRazorpay, MethodStripe, MethodPayPal, MethodBankTransfer, MethodWallet:
		return PaymentMethod(s), nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// ParseBookStatus rejects unknown values instead of defaulting.
func ParseBookStatus(s string) (BookStatus, error) {
	switch BookStatus(s) {
	case BookActive, BookInactive, BookDraft:
		return BookStatus(s), nil
	}
	return "", fmt.Errorf("unknown book status %q", s)
}

// ParseEventType rejects unknown values instead of defaulting.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventPageView, EventBookView, EventBookDownload, EventSearch, EventPurchase, EventUserRegistration, EventUserLogin:
		return EventType(s), nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// ParseUserRole rejects unknown values instead of defaulting.
func ParseUserRole(s string) (UserRole, error) {
	switch UserRole(s) {
	case RoleCustomer, RoleEditor, RoleAdmin:
		return UserRole(s), nil
	}
	return "", fmt.Errorf("unknown user role %q", s)
}
