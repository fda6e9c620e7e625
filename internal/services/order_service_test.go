package services

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/example/ebookstore/internal/models"
)

func TestCreateOrderTotals(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "totals@example.com")
	bookA := createTestBook(t, db, "book-a", 10)
	bookB := createTestBook(t, db, "book-b", 15)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{
			{BookID: bookA.ID, Quantity: 1},
			{BookID: bookB.ID, Quantity: 2},
		},
	})
	require.NoError(t, err)

	require.Len(t, order.Items, 2)
	assert.Equal(t, 10.0, order.Items[0].UnitPrice)
	assert.Equal(t, 10.0, order.Items[0].TotalPrice)
	assert.Equal(t, 15.0, order.Items[1].UnitPrice)
	assert.Equal(t, 30.0, order.Items[1].TotalPrice)

	assert.Equal(t, 40.0, order.Subtotal)
	assert.Equal(t, order.Subtotal+order.TaxAmount-order.DiscountAmount, order.TotalAmount)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, models.PaymentPending, order.PaymentStatus)
	assert.Equal(t, user.Email, order.CustomerEmail)
}

func TestCreateOrderAppliesTax(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig()
	cfg.TaxRate = 0.1
	svc := NewOrderService(db, cfg)
	user := createTestUser(t, db, "tax@example.com")
	book := createTestBook(t, db, "taxed", 20)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, 20.0, order.Subtotal)
	assert.Equal(t, 2.0, order.TaxAmount)
	assert.Equal(t, 22.0, order.TotalAmount)
}

func TestCreateOrderSnapshotsSalePrice(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "sale@example.com")

	book := &models.Book{
		Title:     "discounted",
		Slug:      "discounted",
		Price:     30,
		SalePrice: 12,
		IsOnSale:  true,
		Status:    models.BookActive,
	}
	require.NoError(t, db.Create(book).Error)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	require.Len(t, order.Items, 1)
	assert.Equal(t, 12.0, order.Items[0].UnitPrice)

	// Later price changes must not touch the snapshot.
	require.NoError(t, db.Model(book).Update("sale_price", 1).Error)
	var item models.OrderItem
	require.NoError(t, db.First(&item, "id = ?", order.Items[0].ID).Error)
	assert.Equal(t, 12.0, item.UnitPrice)
}

func TestCreateOrderRejectsEmptyItems(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "empty@example.com")

	_, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateOrderRejectsUnknownCurrency(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "currency@example.com")
	book := createTestBook(t, db, "any", 5)

	_, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items:    []OrderItemInput{{BookID: book.ID}},
		Currency: "DOGE",
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateOrderAllOrNothing(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "atomic@example.com")
	book := createTestBook(t, db, "real", 10)

	_, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{
			{BookID: book.ID, Quantity: 1},
			{BookID: uuid.New(), Quantity: 1},
		},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	var orders, items int64
	require.NoError(t, db.Model(&models.Order{}).Count(&orders).Error)
	require.NoError(t, db.Model(&models.OrderItem{}).Count(&items).Error)
	assert.Zero(t, orders)
	assert.Zero(t, items)
}

func TestCreateOrderRejectsInactiveBook(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "inactive@example.com")

	book := &models.Book{Title: "drafted", Slug: "drafted", Price: 9, Status: models.BookDraft}
	require.NoError(t, db.Create(book).Error)

	_, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID}},
	})
	assert.ErrorIs(t, err, ErrBookUnavailable)
}

func TestCreateOrderMergesDuplicateBooks(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "merge@example.com")
	book := createTestBook(t, db, "doubled", 8)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{
			{BookID: book.ID, Quantity: 1},
			{BookID: book.ID, Quantity: 2},
		},
	})
	require.NoError(t, err)

	require.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, 24.0, order.Items[0].TotalPrice)
	assert.Equal(t, 24.0, order.Subtotal)
}

func TestOrderNumberFormat(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "number@example.com")
	book := createTestBook(t, db, "numbered", 5)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID}},
	})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^EB\d{8}[0-9A-F]{8}$`), order.OrderNumber)
}

func TestAddItemMergesExistingLine(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "additem@example.com")
	book := createTestBook(t, db, "line", 10)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	updated, err := svc.AddItem(context.Background(), order.ID, book.ID, 2, nil)
	require.NoError(t, err)

	require.Len(t, updated.Items, 1)
	assert.Equal(t, 3, updated.Items[0].Quantity)
	assert.Equal(t, 30.0, updated.Items[0].TotalPrice)
	assert.Equal(t, 30.0, updated.Subtotal)
	assert.Equal(t, updated.Subtotal+updated.TaxAmount-updated.DiscountAmount, updated.TotalAmount)
}

func TestAddItemAppendsNewLine(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "append@example.com")
	first := createTestBook(t, db, "first", 10)
	second := createTestBook(t, db, "second", 7)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: first.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	updated, err := svc.AddItem(context.Background(), order.ID, second.ID, 1, nil)
	require.NoError(t, err)

	require.Len(t, updated.Items, 2)
	assert.Equal(t, 17.0, updated.Subtotal)
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "complete@example.com")
	book := createTestBook(t, db, "completed", 10)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID, Quantity: 3}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkCompleted(context.Background(), order.ID))
	require.NoError(t, svc.MarkCompleted(context.Background(), order.ID))

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, models.OrderCompleted, reloaded.Status)
	assert.Equal(t, models.PaymentCompleted, reloaded.PaymentStatus)
	require.NotNil(t, reloaded.CompletedAt)

	// The book counter moves by the purchased quantity, exactly once.
	var reloadedBook models.Book
	require.NoError(t, db.First(&reloadedBook, "id = ?", book.ID).Error)
	assert.Equal(t, 3, reloadedBook.DownloadCount)
}

func TestMarkCompletedTxReportsApplied(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "applied@example.com")
	book := createTestBook(t, db, "applied-title", 10)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		applied, err := svc.MarkCompletedTx(tx, order.ID)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = svc.MarkCompletedTx(tx, order.ID)
		require.NoError(t, err)
		assert.False(t, applied)
		return nil
	})
	require.NoError(t, err)

	var reloadedBook models.Book
	require.NoError(t, db.First(&reloadedBook, "id = ?", book.ID).Error)
	assert.Equal(t, 2, reloadedBook.DownloadCount)
}

func TestAddItemConcurrentMergesLoseNoIncrement(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "mergerace@example.com")
	book := createTestBook(t, db, "merged-title", 10)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AddItem(context.Background(), order.ID, book.ID, 1, nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	var item models.OrderItem
	require.NoError(t, db.First(&item, "order_id = ? AND book_id = ?", order.ID, book.ID).Error)
	assert.Equal(t, 6, item.Quantity)
	assert.Equal(t, 60.0, item.TotalPrice)

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, 60.0, reloaded.Subtotal)
}

func TestCreateOrderRetriesOnOrderNumberCollision(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "collision@example.com")
	book := createTestBook(t, db, "collided", 10)

	first, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID}},
	})
	require.NoError(t, err)

	orig := newOrderNumber
	defer func() { newOrderNumber = orig }()
	calls := 0
	newOrderNumber = func() string {
		calls++
		if calls == 1 {
			return first.OrderNumber
		}
		return orig()
	}

	second, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderNumber, second.OrderNumber)
	assert.GreaterOrEqual(t, calls, 2)

	// The colliding attempt must not leave partial rows behind.
	var items int64
	require.NoError(t, db.Model(&models.OrderItem{}).Where("order_id = ?", second.ID).Count(&items).Error)
	assert.Equal(t, int64(1), items)
}

func TestRecordDownloadConsumesEntitlement(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig()
	cfg.DownloadLimit = 2
	svc := NewOrderService(db, cfg)
	user := createTestUser(t, db, "download@example.com")
	book := createTestBook(t, db, "downloadable", 10)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID}},
	})
	require.NoError(t, err)
	itemID := order.Items[0].ID

	item, err := svc.RecordDownload(context.Background(), itemID)
	require.NoError(t, err)
	assert.Equal(t, 1, item.DownloadCount)
	assert.Equal(t, 1, item.DownloadsRemaining())

	item, err = svc.RecordDownload(context.Background(), itemID)
	require.NoError(t, err)
	assert.Equal(t, 2, item.DownloadCount)

	item, err = svc.RecordDownload(context.Background(), itemID)
	assert.ErrorIs(t, err, ErrDownloadLimitExceeded)
	assert.Equal(t, 2, item.DownloadCount)
}

func TestRecordDownloadExpired(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "expired@example.com")
	book := createTestBook(t, db, "stale", 10)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID}},
	})
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&models.OrderItem{}).
		Where("id = ?", order.Items[0].ID).
		Update("download_expires_at", &past).Error)

	_, err = svc.RecordDownload(context.Background(), order.Items[0].ID)
	assert.ErrorIs(t, err, ErrDownloadExpired)
}

func TestRecordDownloadConcurrentNeverOversells(t *testing.T) {
	db := openTestDB(t)
	cfg := testConfig()
	cfg.DownloadLimit = 3
	svc := NewOrderService(db, cfg)
	user := createTestUser(t, db, "race@example.com")
	book := createTestBook(t, db, "contended", 10)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID}},
	})
	require.NoError(t, err)
	itemID := order.Items[0].ID

	const attempts = 6
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordDownload(context.Background(), itemID)
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, err := range errs {
		if err == nil {
			granted++
		} else {
			assert.ErrorIs(t, err, ErrDownloadLimitExceeded)
		}
	}
	assert.Equal(t, 3, granted)

	var item models.OrderItem
	require.NoError(t, db.First(&item, "id = ?", itemID).Error)
	assert.Equal(t, 3, item.DownloadCount)
}

func TestDeleteOrderCascades(t *testing.T) {
	db := openTestDB(t)
	svc := NewOrderService(db, testConfig())
	user := createTestUser(t, db, "delete@example.com")
	book := createTestBook(t, db, "deletable", 10)

	order, err := svc.CreateOrder(context.Background(), user, CreateOrderInput{
		Items: []OrderItemInput{{BookID: book.ID}},
	})
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.Payment{
		OrderID: order.ID,
		Amount:  order.TotalAmount,
		Status:  models.PaymentFailed,
	}).Error)

	require.NoError(t, svc.DeleteOrder(context.Background(), order.ID))

	var orders, items, payments int64
	require.NoError(t, db.Model(&models.Order{}).Count(&orders).Error)
	require.NoError(t, db.Model(&models.OrderItem{}).Count(&items).Error)
	require.NoError(t, db.Model(&models.Payment{}).Count(&payments).Error)
	assert.Zero(t, orders)
	assert.Zero(t, items)
	assert.Zero(t, payments)

	assert.ErrorIs(t, svc.DeleteOrder(context.Background(), order.ID), ErrNotFound)
}
