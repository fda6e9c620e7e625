package services

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/ebookstore/internal/config"
	"github.com/example/ebookstore/internal/database"
	"github.com/example/ebookstore/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps every session on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:             "test-secret",
		TokenExpires:          time.Hour,
		RazorpayKeyID:         "rzp_test_key",
		RazorpayKeySecret:     "rzp_test_secret",
		RazorpayWebhookSecret: "whsec_test",
		DefaultCurrency:       "USD",
		TaxRate:               0,
		DownloadLimit:         5,
		DownloadTTLDays:       365,
	}
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := &models.User{
		Email:        email,
		FirstName:    "Test",
		LastName:     "Customer",
		PasswordHash: "x",
		Role:         models.RoleCustomer,
		IsActive:     true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createTestBook(t *testing.T, db *gorm.DB, title string, price float64) *models.Book {
	t.Helper()

	book := &models.Book{
		Title:  title,
		Slug:   title,
		Price:  price,
		Status: models.BookActive,
	}
	require.NoError(t, db.Create(book).Error)
	return book
}
