package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/ebookstore/internal/config"
	"github.com/example/ebookstore/internal/handlers"
	"github.com/example/ebookstore/internal/middleware"
	"github.com/example/ebookstore/internal/models"
	"github.com/example/ebookstore/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config) {
	auditService := services.NewAuditService(db)
	orderService := services.NewOrderService(db, cfg)
	paymentService := services.NewPaymentService(db, orderService, cfg)

	authHandler := handlers.NewAuthHandler(db, cfg, auditService)
	catalogHandler := handlers.NewCatalogHandler(db, auditService)
	bookHandler := handlers.NewBookHandler(db, auditService)
	orderHandler := handlers.NewOrderHandler(db, orderService, auditService)
	paymentHandler := handlers.NewPaymentHandler(db, paymentService, auditService)
	adminHandler := handlers.NewAdminHandler(db, auditService)

	requireAuth := middleware.AuthMiddleware(db, cfg)
	requireStaff := middleware.RequireRoles(models.RoleEditor, models.RoleAdmin)
	requireAdmin := middleware.RequireRoles(models.RoleAdmin)

	api := app.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", requireAuth, authHandler.Me)
	auth.Put("/me", requireAuth, authHandler.UpdateMe)
	auth.Post("/change-password", requireAuth, authHandler.ChangePassword)

	// Public catalog
	authors := api.Group("/authors")
	authors.Get("/", catalogHandler.ListAuthors)
	authors.Get("/stats", requireAuth, requireStaff, catalogHandler.AuthorStats)
	authors.Get("/:id", catalogHandler.GetAuthor)
	authors.Post("/", requireAuth, requireStaff, catalogHandler.CreateAuthor)
	authors.Put("/:id", requireAuth, requireStaff, catalogHandler.UpdateAuthor)
	authors.Delete("/:id", requireAuth, requireStaff, catalogHandler.DeleteAuthor)

	categories := api.Group("/categories")
	categories.Get("/", catalogHandler.ListCategories)
	categories.Get("/slug/:slug", catalogHandler.GetCategoryBySlug)
	categories.Get("/:id", catalogHandler.GetCategory)
	categories.Post("/", requireAuth, requireStaff, catalogHandler.CreateCategory)
	categories.Put("/:id", requireAuth, requireStaff, catalogHandler.UpdateCategory)
	categories.Patch("/:id/toggle", requireAuth, requireAdmin, catalogHandler.ToggleCategoryStatus)
	categories.Delete("/:id", requireAuth, requireStaff, catalogHandler.DeleteCategory)

	books := api.Group("/books")
	books.Get("/", bookHandler.ListBooks)
	books.Get("/stats", requireAuth, requireStaff, bookHandler.BookStats)
	books.Get("/:id", bookHandler.GetBook)
	books.Post("/", requireAuth, requireStaff, bookHandler.CreateBook)
	books.Put("/:id", requireAuth, requireStaff, bookHandler.UpdateBook)
	books.Delete("/:id", requireAuth, requireStaff, bookHandler.DeleteBook)

	// Checkout and downloads
	orders := api.Group("/orders", requireAuth)
	orders.Post("/", orderHandler.CreateOrder)
	orders.Get("/", orderHandler.ListMyOrders)
	orders.Get("/:id", orderHandler.GetMyOrder)
	orders.Post("/:id/items/:itemId/download", orderHandler.DownloadItem)

	// Payments
	payments := api.Group("/payments")
	payments.Get("/methods", paymentHandler.ListPaymentMethods)
	payments.Post("/razorpay/order", requireAuth, paymentHandler.CreateGatewayOrder)
	payments.Post("/razorpay/verify", requireAuth, paymentHandler.VerifyPayment)
	payments.Post("/razorpay/webhook", middleware.WebhookAuthMiddleware(paymentService), paymentHandler.Webhook)

	// Admin
	admin := api.Group("/admin", requireAuth, requireAdmin)
	admin.Get("/dashboard", adminHandler.Dashboard)

	admin.Get("/users", adminHandler.ListUsers)
	admin.Post("/users", adminHandler.CreateUser)
	admin.Get("/users/:id", adminHandler.GetUser)
	admin.Put("/users/:id", adminHandler.UpdateUser)
	admin.Patch("/users/:id/toggle", adminHandler.ToggleUserStatus)

	admin.Get("/orders", orderHandler.ListOrders)
	admin.Get("/orders/stats", orderHandler.OrderStats)
	admin.Get("/orders/:id", orderHandler.GetOrder)
	admin.Put("/orders/:id/status", orderHandler.UpdateOrderStatus)
	admin.Delete("/orders/:id", orderHandler.DeleteOrder)

	admin.Get("/payments", paymentHandler.ListPayments)
	admin.Get("/analytics/events", adminHandler.ListAnalyticsEvents)
	admin.Get("/audit-logs", adminHandler.ListAuditLogs)

	admin.Get("/settings", adminHandler.ListSettings)
	admin.Put("/settings/:key", adminHandler.UpsertSetting)
}
