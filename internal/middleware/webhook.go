package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/ebookstore/internal/services"
)

// WebhookAuthMiddleware validates the gateway's HMAC signature over the
// raw request body before the webhook handler runs. With no webhook
// secret configured verification fails closed.
func WebhookAuthMiddleware(payments *services.PaymentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		signature := c.Get("X-Razorpay-Signature")
		if !payments.VerifyWebhookSignature(c.Body(), signature) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook signature")
		}
		return c.Next()
	}
}
