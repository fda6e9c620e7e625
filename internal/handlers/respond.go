package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/example/ebookstore/internal/services"
	"github.com/example/ebookstore/internal/utils"
)

// domainError translates service-level errors into HTTP responses.
// Anything unrecognized bubbles up to Fiber's error handler as a 500.
func domainError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrBookUnavailable),
		errors.Is(err, services.ErrAlreadyPaid),
		errors.Is(err, services.ErrInvalidSignature),
		errors.Is(err, services.ErrOrderNotCompleted):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrAccessDenied),
		errors.Is(err, services.ErrDownloadLimitExceeded),
		errors.Is(err, services.ErrDownloadExpired):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrGatewayNotConfigured):
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	default:
		return err
	}
}

func requestInfo(c *fiber.Ctx) services.RequestInfo {
	return services.RequestInfo{
		IPAddress: c.IP(),
		UserAgent: c.Get("User-Agent"),
	}
}

func paginationEnvelope(pg utils.Pagination, total int64) fiber.Map {
	return fiber.Map{
		"current_page":   pg.Page,
		"items_per_page": pg.Limit,
		"total_items":    total,
	}
}
