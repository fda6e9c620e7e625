package services

import "errors"

// Domain errors returned by the order and payment services. Handlers map
// these to HTTP status codes; none of them should crash the process.
var (
	ErrNotFound              = errors.New("resource not found")
	ErrBookUnavailable       = errors.New("book is not available for purchase")
	ErrAlreadyPaid           = errors.New("order is already paid")
	ErrOrderNotCompleted     = errors.New("order is not completed")
	ErrInvalidSignature      = errors.New("invalid payment signature")
	ErrGatewayNotConfigured  = errors.New("payment gateway not configured")
	ErrAccessDenied          = errors.New("access denied")
	ErrValidation            = errors.New("validation failed")
	ErrDownloadLimitExceeded = errors.New("download limit exceeded")
	ErrDownloadExpired       = errors.New("download period expired")
)
