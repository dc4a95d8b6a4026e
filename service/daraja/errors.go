package daraja

import "errors"

var (
	ErrAuth                 = errors.New("gateway authentication failed")
	ErrNotConfigured        = errors.New("gateway credentials are not configured")
	ErrInvalidPhone         = errors.New("invalid phone number")
	ErrInvalidAmount        = errors.New("amount must be a whole number between 1 and 70000")
	ErrGatewayRejected      = errors.New("gateway rejected the request")
	ErrTransient            = errors.New("gateway temporarily unavailable")
	ErrMalformedCallback    = errors.New("malformed callback payload")
	ErrMissingCorrelationID = errors.New("callback has no CheckoutRequestID")
	ErrIncompleteCallback   = errors.New("callback metadata is incomplete")
)
