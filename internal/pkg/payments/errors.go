package payments

import "errors"

// Error taxonomy shared by the issuer, ingestor and state machine. Handlers
// map these onto HTTP responses; callers branch with errors.Is.
var (
	// ErrAlreadyPending is returned when a user already has an order in a
	// non-terminal status.
	ErrAlreadyPending = errors.New("payments: user already has an outstanding order")

	// ErrGatewayUnavailable is returned when the remote order creation call
	// fails. No local record exists in that case; the caller may retry.
	ErrGatewayUnavailable = errors.New("payments: payment gateway unavailable")

	// ErrPersistence marks a storage write failure. It is distinct from a
	// failed payment because the remote charge may already have succeeded.
	ErrPersistence = errors.New("payments: persistence failed")

	// ErrSignature marks a cryptographic signature mismatch. Always recorded
	// as a security signal, never retried.
	ErrSignature = errors.New("payments: invalid signature")

	// ErrValidation marks missing or malformed request fields.
	ErrValidation = errors.New("payments: invalid request")

	// ErrOrderNotFound is returned for transitions on unknown order ids.
	ErrOrderNotFound = errors.New("payments: order not found")

	// ErrConflict marks a contradiction with a terminal order status, e.g. a
	// failed notification arriving after the order was paid.
	ErrConflict = errors.New("payments: conflicting state transition")
)
