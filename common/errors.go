package common

import "errors"

// Error taxonomy of the disbursement service. Every error returned by a
// request wraps exactly one of these, so callers should match with errors.Is.
var (
	// ErrValidation is returned when request arguments are inconsistent:
	// length or sum mismatch, malformed transfer message, zero amounts where
	// positive ones are required. Nothing is written or dispatched.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is returned when the caller lacks the identity the
	// operation requires (owner, declared sender or the service itself).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrQuotaExceeded is returned when the caller's disbursement quota is
	// smaller than the number of legs requested.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrArithmetic is returned on division by zero, exponent underflow or
	// 256-bit overflow in amount and fee computations.
	ErrArithmetic = errors.New("arithmetic error")

	// ErrNotInitialized is returned by any operation invoked before Initialize.
	ErrNotInitialized = errors.New("service is not initialized")

	// ErrAlreadyInitialized is returned by a repeated Initialize.
	ErrAlreadyInitialized = errors.New("service is already initialized")

	// ErrUnknownOrchestration is returned when reconciliation is requested
	// for an orchestration that is not in flight (never existed or already
	// reconciled).
	ErrUnknownOrchestration = errors.New("unknown orchestration")
)
