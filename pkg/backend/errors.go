package backend

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by every backend, the registry and the router.
var (
	// ErrUnsupportedBackend is returned for an unknown backend token.
	ErrUnsupportedBackend = errors.New("unsupported backend")

	// ErrNotInitialized is returned when no backend is active.
	ErrNotInitialized = errors.New("backend not initialized")

	// ErrAlreadyInitialized is returned when a backend is already active.
	ErrAlreadyInitialized = errors.New("backend already initialized")

	// ErrMalformedRequest is returned when request params cannot be decoded.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrBackendUnavailable is returned when the data source cannot be
	// reached, times out, or answers with a transport-level failure.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrSyncIncomplete is returned when the backend knows no chain tip yet.
	ErrSyncIncomplete = errors.New("backend has no chain tip yet")

	// ErrProtocolFault is returned when a backend answers with data that
	// contradicts its own contract.
	ErrProtocolFault = errors.New("backend protocol fault")
)

// Not-found conditions. The router turns these into null-filled responses.
var (
	// ErrBlockNotFound is returned when no block exists at a height yet.
	ErrBlockNotFound = errors.New("block not found")

	// ErrUtxoNotFound is returned when an output is spent or never existed.
	ErrUtxoNotFound = errors.New("output spent or missing")

	// ErrFeesUnavailable is returned when the backend cannot estimate fees.
	ErrFeesUnavailable = errors.New("fee estimation unavailable")
)

// ErrFeeTooHigh is returned when a broadcast is refused by the fee-sanity
// check.
var ErrFeeTooHigh = errors.New("transaction fee rate too high")

// UnsupportedBackendError carries the offending configuration token.
type UnsupportedBackendError struct {
	Token string
}

// Error implements the error interface.
func (e *UnsupportedBackendError) Error() string {
	return fmt.Sprintf("client %s not supported", e.Token)
}

// Is makes errors.Is(err, ErrUnsupportedBackend) true.
func (e *UnsupportedBackendError) Is(target error) bool {
	return target == ErrUnsupportedBackend
}

// Unavailable wraps a transport failure as ErrBackendUnavailable. The cause
// stays in the chain.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}

// ProtocolFault builds an ErrProtocolFault with a formatted reason.
func ProtocolFault(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProtocolFault, fmt.Sprintf(format, args...))
}

// IsTimeout reports whether err came from a deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
