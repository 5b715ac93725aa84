package esplora

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoEndpoints is returned when the backend has no base URL.
	ErrNoEndpoints = errors.New("no esplora endpoints configured")

	// errNotFound marks a 404 answer. Callers translate it into the
	// matching backend not-found sentinel.
	errNotFound = errors.New("not found")
)

// StatusError is a non-2xx answer from an Esplora server.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface. Esplora puts bitcoind's reject
// reason in the body, so it is kept verbatim.
func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("esplora: HTTP %d", e.Code)
	}
	return fmt.Sprintf("esplora: HTTP %d: %s", e.Code, body)
}

// Is makes a 404 StatusError match errNotFound.
func (e *StatusError) Is(target error) bool {
	return target == errNotFound && e.Code == http.StatusNotFound
}

// isEndpointFailure reports whether a status code says the server, not the
// request, is at fault.
func isEndpointFailure(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}
