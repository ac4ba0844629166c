package apiclient

import (
	"errors"
	"net/http"
)

var (
	// ErrAuthRequired means the backend rejected the credential; it has been cleared.
	ErrAuthRequired = errors.New("authentication required")
	// ErrUnavailable covers network failures and 5xx responses; callers may retry.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")
)

// APIError represents a backend error envelope.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Unwrap maps HTTP statuses onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrAuthRequired
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status >= 500:
		return ErrUnavailable
	default:
		return nil
	}
}

type transportError struct {
	op  string
	err error
}

func (e *transportError) Error() string {
	return e.op + ": " + e.err.Error()
}

func (e *transportError) Unwrap() []error {
	return []error{ErrUnavailable, e.err}
}
