package app

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrNoProgress       = errors.New("set your progress first")
	ErrChapterLimit     = errors.New("chapter limit is beyond your progress")
	ErrQueueUnavailable = errors.New("answer generation unavailable")
)

// ValidationError is a rejected request body; Error is the user-facing text.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
