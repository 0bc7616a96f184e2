package core

import (
	"errors"
	"fmt"
)

var (
	// ErrOverloaded is returned when the pending-request ceiling is exceeded.
	// The request is shed, never queued.
	ErrOverloaded = errors.New("Sorry, the AI service is currently overloaded. Please try again later.")

	// ErrBusy is returned when no admission permit became available within the
	// bounded wait.
	ErrBusy = errors.New("Sorry, the AI service is currently busy. Please try again later.")

	// ErrGeneration matches every *GenerationError via errors.Is.
	ErrGeneration = errors.New("generation failed")

	// ErrStateConflict reports an operation on an ended session or an
	// agent/participant that already belongs to another active session.
	ErrStateConflict = errors.New("state conflict")

	// ErrNotFound reports an unknown agent, location or session.
	ErrNotFound = errors.New("not found")
)

// GenerationError describes a failed call to the generation endpoint
// (transport error, timeout, non-success status or malformed response).
type GenerationError struct {
	Provider string
	Reason   string
	Err      error
}

// NewGenerationError builds a GenerationError for provider.
func NewGenerationError(provider, reason string, err error) *GenerationError {
	return &GenerationError{Provider: provider, Reason: reason, Err: err}
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s generation failed: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s generation failed: %s: %v", e.Provider, e.Reason, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *GenerationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrGeneration) match any GenerationError.
func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// IsRejection reports whether err is an admission-control denial
// (overloaded or busy) rather than a failed call.
func IsRejection(err error) bool {
	return errors.Is(err, ErrOverloaded) || errors.Is(err, ErrBusy)
}
