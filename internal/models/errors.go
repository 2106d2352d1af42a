package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEbookNotFound means the referenced ebook does not exist
	ErrEbookNotFound = errors.New("ebook not found")

	// ErrJobNotFound means the referenced job record does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrPrecondition means a stage cannot run against the ebook's current state
	ErrPrecondition = errors.New("precondition failed")

	// ErrInvalidTransition is a precondition failure raised by the state machine
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrPrecondition)

	// ErrGeneration means the content generation capability failed or returned unusable output
	ErrGeneration = errors.New("content generation failed")

	// ErrRendererUnavailable means no document renderer is configured
	ErrRendererUnavailable = errors.New("document renderer unavailable")

	// ErrStoreWrite means a write to the record store failed
	ErrStoreWrite = errors.New("store write failed")

	// ErrInvalidRequest means caller input failed validation
	ErrInvalidRequest = errors.New("invalid request")
)

// PreconditionError builds a precondition failure with a reason
func PreconditionError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}
