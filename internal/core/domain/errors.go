package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation covers bad input shape: unsupported file formats, unknown
	// event names, malformed payloads. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrTransient covers network/storage hiccups worth a bounded retry.
	ErrTransient = errors.New("transient failure")
	// ErrProcessing covers OCR or scoring failures with no retry benefit,
	// e.g. a corrupt image.
	ErrProcessing = errors.New("processing failed")
	// ErrDelivery covers webhook POST failures, retried per delivery policy.
	ErrDelivery = errors.New("delivery failed")

	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
