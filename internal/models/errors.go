package models

import (
	"errors"
	"fmt"
)

// Error kinds used across the ingestion pipeline. Only ErrValidation and
// ErrStorage ever reach a caller of the orchestrator.
var (
	ErrValidation   = errors.New("validation error")
	ErrStorage      = errors.New("storage error")
	ErrProjection   = errors.New("projection error")
	ErrNotification = errors.New("notification error")
	ErrNotFound     = errors.New("not found")

	// ErrUnavailable marks a storage failure that happened before anything
	// was sent to the store, so the write certainly did not land. It is
	// always wrapped together with ErrStorage.
	ErrUnavailable = errors.New("store unavailable")
)

// WrapError tags err with a kind and the failing operation
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
