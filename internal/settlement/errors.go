package settlement

import (
	"errors"
	"fmt"
	"strings"

	"phonepos/backend/internal/docstore"
)

var (
	ErrNotFound             = errors.New("settlement: record not found")
	ErrStoreOperationFailed = errors.New("settlement: store operation failed")
)

// ValidationError lists every field that blocks settlement. Nothing is read
// from or written to the store when it is returned.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// lookupErr maps a store error from discovery onto the settlement taxonomy.
func lookupErr(what string, err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreOperationFailed, what, err)
}

// Outcome names the metric label for a settlement error.
func Outcome(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &verr):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "store_failed"
	}
}
