package state

import (
	"errors"
	"fmt"
)

// Error definitions
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnsupported      = errors.New("operation not supported")
	ErrNothingToUndo    = errors.New("nothing to undo")
	ErrNothingToRedo    = errors.New("nothing to redo")
	ErrConnectionLost   = errors.New("connection to relay lost")
	ErrSnapshotTimeout  = errors.New("snapshot request timed out")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrAlreadyApplied   = errors.New("sequence already applied")
)

// ValidationError reports a malformed operation. It is raised before
// submission and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid operation: %s %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// OrderingGap is returned when a committed operation arrives ahead of the
// local log.
type OrderingGap struct {
	Expected uint64
	Got      uint64
}

func (e *OrderingGap) Error() string {
	return fmt.Sprintf("ordering gap: expected sequence %d, got %d", e.Expected, e.Got)
}

// Retryable reports whether err belongs to the connection class of errors,
// which are retried with backoff. Validation and permission errors are final.
func Retryable(err error) bool {
	var gap *OrderingGap
	return errors.Is(err, ErrConnectionLost) || errors.As(err, &gap)
}
