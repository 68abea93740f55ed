package query

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is matched by every argument validation failure.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOperationCancelled is returned when the caller cancels a query before it completes.
	ErrOperationCancelled = errors.New("operation cancelled")

	// ErrNotFound is reserved for application handlers that escalate an absent result.
	// The query engine itself never returns it.
	ErrNotFound = errors.New("not found")
)

// ArgumentError identifies the offending parameter of a rejected call.
// Index is the position of the bad element inside a batch argument, or -1
// when the whole argument is at fault.
type ArgumentError struct {
	Param  string
	Index  int
	Reason string
}

// NewArgumentError creates an ArgumentError for a whole argument.
func NewArgumentError(param, reason string) *ArgumentError {
	return &ArgumentError{Param: param, Index: -1, Reason: reason}
}

// NewElementError creates an ArgumentError for a single element of a batch argument.
func NewElementError(param string, index int, reason string) *ArgumentError {
	return &ArgumentError{Param: param, Index: index, Reason: reason}
}

// Error returns the error message.
func (e *ArgumentError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid argument %q: element %d %s", e.Param, e.Index, e.Reason)
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Param, e.Reason)
}

// Is reports whether target is ErrInvalidArgument.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// IsElement reports whether the error concerns an element of a batch rather than the batch itself.
func (e *ArgumentError) IsElement() bool {
	return e.Index >= 0
}

// cancelledError wraps the context error so both ErrOperationCancelled and
// context.Canceled / context.DeadlineExceeded match.
type cancelledError struct {
	cause error
}

func (e *cancelledError) Error() string {
	return fmt.Sprintf("%s: %v", ErrOperationCancelled, e.cause)
}

func (e *cancelledError) Is(target error) bool {
	return target == ErrOperationCancelled
}

func (e *cancelledError) Unwrap() error {
	return e.cause
}

// Cancelled wraps a context error as an operation-cancelled error.
// It returns nil when cause is nil.
func Cancelled(cause error) error {
	if cause == nil {
		return nil
	}
	var ce *cancelledError
	if errors.As(cause, &ce) {
		return cause
	}
	return &cancelledError{cause: cause}
}

// ParamOf returns the parameter name carried by err, if any.
func ParamOf(err error) (string, bool) {
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		return argErr.Param, true
	}
	return "", false
}
