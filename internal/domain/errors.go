package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates that a referenced record or stored object is missing.
var ErrNotFound = errors.New("not found")

// ErrBatchCancelled indicates that processing stopped because cancellation was requested.
var ErrBatchCancelled = errors.New("batch cancellation requested")

// ErrClaimLost indicates that a worker's claim on an item was revoked while
// it was still working, typically by the watchdog after a stall. The worker
// must abandon the item; whoever holds the claim now owns its state.
var ErrClaimLost = errors.New("item claim lost")

// TransientError wraps an error that is expected to succeed on retry
// (network hiccups, storage timeouts). Workers retry these up to the
// item's retry budget.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
// Parameters:
//   - err: underlying cause.
// Returns:
//   - error: retryable wrapper, or nil if err is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable.
// Parameters:
//   - err: error to classify.
// Returns:
//   - bool: true if err wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// CorruptInputError indicates unreadable input (e.g. an image that cannot
// be decoded). These fail immediately without retry.
type CorruptInputError struct {
	Reason string
	Err    error
}

func (e *CorruptInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt input: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt input: %s", e.Reason)
}

func (e *CorruptInputError) Unwrap() error {
	return e.Err
}

// IsCorruptInput reports whether err is a CorruptInputError.
func IsCorruptInput(err error) bool {
	var ce *CorruptInputError
	return errors.As(err, &ce)
}

// InvalidTransitionError indicates an attempted item state transition that
// the state machine does not allow.
type InvalidTransitionError struct {
	From ItemState
	To   ItemState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q", e.From, e.To)
}
