package schema

import (
	"errors"
	"fmt"
)

// ValidationError marks a malformed task payload. Never retried; the
// task goes terminal FAILED immediately.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// ExecutionError marks a domain executor failure. Retried up to the
// task's max retries with exponential backoff.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return "execution: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// TimeoutError marks a stalled task or slow I/O. Retried on the same
// path as ExecutionError.
type TimeoutError struct {
	Elapsed string
}

func (e *TimeoutError) Error() string {
	return "timeout after " + e.Elapsed
}

// StoreError marks repository unavailability. The current queue cycle
// backs off and retries on the next tick.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// BroadcastError marks a failed push to observers. Absorbed by the
// circuit breaker, never fatal.
type BroadcastError struct {
	Err error
}

func (e *BroadcastError) Error() string {
	return "broadcast: " + e.Err.Error()
}

func (e *BroadcastError) Unwrap() error {
	return e.Err
}

// PanicError wraps a recovered panic value as an error.
func PanicError(v any) error {
	return fmt.Errorf("panic: %+v", v)
}

// Retryable reports whether a task failure should re-enter the queue.
// Validation failures are terminal; everything else follows the retry
// budget.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	return !errors.As(err, &ve)
}

// IsTimeout reports whether err is a timeout classification.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
