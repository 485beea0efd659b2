package mirror

import (
	"errors"
	"fmt"

	"sync-bridge/core/engine"
)

// ErrAwaitTimeout is returned by Await when the requested keys were not all
// observed before the deadline.
var ErrAwaitTimeout = errors.New("timed out waiting for keys")

// ErrStopped is returned by operations invoked on a stopped session. A
// stopped session is never resumed; callers create a fresh one.
var ErrStopped = errors.New("session is stopped")

// ValidationError marks one row whose payload failed validation. The row is
// skipped and logged; the surrounding load or batch continues.
type ValidationError struct {
	// Key is the affected record key.
	Key string

	// Reason describes what failed.
	Reason string

	// Err is the underlying validator error, if any.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed for key %q: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("validation failed for key %q: %s", e.Key, e.Reason)
}

// Unwrap returns the underlying validator error.
func (e *ValidationError) Unwrap() error { return e.Err }

// TransactionError wraps a failed mutation batch. It propagates to the
// caller of the mutation handler; the affected keys are deliberately not
// marked as locally written, so a retry of the same batch is never
// mistaken for an echo and suppressed.
type TransactionError struct {
	// Op is the mutation kind that failed.
	Op engine.Op

	// Keys are the record keys in the failed batch.
	Keys []string

	// Err is the underlying engine error.
	Err error
}

// Error implements the error interface.
func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s transaction failed for keys %v: %v", e.Op, e.Keys, e.Err)
}

// Unwrap returns the underlying engine error.
func (e *TransactionError) Unwrap() error { return e.Err }

// InitializationError wraps a session setup failure (table creation,
// trigger installation, or subscription). The collection is still marked
// ready so observers are never stuck waiting, then the error is returned
// from Start for the caller to surface or retry.
type InitializationError struct {
	// Table is the table the session was initializing.
	Table string

	// Err is the underlying setup error.
	Err error
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("failed to initialize sync for table %q: %v", e.Table, e.Err)
}

// Unwrap returns the underlying setup error.
func (e *InitializationError) Unwrap() error { return e.Err }
