package database

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQueryKind is returned when a statement is passed to the wrong
	// runner method or without parameter sets.
	ErrInvalidQueryKind  = errors.New("invalid query kind")
	ErrTransactionStart  = errors.New("could not start transaction")
	ErrTransactionCommit = errors.New("could not commit transaction")
)

// BindError reports a placeholder that could not be bound. Set is 1-based.
type BindError struct {
	Param string
	Set   int
	Err   error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind parameter %q of set %d: %v", e.Param, e.Set, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ExecutionError reports a failed execution of a parameter set. Set is 1-based.
type ExecutionError struct {
	Set int
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute set %d: %v", e.Set, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// BatchExecutionError aborts a batch running inside a transaction. Set is 0-based.
type BatchExecutionError struct {
	Set int
	Err error
}

func (e *BatchExecutionError) Error() string {
	return fmt.Sprintf("batch aborted at set %d: %v", e.Set, e.Err)
}

func (e *BatchExecutionError) Unwrap() error { return e.Err }

// BulkChangeError is returned by ChangeInBulk after the transaction was rolled back
// (or the rollback was attempted and failed).
type BulkChangeError struct {
	Err            error
	RollbackFailed bool
}

func (e *BulkChangeError) Error() string {
	msg := fmt.Sprintf("bulk change failed: %v", e.Err)
	if e.RollbackFailed {
		msg += " (rollback failed as well)"
	}
	return msg
}

func (e *BulkChangeError) Unwrap() error { return e.Err }

// NotAnEntityError names the position of a value that has no parameter projection.
type NotAnEntityError struct {
	Index int
}

func (e *NotAnEntityError) Error() string {
	return fmt.Sprintf("value at index %d does not implement Projector", e.Index)
}

// MissingIndexColumnError is returned when a row lacks the requested index column.
type MissingIndexColumnError struct {
	Column string
}

func (e *MissingIndexColumnError) Error() string {
	return fmt.Sprintf("index column %q missing from row", e.Column)
}

// UnknownFieldError names a field that a record type has no setter for.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q", e.Field)
}
