// Package errors provides error codes for the offline sync core.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code surfaced to callers and the local API.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local persistence errors
	ErrStorage   ErrorCode = "STORAGE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrSyncFailed   ErrorCode = "SYNC_FAILED"
	ErrSyncNetwork  ErrorCode = "SYNC_NETWORK"
	ErrSyncTimeout  ErrorCode = "SYNC_TIMEOUT"
	ErrSyncConflict ErrorCode = "SYNC_CONFLICT"

	// Export errors
	ErrExportFailed     ErrorCode = "EXPORT_FAILED"
	ErrInvalidPassword  ErrorCode = "INVALID_PASSWORD"
	ErrCorruptedArchive ErrorCode = "CORRUPTED_ARCHIVE"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any AppError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsTerminal reports whether retrying the operation that produced err cannot succeed.
// Conflicts and validation rejections are terminal; everything else is retried
// up to the queue's attempt ceiling.
func IsTerminal(err error) bool {
	return Is(err, ErrSyncConflict) || Is(err, ErrValidation)
}

// Classify normalizes a remote-call error into the sync taxonomy.
// Context deadlines become SYNC_TIMEOUT, already-coded errors pass through,
// anything else is treated as a network failure.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrSyncTimeout, "remote call timed out", err)
	}
	return Wrap(ErrSyncNetwork, "remote call failed", err)
}
