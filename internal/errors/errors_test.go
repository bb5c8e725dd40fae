// Package errors tests for error code definitions and classification.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrStorage, Message: "put record", Err: errors.New("disk full")},
			want:     "[STORAGE_ERROR] put record: disk full",
		},
		{
			name:     "not found error",
			appError: &AppError{Code: ErrNotFound, Message: "record not found"},
			want:     "[NOT_FOUND] record not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestAppError_Unwrap verifies unwrapping of underlying error.
func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")

	err := Wrap(ErrSyncNetwork, "post failed", underlying)
	if err.Unwrap() != underlying {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), underlying)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should find the wrapped error")
	}

	if New(ErrInternal, "failed").Unwrap() != nil {
		t.Error("New() should not wrap an error")
	}
}

// TestIs verifies error code checking across wrapped chains.
func TestIs(t *testing.T) {
	conflict := New(ErrSyncConflict, "record deleted remotely")

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching AppError", conflict, ErrSyncConflict, true},
		{"non-matching AppError", conflict, ErrInternal, false},
		{"fmt wrapped", fmt.Errorf("apply entry: %w", conflict), ErrSyncConflict, true},
		{"AppError wrapping AppError", Wrap(ErrSyncFailed, "sweep", conflict), ErrSyncConflict, true},
		{"standard error", errors.New("standard error"), ErrInternal, false},
		{"nil error", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCodeOf verifies the outermost code is returned.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(ErrValidation, "bad payload")); got != ErrValidation {
		t.Errorf("CodeOf() = %q, want %q", got, ErrValidation)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrInternal)
	}
}

// TestIsTerminal verifies which failures skip the retry ceiling.
func TestIsTerminal(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrSyncConflict, true},
		{ErrValidation, true},
		{ErrSyncNetwork, false},
		{ErrSyncTimeout, false},
		{ErrSyncFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := IsTerminal(New(tt.code, "x")); got != tt.want {
				t.Errorf("IsTerminal(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

// TestClassify verifies remote errors are mapped into the sync taxonomy.
func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}

	timeout := Classify(fmt.Errorf("post: %w", context.DeadlineExceeded))
	if !Is(timeout, ErrSyncTimeout) {
		t.Errorf("deadline should classify as timeout, got %v", timeout)
	}

	network := Classify(errors.New("connection refused"))
	if !Is(network, ErrSyncNetwork) {
		t.Errorf("plain error should classify as network, got %v", network)
	}

	conflict := New(ErrSyncConflict, "gone")
	if Classify(conflict) != conflict {
		t.Error("coded errors should pass through unchanged")
	}
}

// TestErrorCodes_areUnique verifies all error codes are unique and uppercase.
func TestErrorCodes_areUnique(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrValidation,
		ErrStorage, ErrMigration,
		ErrSyncFailed, ErrSyncNetwork, ErrSyncTimeout, ErrSyncConflict,
		ErrExportFailed, ErrInvalidPassword, ErrCorruptedArchive,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if seen[code] {
			t.Errorf("ErrorCode %q is duplicated", code)
		}
		seen[code] = true

		if str := string(code); str != strings.ToUpper(str) {
			t.Errorf("ErrorCode %q should be uppercase", str)
		}
	}
}
