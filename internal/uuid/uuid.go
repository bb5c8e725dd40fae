// Package uuid provides id generation for cached records and queue entries.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Record ids are v4. Queue entry ids are v7 so they sort by enqueue time.
var (
	uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)
	uuidV7Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-7[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)
)

// New generates a record id (UUID v4).
func New() string {
	return uuid.New().String()
}

// NewEntryID generates a time-ordered queue entry id (UUID v7).
// Falls back to v4 if the clock source fails.
func NewEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return New()
	}
	return id.String()
}

// Parse parses any RFC 4122 UUID string.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	return id, nil
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// IsEntryID checks if a string is a valid UUID v7.
func IsEntryID(s string) bool {
	return uuidV7Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
