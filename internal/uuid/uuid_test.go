// Package uuid provides unit tests for id generation and validation.
package uuid

import (
	"sort"
	"testing"
)

// TestNew tests that New() generates valid UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()
	if !IsValid(id) {
		t.Errorf("Generated id does not match v4 format: %s", id)
	}
}

// TestNewUniqueness tests that New() generates unique IDs.
func TestNewUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if ids[id] {
			t.Errorf("Duplicate UUID generated: %s", id)
		}
		ids[id] = true
	}
}

// TestNewEntryID tests entry ids are v7 and sort in generation order.
func TestNewEntryID(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = NewEntryID()
		if !IsEntryID(ids[i]) {
			t.Fatalf("entry id does not match v7 format: %s", ids[i])
		}
	}

	if !sort.StringsAreSorted(ids) {
		t.Error("entry ids should sort in generation order")
	}
}

// TestIsValid tests UUID v4 validation.
func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		uuid string
		want bool
	}{
		{"valid UUID v4", "f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
		{"valid UUID v4 uppercase", "6BA7B810-9DAD-41D1-80B4-00C04FD430C8", true},
		{"empty string", "", false},
		{"too short", "f47ac10b-58cc-4372-a567", false},
		{"missing dashes", "f47ac10b58cc4372a5670e02b2c3d479", false},
		{"v1 instead of v4", "f47ac10b-58cc-1372-a567-0e02b2c3d479", false},
		{"v7 is not a record id", "01890a5d-ac96-774b-bcce-b302099a8057", false},
		{"invalid variant", "f47ac10b-58cc-4372-c567-0e02b2c3d479", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.uuid); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.uuid, got, tt.want)
			}
		})
	}
}

// TestValidate tests Validate() error reporting.
func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Validate(New()) error = %v", err)
	}
	if err := Validate("not-a-uuid"); err == nil {
		t.Error("Validate(not-a-uuid) should fail")
	}
}

// TestParse tests Parse() accepts any version and round-trips.
func TestParse(t *testing.T) {
	for _, s := range []string{New(), NewEntryID()} {
		parsed, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", s, err)
		}
		if parsed.String() != s {
			t.Errorf("round trip: got %q, want %q", parsed.String(), s)
		}
	}
	if _, err := Parse("nope"); err == nil {
		t.Error("Parse(nope) should fail")
	}
}

// BenchmarkNewEntryID benchmarks entry id generation.
func BenchmarkNewEntryID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewEntryID()
	}
}
