// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
)

func validDiary() *DiaryEntry {
	return &DiaryEntry{
		AuthorID:  "user-1",
		Title:     "Picnic",
		Content:   "Sandwiches by the river",
		Mood:      "happy",
		EntryDate: "2024-05-01",
	}
}

// =====================================================
// EntityType Tests
// =====================================================

// TestEntityType_order verifies sweep ordering and table names.
func TestEntityType_order(t *testing.T) {
	types := EntityTypes()
	want := []string{"diary_entries", "date_plans", "memories"}

	for i, et := range types {
		if et.Order() != i {
			t.Errorf("%s.Order() = %d, want %d", et, et.Order(), i)
		}
		if et.TableName() != want[i] {
			t.Errorf("%s.TableName() = %q, want %q", et, et.TableName(), want[i])
		}
	}

	if EntityType("photo").Valid() {
		t.Error("unknown entity type should be invalid")
	}
}

// TestParseEntityType verifies parsing of path values.
func TestParseEntityType(t *testing.T) {
	if et, err := ParseEntityType("memory"); err != nil || et != EntityMemory {
		t.Errorf("ParseEntityType(memory) = %v, %v", et, err)
	}
	if _, err := ParseEntityType("diaries"); err == nil {
		t.Error("ParseEntityType(diaries) should fail")
	}
}

// =====================================================
// CachedRecord JSON Tests
// =====================================================

// TestCachedRecord_MarshalJSON verifies the flat wire form.
func TestCachedRecord_MarshalJSON(t *testing.T) {
	rec := &CachedRecord{
		ID:         "rec-1",
		EntityType: EntityDiary,
		ScopeKey:   "couple-1",
		SyncStatus: SyncPending,
		CreatedAt:  1714521600000,
		UpdatedAt:  1714521600000,
		Payload:    validDiary(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	checks := map[string]interface{}{
		"id":          "rec-1",
		"entity_type": "diary",
		"scope_key":   "couple-1",
		"sync_status": "pending",
		"title":       "Picnic",
		"entry_date":  "2024-05-01",
	}
	for k, want := range checks {
		if fields[k] != want {
			t.Errorf("fields[%q] = %v, want %v", k, fields[k], want)
		}
	}
}

// TestDecodeRecord verifies decoding a remote response without entity_type.
func TestDecodeRecord(t *testing.T) {
	body := `{"id":"srv-9","scope_key":"couple-1","created_at":5,"updated_at":6,
		"title":"Beach","memory_date":"2024-06-01","tags":["sea","sun"]}`

	rec, err := DecodeRecord(EntityMemory, []byte(body))
	if err != nil {
		t.Fatalf("DecodeRecord() error = %v", err)
	}

	mem, ok := rec.Payload.(*Memory)
	if !ok {
		t.Fatalf("Payload type = %T, want *Memory", rec.Payload)
	}
	if rec.ID != "srv-9" || rec.EntityType != EntityMemory || rec.CreatedAt != 5 {
		t.Errorf("envelope = %+v", rec)
	}
	if mem.Title != "Beach" || len(mem.Tags) != 2 {
		t.Errorf("payload = %+v", mem)
	}
	if rec.SyncStatus != "" {
		t.Errorf("SyncStatus = %q, want empty for remote records", rec.SyncStatus)
	}
}

// TestDecodeRecord_typeMismatch verifies an explicit conflicting type is rejected.
func TestDecodeRecord_typeMismatch(t *testing.T) {
	_, err := DecodeRecord(EntityDiary, []byte(`{"id":"x","entity_type":"date"}`))
	if err == nil {
		t.Error("DecodeRecord() should reject mismatched entity_type")
	}
}

// TestApplyPatch verifies only patched fields change.
func TestApplyPatch(t *testing.T) {
	orig := validDiary()

	patched, err := ApplyPatch(orig, []byte(`{"title":"Rainy picnic","id":"ignored"}`))
	if err != nil {
		t.Fatalf("ApplyPatch() error = %v", err)
	}

	d := patched.(*DiaryEntry)
	if d.Title != "Rainy picnic" {
		t.Errorf("Title = %q", d.Title)
	}
	if d.Content != orig.Content || d.EntryDate != orig.EntryDate {
		t.Errorf("unpatched fields changed: %+v", d)
	}
	if orig.Title != "Picnic" {
		t.Error("ApplyPatch() must not mutate the original payload")
	}
}

// TestCachedRecord_Clone verifies clones share no mutable state.
func TestCachedRecord_Clone(t *testing.T) {
	rec := &CachedRecord{
		ID:         "m1",
		EntityType: EntityMemory,
		Payload:    &Memory{Title: "a", MemoryDate: "2024-01-01", Tags: []string{"x"}},
	}

	c := rec.Clone()
	c.Payload.(*Memory).Tags[0] = "changed"
	c.Payload.(*Memory).Title = "b"

	orig := rec.Payload.(*Memory)
	if orig.Tags[0] != "x" || orig.Title != "a" {
		t.Errorf("original mutated through clone: %+v", orig)
	}
}

// TestCachedRecord_times verifies millisecond timestamps.
func TestCachedRecord_times(t *testing.T) {
	rec := &CachedRecord{CreatedAt: 1714521600123}
	if got := rec.CreatedAtTime().UnixMilli(); got != 1714521600123 {
		t.Errorf("CreatedAtTime() = %d", got)
	}

	before := time.Now().UnixMilli()
	rec.Touch()
	if rec.UpdatedAt < before {
		t.Errorf("Touch() UpdatedAt = %d, want >= %d", rec.UpdatedAt, before)
	}
}

// =====================================================
// Validation Tests
// =====================================================

// TestValidatePayload verifies struct tag validation per variant.
func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr string
	}{
		{"valid diary", validDiary(), ""},
		{"diary missing title", &DiaryEntry{AuthorID: "u", EntryDate: "2024-01-01"}, "title"},
		{"diary bad date", &DiaryEntry{AuthorID: "u", Title: "t", EntryDate: "01/02/2024"}, "entry_date"},
		{"valid date plan", &DatePlan{Title: "Dinner", PlannedAt: "2024-05-01T19:00:00Z", Status: "planned"}, ""},
		{"date plan bad status", &DatePlan{Title: "Dinner", PlannedAt: "2024-05-01T19:00:00Z", Status: "maybe"}, "status"},
		{"valid memory", &Memory{Title: "Trip", MemoryDate: "2024-01-01", PhotoURL: "https://cdn.example.com/a.jpg"}, ""},
		{"memory bad url", &Memory{Title: "Trip", MemoryDate: "2024-01-01", PhotoURL: "not a url"}, "photo_url"},
		{"memory empty tag", &Memory{Title: "Trip", MemoryDate: "2024-01-01", Tags: []string{""}}, "tags"},
		{"nil payload", nil, "payload is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.payload)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidatePayload() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("ValidatePayload() should fail")
			}
			if !errors.Is(err, errors.ErrValidation) {
				t.Errorf("error code = %s, want VALIDATION_ERROR", errors.CodeOf(err))
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

// TestValidateRecord verifies envelope checks.
func TestValidateRecord(t *testing.T) {
	rec := &CachedRecord{ID: "r1", EntityType: EntityDiary, SyncStatus: SyncPending, Payload: validDiary()}
	if err := ValidateRecord(rec); err != nil {
		t.Fatalf("ValidateRecord() error = %v", err)
	}

	mismatched := &CachedRecord{ID: "r1", EntityType: EntityDate, SyncStatus: SyncPending, Payload: validDiary()}
	if err := ValidateRecord(mismatched); err == nil {
		t.Error("payload/type mismatch should fail")
	}

	noStatus := &CachedRecord{ID: "r1", EntityType: EntityDiary, Payload: validDiary()}
	if err := ValidateRecord(noStatus); err == nil {
		t.Error("missing sync status should fail")
	}
}

// =====================================================
// Table Name Tests
// =====================================================

// TestTableNames verifies persisted model table names.
func TestTableNames(t *testing.T) {
	if (SyncQueueEntry{}).TableName() != "sync_queue" {
		t.Error("SyncQueueEntry table name")
	}
	if (ConflictLog{}).TableName() != "conflict_log" {
		t.Error("ConflictLog table name")
	}
	if (ExportArchive{}).TableName() != "export_archives" {
		t.Error("ExportArchive table name")
	}
}

// TestOperation_Valid verifies queue operation values.
func TestOperation_Valid(t *testing.T) {
	for _, op := range []Operation{OpCreate, OpUpdate, OpDelete} {
		if !op.Valid() {
			t.Errorf("%s should be valid", op)
		}
	}
	if Operation("upsert").Valid() {
		t.Error("upsert should be invalid")
	}
}
