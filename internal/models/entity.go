// Package models provides data model definitions for the diary sync core.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType identifies one of the cached record kinds.
type EntityType string

const (
	EntityDiary  EntityType = "diary"
	EntityDate   EntityType = "date"
	EntityMemory EntityType = "memory"
)

// EntityTypes returns all entity types in sweep order.
func EntityTypes() []EntityType {
	return []EntityType{EntityDiary, EntityDate, EntityMemory}
}

// ParseEntityType converts a path or config value into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return t, nil
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	return t.Order() >= 0
}

// Order returns the position of t in sweep order, or -1 for unknown types.
func (t EntityType) Order() int {
	switch t {
	case EntityDiary:
		return 0
	case EntityDate:
		return 1
	case EntityMemory:
		return 2
	}
	return -1
}

// TableName returns the local table holding records of this type.
func (t EntityType) TableName() string {
	switch t {
	case EntityDiary:
		return "diary_entries"
	case EntityDate:
		return "date_plans"
	case EntityMemory:
		return "memories"
	}
	return ""
}

// SyncStatus is the synchronization state of a cached record.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// Valid reports whether s is a known sync status.
func (s SyncStatus) Valid() bool {
	return s == SyncPending || s == SyncSynced || s == SyncFailed
}

// Payload is the entity-specific part of a CachedRecord.
type Payload interface {
	Kind() EntityType
}

// DiaryEntry is a shared diary entry written by one partner.
type DiaryEntry struct {
	AuthorID  string `json:"author_id" validate:"required,max=64"`
	Title     string `json:"title" validate:"required,max=200"`
	Content   string `json:"content" validate:"max=20000"`
	Mood      string `json:"mood,omitempty" validate:"omitempty,max=32"`
	EntryDate string `json:"entry_date" validate:"required,datetime=2006-01-02"`
}

// Kind implements Payload.
func (DiaryEntry) Kind() EntityType { return EntityDiary }

// DatePlan is a planned date.
type DatePlan struct {
	Title     string `json:"title" validate:"required,max=200"`
	Location  string `json:"location,omitempty" validate:"omitempty,max=200"`
	PlannedAt string `json:"planned_at" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Notes     string `json:"notes,omitempty" validate:"omitempty,max=5000"`
	Status    string `json:"status,omitempty" validate:"omitempty,oneof=planned completed cancelled"`
}

// Kind implements Payload.
func (DatePlan) Kind() EntityType { return EntityDate }

// Memory is a shared memory, optionally with a photo.
type Memory struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Description string   `json:"description,omitempty" validate:"omitempty,max=5000"`
	PhotoURL    string   `json:"photo_url,omitempty" validate:"omitempty,url"`
	MemoryDate  string   `json:"memory_date" validate:"required,datetime=2006-01-02"`
	Tags        []string `json:"tags,omitempty" validate:"omitempty,max=20,dive,required,max=50"`
}

// Kind implements Payload.
func (Memory) Kind() EntityType { return EntityMemory }

// NewPayload returns an empty payload of the given type.
func NewPayload(t EntityType) (Payload, error) {
	switch t {
	case EntityDiary:
		return &DiaryEntry{}, nil
	case EntityDate:
		return &DatePlan{}, nil
	case EntityMemory:
		return &Memory{}, nil
	}
	return nil, fmt.Errorf("unknown entity type %q", t)
}

// DecodePayload decodes a JSON object into the payload variant for t.
// Unknown keys such as envelope fields are ignored.
func DecodePayload(t EntityType, data []byte) (Payload, error) {
	p, err := NewPayload(t)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

// ApplyPatch returns a copy of p with the fields present in patch overwritten.
func ApplyPatch(p Payload, patch []byte) (Payload, error) {
	base, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	next, err := DecodePayload(p.Kind(), base)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(patch, next); err != nil {
		return nil, fmt.Errorf("apply %s patch: %w", p.Kind(), err)
	}
	return next, nil
}

// CachedRecord is the local mirror of a remote domain record plus its sync status.
// Timestamps are unix milliseconds.
type CachedRecord struct {
	ID         string
	EntityType EntityType
	ScopeKey   string
	SyncStatus SyncStatus
	CreatedAt  int64
	UpdatedAt  int64
	Payload    Payload
}

type recordEnvelope struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type,omitempty"`
	ScopeKey   string     `json:"scope_key"`
	SyncStatus SyncStatus `json:"sync_status,omitempty"`
	CreatedAt  int64      `json:"created_at"`
	UpdatedAt  int64      `json:"updated_at"`
}

// MarshalJSON flattens the envelope and payload into one object.
func (r *CachedRecord) MarshalJSON() ([]byte, error) {
	fields := make(map[string]interface{})
	if r.Payload != nil {
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}
	fields["id"] = r.ID
	fields["entity_type"] = r.EntityType
	fields["scope_key"] = r.ScopeKey
	fields["created_at"] = r.CreatedAt
	fields["updated_at"] = r.UpdatedAt
	if r.SyncStatus != "" {
		fields["sync_status"] = r.SyncStatus
	}
	return json.Marshal(fields)
}

// UnmarshalJSON decodes a flat record. When the object carries no entity_type,
// the receiver's EntityType is used.
func (r *CachedRecord) UnmarshalJSON(data []byte) error {
	var env recordEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.EntityType == "" {
		env.EntityType = r.EntityType
	}
	payload, err := DecodePayload(env.EntityType, data)
	if err != nil {
		return err
	}
	*r = CachedRecord{
		ID:         env.ID,
		EntityType: env.EntityType,
		ScopeKey:   env.ScopeKey,
		SyncStatus: env.SyncStatus,
		CreatedAt:  env.CreatedAt,
		UpdatedAt:  env.UpdatedAt,
		Payload:    payload,
	}
	return nil
}

// DecodeRecord decodes a record of a known type, as returned by the remote service.
func DecodeRecord(t EntityType, data []byte) (*CachedRecord, error) {
	r := &CachedRecord{EntityType: t}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, err
	}
	if r.EntityType != t {
		return nil, fmt.Errorf("expected %s record, got %s", t, r.EntityType)
	}
	return r, nil
}

// PayloadJSON returns the payload encoded on its own.
func (r *CachedRecord) PayloadJSON() ([]byte, error) {
	if r.Payload == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Payload)
}

// Clone returns a deep copy of r.
func (r *CachedRecord) Clone() *CachedRecord {
	c := *r
	switch p := r.Payload.(type) {
	case *DiaryEntry:
		cp := *p
		c.Payload = &cp
	case *DatePlan:
		cp := *p
		c.Payload = &cp
	case *Memory:
		cp := *p
		cp.Tags = append([]string(nil), p.Tags...)
		c.Payload = &cp
	}
	return &c
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (r *CachedRecord) CreatedAtTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (r *CachedRecord) UpdatedAtTime() time.Time {
	return time.UnixMilli(r.UpdatedAt)
}

// Touch updates the UpdatedAt timestamp.
func (r *CachedRecord) Touch() {
	r.UpdatedAt = NowMillis()
}

// NowMillis returns the current time in unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
