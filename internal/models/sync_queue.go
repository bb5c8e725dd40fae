package models

import (
	"encoding/json"
	"time"
)

// Operation is the kind of mutation a queue entry replays.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// QueueStatus is the state of a queue entry.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueFailed  QueueStatus = "failed"
)

// SyncQueueEntry is the persisted form of a pending mutation.
// Payload is the full snapshot for create, the patch for update and
// {"id": ...} for delete.
type SyncQueueEntry struct {
	ID         string          `db:"id" json:"id"`
	Seq        int64           `db:"seq" json:"seq"`
	EntityType EntityType      `db:"entity_type" json:"entity_type"`
	Operation  Operation       `db:"operation" json:"operation"`
	RecordID   string          `db:"record_id" json:"record_id"`
	ScopeKey   string          `db:"scope_key" json:"scope_key"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	EnqueuedAt int64           `db:"enqueued_at" json:"enqueued_at"`
	Attempts   int             `db:"attempts" json:"attempts"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`
	Status     QueueStatus     `db:"status" json:"status"`
}

// TableName returns the table name for SyncQueueEntry.
func (SyncQueueEntry) TableName() string {
	return "sync_queue"
}

// EnqueuedAtTime returns the EnqueuedAt as time.Time.
func (e *SyncQueueEntry) EnqueuedAtTime() time.Time {
	return time.UnixMilli(e.EnqueuedAt)
}
