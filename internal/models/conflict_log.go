package models

import "time"

// ConflictLog records a local pending record dropped in favor of the
// server's version during a merge.
type ConflictLog struct {
	ID              string     `db:"id" json:"id"`
	EntityType      EntityType `db:"entity_type" json:"entity_type"`
	RecordID        string     `db:"record_id" json:"record_id"`
	ScopeKey        string     `db:"scope_key" json:"scope_key"`
	LocalTimestamp  int64      `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp int64      `db:"remote_timestamp" json:"remote_timestamp"`
	Resolution      string     `db:"resolution" json:"resolution"` // server_wins
	DiscardedLocal  string     `db:"discarded_local" json:"discarded_local,omitempty"`
	DetectedAt      int64      `db:"detected_at" json:"detected_at"`
}

// ResolutionServerWins is the only resolution the merge policy produces.
const ResolutionServerWins = "server_wins"

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
