// Package sync provides the offline sync engine and the manager exposed to
// feature code.
package sync

import (
	"context"
	"time"
)

// SyncEngine defines the operations of a queue-draining sync engine.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngine interface {
	// TriggerSync runs one sweep over the pending queue. It returns
	// started=false without doing anything when a sweep is already running.
	// Sweep errors are absorbed into queue state and never returned.
	TriggerSync(ctx context.Context) (result *SweepResult, started bool)

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// IsDraining reports whether a sweep is in progress.
	IsDraining() bool

	// LastSync returns the end time of the last completed sweep.
	LastSync() *time.Time

	// LastResult returns the result of the last completed sweep.
	LastResult() *SweepResult
}

// NetworkStatus exposes the connectivity state tracked by the network monitor.
type NetworkStatus interface {
	Online() bool
	Connecting() bool
	LastOnlineAt() *time.Time
}

// SyncEventType identifies a sync notification.
type SyncEventType string

const (
	SyncEventStarted          SyncEventType = "sync.started"
	SyncEventCompleted        SyncEventType = "sync.completed"
	SyncEventFailed           SyncEventType = "sync.failed"
	SyncEventEntryFailed      SyncEventType = "sync.entry_failed"
	SyncEventConflictDetected SyncEventType = "sync.conflict_detected"
	NetworkEventOnline        SyncEventType = "network.online"
	NetworkEventOffline       SyncEventType = "network.offline"
)

// SyncEvent is delivered to a SyncEventHandler.
type SyncEvent struct {
	Type       SyncEventType `json:"type"`
	Message    string        `json:"message,omitempty"`
	EntityType string        `json:"entity_type,omitempty"`
	RecordID   string        `json:"record_id,omitempty"`
	EntryID    string        `json:"entry_id,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	Retryable  bool          `json:"retryable,omitempty"`
	Conflicts  int           `json:"conflicts,omitempty"`
	Result     *SweepResult  `json:"result,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// SyncEventHandler receives sync notifications. Implementations must not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent implements SyncEventHandler.
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) {
	f(event)
}

var _ SyncEngine = (*Engine)(nil)
