package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/db"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/logging"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/metrics"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync/queue"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync/remote"
)

const (
	// DefaultMaxAttempts is the retry ceiling for transient failures.
	DefaultMaxAttempts = 3

	// DefaultRequestTimeout bounds each remote call.
	DefaultRequestTimeout = 10 * time.Second

	// maxErrorHistory caps the number of retained sync errors.
	maxErrorHistory = 100
)

// EngineConfig tunes the engine.
type EngineConfig struct {
	MaxAttempts    int
	RequestTimeout time.Duration
}

// SweepResult summarizes one sweep over the queue.
type SweepResult struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Synced    int           `json:"synced"`
	Retried   int           `json:"retried"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Cancelled bool          `json:"cancelled,omitempty"`
}

// SyncErrorEntry records one failed attempt.
type SyncErrorEntry struct {
	EntryID    string    `json:"entry_id"`
	EntityType string    `json:"entity_type"`
	RecordID   string    `json:"record_id"`
	Operation  string    `json:"operation"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Engine drains the sync queue against the remote service, one entry at a time.
type Engine struct {
	queue   *queue.SyncQueue
	store   db.RecordStore
	remote  remote.Client
	cfg     EngineConfig
	metrics *metrics.Collector

	draining atomic.Bool

	mu           gosync.RWMutex
	handler      SyncEventHandler
	lastSync     *time.Time
	lastResult   *SweepResult
	errorHistory []SyncErrorEntry
}

// NewEngine creates an Engine. m may be nil.
func NewEngine(q *queue.SyncQueue, store db.RecordStore, client remote.Client, cfg EngineConfig, m *metrics.Collector) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Engine{
		queue:   q,
		store:   store,
		remote:  client,
		cfg:     cfg,
		metrics: m,
	}
}

// SetEventHandler sets the event handler for sync notifications.
func (e *Engine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// IsDraining reports whether a sweep is in progress.
func (e *Engine) IsDraining() bool {
	return e.draining.Load()
}

// LastSync returns the end time of the last completed sweep.
func (e *Engine) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastResult returns a copy of the last sweep result.
func (e *Engine) LastResult() *SweepResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastResult == nil {
		return nil
	}
	r := *e.lastResult
	return &r
}

// GetErrorHistory returns a copy of the recent sync errors, oldest first.
func (e *Engine) GetErrorHistory() []SyncErrorEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SyncErrorEntry, len(e.errorHistory))
	copy(out, e.errorHistory)
	return out
}

// TriggerSync implements SyncEngine.
func (e *Engine) TriggerSync(ctx context.Context) (result *SweepResult, started bool) {
	if !e.draining.CompareAndSwap(false, true) {
		e.metrics.RecordSweep(true, 0)
		logging.Debug("sync sweep skipped, already draining")
		return nil, false
	}
	defer e.draining.Store(false)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("sync sweep panicked: %v", r)
			logging.ErrorWithCode("sync sweep aborted", string(errors.ErrSyncFailed), err)
			e.emitEvent(SyncEvent{
				Type:      SyncEventFailed,
				Message:   err.Error(),
				ErrorCode: string(errors.ErrSyncFailed),
				Retryable: true,
			})
			result, started = nil, true
		}
	}()

	return e.sweep(ctx), true
}

// recordKey identifies a record across entity types.
type recordKey struct {
	entity models.EntityType
	id     string
}

func (e *Engine) sweep(ctx context.Context) *SweepResult {
	result := &SweepResult{StartTime: time.Now()}
	e.emitEvent(SyncEvent{Type: SyncEventStarted})

	entries := e.queue.ListPending()
	result.Total = len(entries)

	logging.Info("sync sweep started", map[string]interface{}{"pending": len(entries)})

	blocked := make(map[recordKey]bool)
	for _, snapshot := range entries {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		// Earlier entries in this sweep may have remapped or removed it.
		entry, ok := e.queue.Get(snapshot.ID)
		if !ok || entry.Status != models.QueuePending {
			continue
		}

		key := recordKey{entry.EntityType, entry.RecordID}
		if blocked[key] || e.queue.IsBlocked(entry.EntityType, entry.RecordID) {
			blocked[key] = true
			result.Skipped++
			e.metrics.RecordEntry(string(entry.EntityType), string(entry.Operation), "skipped")
			continue
		}

		// Cancellation is honored between entries only. A request that has
		// started runs to completion or timeout.
		entryCtx := context.WithoutCancel(ctx)
		if err := e.apply(entryCtx, entry); err != nil {
			blocked[key] = true
			e.handleFailure(entryCtx, entry, err, result)
			continue
		}
		result.Synced++
		e.metrics.RecordEntry(string(entry.EntityType), string(entry.Operation), "synced")
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	end := result.EndTime
	e.lastSync = &end
	r := *result
	e.lastResult = &r
	e.mu.Unlock()

	status := e.queue.Status()
	e.metrics.SetQueue(status.Pending, status.Failed)
	e.metrics.RecordSweep(false, result.Duration)

	logging.Info("sync sweep completed", map[string]interface{}{
		"total":     result.Total,
		"synced":    result.Synced,
		"retried":   result.Retried,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
		"cancelled": result.Cancelled,
		"duration":  result.Duration.String(),
	})
	e.emitEvent(SyncEvent{Type: SyncEventCompleted, Result: &r})
	return result
}

// apply replays one entry against the remote service and records the
// outcome locally. ctx must not carry the sweep's cancellation.
func (e *Engine) apply(ctx context.Context, entry *queue.Entry) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	switch entry.Operation {
	case models.OpCreate:
		rec, err := e.remote.Create(callCtx, entry.EntityType, entry.ScopeKey, entry.Payload)
		if err != nil {
			return errors.Classify(err)
		}
		return e.completeWrite(ctx, entry, rec)

	case models.OpUpdate:
		rec, err := e.remote.Update(callCtx, entry.EntityType, entry.ScopeKey, entry.RecordID, entry.Payload)
		if err != nil {
			return errors.Classify(err)
		}
		return e.completeWrite(ctx, entry, rec)

	case models.OpDelete:
		if err := e.remote.Delete(callCtx, entry.EntityType, entry.ScopeKey, entry.RecordID); err != nil {
			return errors.Classify(err)
		}
		if err := e.queue.MarkCompleted(ctx, entry.ID); err != nil {
			return err
		}
		if err := e.store.Delete(ctx, entry.EntityType, entry.RecordID); err != nil {
			logging.Warn("failed to remove deleted record from cache", map[string]interface{}{
				"record_id": entry.RecordID, "error": err.Error(),
			})
		}
		return nil
	}
	return errors.New(errors.ErrValidation, fmt.Sprintf("unknown operation %q", entry.Operation))
}

// completeWrite finishes a successful create or update. The server copy
// replaces the cached one unless later entries for the record are still
// queued, in which case the local snapshot already reflects them.
func (e *Engine) completeWrite(ctx context.Context, entry *queue.Entry, canonical *models.CachedRecord) error {
	if err := e.queue.MarkCompleted(ctx, entry.ID); err != nil {
		return err
	}

	localID := entry.RecordID
	if entry.Operation == models.OpCreate && canonical.ID != localID {
		if err := e.queue.RemapRecordID(ctx, entry.EntityType, localID, canonical.ID); err != nil {
			logging.Warn("failed to remap queued entries", map[string]interface{}{
				"old_id": localID, "new_id": canonical.ID, "error": err.Error(),
			})
		}
		e.renameCached(ctx, entry.EntityType, localID, canonical.ID)
		logging.Info("server assigned a new record id", map[string]interface{}{
			"entity": string(entry.EntityType), "old_id": localID, "new_id": canonical.ID,
		})
	}

	if e.queue.HasEntries(entry.EntityType, canonical.ID) {
		return nil
	}

	rec := canonical.Clone()
	rec.EntityType = entry.EntityType
	rec.SyncStatus = models.SyncSynced
	if err := e.store.Put(ctx, rec); err != nil {
		logging.Warn("failed to cache server record", map[string]interface{}{
			"record_id": rec.ID, "error": err.Error(),
		})
	}
	return nil
}

// renameCached moves a cached record to a server-assigned id.
func (e *Engine) renameCached(ctx context.Context, t models.EntityType, oldID, newID string) {
	rec, err := e.store.Get(ctx, t, oldID)
	if err != nil {
		return
	}
	rec.ID = newID
	if err := e.store.Put(ctx, rec); err != nil {
		logging.Warn("failed to rename cached record", map[string]interface{}{
			"old_id": oldID, "new_id": newID, "error": err.Error(),
		})
		return
	}
	if err := e.store.Delete(ctx, t, oldID); err != nil {
		logging.Warn("failed to drop cached record under its local id", map[string]interface{}{
			"old_id": oldID, "new_id": newID, "error": err.Error(),
		})
	}
}

func (e *Engine) handleFailure(ctx context.Context, entry *queue.Entry, cause error, result *SweepResult) {
	e.recordError(entry, cause)
	code := errors.CodeOf(cause)

	var (
		failed bool
		err    error
	)
	if errors.IsTerminal(cause) {
		failed, err = true, e.queue.MarkFailed(ctx, entry.ID, cause)
	} else {
		failed, err = e.queue.RecordFailure(ctx, entry.ID, cause, e.cfg.MaxAttempts)
	}
	if err != nil {
		logging.Error("failed to record sync failure", err, map[string]interface{}{"entry_id": entry.ID})
	}

	if !failed {
		result.Retried++
		e.metrics.RecordEntry(string(entry.EntityType), string(entry.Operation), "retry")
		logging.Warn("sync entry will be retried", map[string]interface{}{
			"entry_id": entry.ID, "record_id": entry.RecordID, "code": string(code), "error": cause.Error(),
		})
		return
	}

	result.Failed++
	e.metrics.RecordEntry(string(entry.EntityType), string(entry.Operation), "failed")
	logging.ErrorWithCode("sync entry failed", string(code), cause, map[string]interface{}{
		"entry_id": entry.ID, "entity": string(entry.EntityType), "record_id": entry.RecordID,
	})
	e.emitEvent(SyncEvent{
		Type:       SyncEventEntryFailed,
		Message:    cause.Error(),
		EntityType: string(entry.EntityType),
		RecordID:   entry.RecordID,
		EntryID:    entry.ID,
		ErrorCode:  string(code),
		Retryable:  !errors.IsTerminal(cause),
	})
}

func (e *Engine) recordError(entry *queue.Entry, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.errorHistory = append(e.errorHistory, SyncErrorEntry{
		EntryID:    entry.ID,
		EntityType: string(entry.EntityType),
		RecordID:   entry.RecordID,
		Operation:  string(entry.Operation),
		Code:       string(errors.CodeOf(err)),
		Message:    err.Error(),
		Timestamp:  time.Now(),
	})
	if len(e.errorHistory) > maxErrorHistory {
		e.errorHistory = e.errorHistory[len(e.errorHistory)-maxErrorHistory:]
	}
}

// emitEvent delivers event to the handler, stamping it when needed.
func (e *Engine) emitEvent(event SyncEvent) {
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()

	if handler == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	handler.OnSyncEvent(event)
}
