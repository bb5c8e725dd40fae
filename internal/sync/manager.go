package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/db"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/logging"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/metrics"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync/conflict"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync/queue"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync/remote"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/uuid"
)

// SyncStatusSnapshot is the aggregate sync state shown to the user.
// It is recomputed on every call and never persisted.
type SyncStatusSnapshot struct {
	Pending      int          `json:"pending"`
	Failed       int          `json:"failed"`
	InProgress   bool         `json:"in_progress"`
	Online       bool         `json:"online"`
	Connecting   bool         `json:"connecting"`
	LastOnlineAt *time.Time   `json:"last_online_at,omitempty"`
	LastSync     *time.Time   `json:"last_sync,omitempty"`
	LastResult   *SweepResult `json:"last_result,omitempty"`
}

// Manager is the API feature code uses: local-first writes, merged reads
// and manual sync controls.
type Manager struct {
	store    db.Store
	queue    *queue.SyncQueue
	engine   *Engine
	remote   remote.Client
	resolver *conflict.Resolver
	metrics  *metrics.Collector
	scopeKey string
	timeout  time.Duration
	network  NetworkStatus
}

// NewManager creates a Manager writing records into scopeKey. client may be
// nil, in which case reads are served from the local cache only.
func NewManager(store db.Store, q *queue.SyncQueue, engine *Engine, client remote.Client, scopeKey string, m *metrics.Collector) *Manager {
	return &Manager{
		store:    store,
		queue:    q,
		engine:   engine,
		remote:   client,
		resolver: conflict.NewResolver(),
		metrics:  m,
		scopeKey: scopeKey,
		timeout:  engine.cfg.RequestTimeout,
	}
}

// SetNetworkStatus attaches the connectivity source. Without one the
// manager assumes it is online.
func (m *Manager) SetNetworkStatus(ns NetworkStatus) {
	m.network = ns
}

// ScopeKey returns the default sharing-group key.
func (m *Manager) ScopeKey() string {
	return m.scopeKey
}

// Engine returns the underlying engine.
func (m *Manager) Engine() *Engine {
	return m.engine
}

func (m *Manager) online() bool {
	return m.network == nil || m.network.Online()
}

// =====================================================
// Local-first writes
// =====================================================

// CreateLocal stores a new pending record and enqueues its creation.
// It never touches the network.
func (m *Manager) CreateLocal(ctx context.Context, t models.EntityType, payload models.Payload) (*models.CachedRecord, error) {
	if payload == nil || payload.Kind() != t {
		return nil, errors.New(errors.ErrInvalid, "payload does not match entity type "+string(t))
	}
	if err := models.ValidatePayload(payload); err != nil {
		return nil, err
	}

	now := models.NowMillis()
	rec := &models.CachedRecord{
		ID:         uuid.NewEntryID(),
		EntityType: t,
		ScopeKey:   m.scopeKey,
		SyncStatus: models.SyncPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Payload:    payload,
	}
	snapshot, err := wireSnapshot(rec)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "encode record", err)
	}

	if err := m.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	if _, err := m.queue.Enqueue(ctx, t, models.OpCreate, rec.ID, rec.ScopeKey, snapshot); err != nil {
		m.rollback(ctx, t, rec.ID, nil)
		return nil, err
	}
	m.refreshQueueMetrics()

	logging.Debug("record created locally", map[string]interface{}{"entity": string(t), "record_id": rec.ID})
	return rec.Clone(), nil
}

// UpdateLocal applies patch to the cached record and enqueues the patch.
func (m *Manager) UpdateLocal(ctx context.Context, t models.EntityType, id string, patch json.RawMessage) (*models.CachedRecord, error) {
	prev, err := m.store.Get(ctx, t, id)
	if err != nil {
		return nil, err
	}
	next, err := models.ApplyPatch(prev.Payload, patch)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "invalid patch", err)
	}
	if err := models.ValidatePayload(next); err != nil {
		return nil, err
	}

	rec := prev.Clone()
	rec.Payload = next
	rec.SyncStatus = models.SyncPending
	rec.Touch()

	if err := m.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	if _, err := m.queue.Enqueue(ctx, t, models.OpUpdate, id, rec.ScopeKey, patch); err != nil {
		m.rollback(ctx, t, id, prev)
		return nil, err
	}
	m.refreshQueueMetrics()
	return rec.Clone(), nil
}

// DeleteLocal removes the cached record and enqueues the remote delete.
func (m *Manager) DeleteLocal(ctx context.Context, t models.EntityType, id string) error {
	rec, err := m.store.Get(ctx, t, id)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]string{"id": id})
	if _, err := m.queue.Enqueue(ctx, t, models.OpDelete, id, rec.ScopeKey, payload); err != nil {
		return err
	}
	m.refreshQueueMetrics()
	return m.store.Delete(ctx, t, id)
}

// rollback restores prev, or removes the record when prev is nil, after a
// local write could not be queued.
func (m *Manager) rollback(ctx context.Context, t models.EntityType, id string, prev *models.CachedRecord) {
	var err error
	if prev == nil {
		err = m.store.Delete(ctx, t, id)
	} else {
		err = m.store.Put(ctx, prev)
	}
	if err != nil {
		logging.Error("failed to roll back local write", err, map[string]interface{}{"record_id": id})
	}
}

// =====================================================
// Reads
// =====================================================

// List returns the records of type t in scopeKey (the default scope when
// empty). Online, the authoritative list is fetched and merged server-wins
// with local unsynced records, and the merge is written back to the cache.
// Offline or when the fetch fails, the local cache is returned.
func (m *Manager) List(ctx context.Context, t models.EntityType, scopeKey string) ([]*models.CachedRecord, error) {
	if scopeKey == "" {
		scopeKey = m.scopeKey
	}

	local, localErr := m.store.List(ctx, t, scopeKey)
	if localErr != nil {
		logging.Warn("local cache unavailable, reading remote only", map[string]interface{}{
			"entity": string(t), "error": localErr.Error(),
		})
	}
	if m.remote == nil || !m.online() {
		return local, localErr
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	authoritative, err := m.remote.List(fetchCtx, t, scopeKey)
	if err != nil {
		logging.Warn("remote list failed, serving local cache", map[string]interface{}{
			"entity": string(t), "code": string(errors.CodeOf(err)), "error": err.Error(),
		})
		return local, localErr
	}

	result := m.resolver.Merge(authoritative, local)
	if localErr == nil {
		m.persistMerge(ctx, t, result)
	}
	return result.Records, nil
}

// persistMerge writes the merge back to the cache. A dropped local record
// also loses its queued entries so the server copy stays authoritative.
// While a sweep is running, dropped records are left alone and resolved by
// a later merge, since their entries may be in flight.
func (m *Manager) persistMerge(ctx context.Context, t models.EntityType, result *conflict.MergeResult) {
	keepLocal := make(map[string]bool)
	conflicts := make([]*models.ConflictLog, 0, len(result.Conflicts))
	deferred := m.engine.IsDraining()
	for _, c := range result.Conflicts {
		if deferred {
			keepLocal[c.RecordID] = true
			continue
		}
		dropped, err := m.queue.DiscardRecord(ctx, t, c.RecordID)
		if err != nil {
			logging.Warn("failed to discard queued changes, keeping local copy", map[string]interface{}{
				"record_id": c.RecordID, "error": err.Error(),
			})
			keepLocal[c.RecordID] = true
			continue
		}
		if len(dropped) > 0 {
			logging.Info("queued changes discarded, server copy wins", map[string]interface{}{
				"entity": string(t), "record_id": c.RecordID, "entries": len(dropped),
			})
		}
		conflicts = append(conflicts, c)
	}

	for _, rec := range result.Records {
		if rec.SyncStatus != models.SyncSynced || keepLocal[rec.ID] {
			continue
		}
		if err := m.store.Put(ctx, rec); err != nil {
			logging.Warn("failed to cache merged record", map[string]interface{}{
				"record_id": rec.ID, "error": err.Error(),
			})
		}
	}

	for _, rec := range result.Stale {
		if m.queue.HasEntries(t, rec.ID) {
			continue
		}
		if err := m.store.Delete(ctx, t, rec.ID); err != nil {
			logging.Warn("failed to evict remotely deleted record", map[string]interface{}{
				"record_id": rec.ID, "error": err.Error(),
			})
		}
	}

	if len(conflicts) == 0 {
		return
	}
	m.refreshQueueMetrics()
	for _, c := range conflicts {
		if err := m.store.CreateConflictLog(ctx, c); err != nil {
			logging.Warn("failed to store conflict log", map[string]interface{}{
				"record_id": c.RecordID, "error": err.Error(),
			})
		}
	}
	m.metrics.RecordConflicts(len(conflicts))
	m.engine.emitEvent(SyncEvent{
		Type:       SyncEventConflictDetected,
		Message:    "local changes replaced by the server version",
		EntityType: string(t),
		Conflicts:  len(conflicts),
	})
}

// GetPending returns every cached record that has not reached the server.
func (m *Manager) GetPending(ctx context.Context) ([]*models.CachedRecord, error) {
	return m.store.ListByStatus(ctx, models.SyncPending)
}

// GetConflicts returns the most recent conflict log entries.
func (m *Manager) GetConflicts(ctx context.Context, limit int) ([]*models.ConflictLog, error) {
	return m.store.ListConflictLogs(ctx, limit)
}

// GetSyncStatus returns a fresh status snapshot.
func (m *Manager) GetSyncStatus() SyncStatusSnapshot {
	qs := m.queue.Status()
	snap := SyncStatusSnapshot{
		Pending:    qs.Pending,
		Failed:     qs.Failed,
		InProgress: m.engine.IsDraining(),
		Online:     m.online(),
		LastSync:   m.engine.LastSync(),
		LastResult: m.engine.LastResult(),
	}
	if m.network != nil {
		snap.Connecting = m.network.Connecting()
		snap.LastOnlineAt = m.network.LastOnlineAt()
	}
	return snap
}

// =====================================================
// Manual controls
// =====================================================

// TriggerSync runs a sweep unless one is already running.
func (m *Manager) TriggerSync(ctx context.Context) (*SweepResult, bool) {
	return m.engine.TriggerSync(ctx)
}

// RetryFailedItems moves failed entries back to pending and, when online,
// starts a sweep.
func (m *Manager) RetryFailedItems(ctx context.Context) (int, error) {
	n, err := m.queue.RetryFailed(ctx)
	if err != nil {
		return n, err
	}
	m.refreshQueueMetrics()
	if n > 0 && m.online() {
		m.engine.TriggerSync(ctx)
	}
	return n, nil
}

// ClearFailedItems drops failed entries without any remote effect. Their
// cached records are kept and marked failed.
func (m *Manager) ClearFailedItems(ctx context.Context) (int, error) {
	cleared, err := m.queue.ClearFailed(ctx)
	m.refreshQueueMetrics()

	for _, e := range cleared {
		if m.queue.HasEntries(e.EntityType, e.RecordID) {
			continue
		}
		rec, getErr := m.store.Get(ctx, e.EntityType, e.RecordID)
		if getErr != nil {
			continue
		}
		rec.SyncStatus = models.SyncFailed
		if putErr := m.store.Put(ctx, rec); putErr != nil {
			logging.Warn("failed to mark record failed", map[string]interface{}{
				"record_id": rec.ID, "error": putErr.Error(),
			})
		}
	}
	return len(cleared), err
}

func (m *Manager) refreshQueueMetrics() {
	s := m.queue.Status()
	m.metrics.SetQueue(s.Pending, s.Failed)
}

// wireSnapshot encodes rec the way the remote service expects it on create.
func wireSnapshot(rec *models.CachedRecord) (json.RawMessage, error) {
	c := rec.Clone()
	c.SyncStatus = ""
	return json.Marshal(c)
}
