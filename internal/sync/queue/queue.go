// Package queue provides the durable, ordered queue of pending local mutations.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/db"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/logging"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/uuid"
)

// DefaultMaxSize bounds the number of queued entries.
const DefaultMaxSize = 10000

// Entry is a queued mutation awaiting replay against the remote service.
type Entry struct {
	ID         string
	Seq        int64
	EntityType models.EntityType
	Operation  models.Operation
	RecordID   string
	ScopeKey   string
	Payload    json.RawMessage
	EnqueuedAt int64
	Attempts   int
	LastError  string
	Status     models.QueueStatus
}

// Status is the pending/failed breakdown of the queue.
type Status struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// recordKey identifies a record across entity types.
type recordKey struct {
	entity models.EntityType
	id     string
}

// recordCount tracks how many entries, and how many failed ones, target a record.
type recordCount struct {
	total  int
	failed int
}

// SyncQueue holds pending mutations in memory and writes every change
// through to a db.QueueStore so the queue survives restarts.
type SyncQueue struct {
	mu       sync.RWMutex
	items    map[string]*Entry
	byRecord map[recordKey]recordCount
	store    db.QueueStore
	maxSize  int
	nextSeq  int64
}

// NewSyncQueue creates a new SyncQueue. maxSize <= 0 disables the bound.
func NewSyncQueue(store db.QueueStore, maxSize int) *SyncQueue {
	return &SyncQueue{
		items:    make(map[string]*Entry),
		byRecord: make(map[recordKey]recordCount),
		store:    store,
		maxSize:  maxSize,
		nextSeq:  1,
	}
}

// track adds (delta 1) or removes (delta -1) e from the per-record index.
// Callers hold q.mu.
func (q *SyncQueue) track(e *Entry, delta int) {
	k := recordKey{e.EntityType, e.RecordID}
	c := q.byRecord[k]
	c.total += delta
	if e.Status == models.QueueFailed {
		c.failed += delta
	}
	if c.total <= 0 {
		delete(q.byRecord, k)
		return
	}
	q.byRecord[k] = c
}

// replace swaps the stored state of e for next, keeping the index current.
func (q *SyncQueue) replace(e *Entry, next Entry) {
	q.track(e, -1)
	*e = next
	q.track(e, 1)
}

// Load rebuilds the in-memory index from the store.
func (q *SyncQueue) Load(ctx context.Context) error {
	rows, err := q.store.ListQueueEntries(ctx)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = make(map[string]*Entry, len(rows))
	q.byRecord = make(map[recordKey]recordCount)
	q.nextSeq = 1
	for _, row := range rows {
		e := FromModel(row)
		q.items[e.ID] = e
		q.track(e, 1)
		if e.Seq >= q.nextSeq {
			q.nextSeq = e.Seq + 1
		}
	}

	logging.Info("sync queue loaded", map[string]interface{}{"entries": len(q.items)})
	return nil
}

// Enqueue appends a mutation. It never touches the network.
func (q *SyncQueue) Enqueue(ctx context.Context, t models.EntityType, op models.Operation, recordID, scopeKey string, payload json.RawMessage) (*Entry, error) {
	if !t.Valid() || !op.Valid() || recordID == "" {
		return nil, errors.New(errors.ErrInvalid, fmt.Sprintf("invalid queue entry %s/%s/%q", t, op, recordID))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return nil, errors.New(errors.ErrStorage, fmt.Sprintf("queue is full (max size: %d)", q.maxSize))
	}

	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	e := &Entry{
		ID:         uuid.NewEntryID(),
		Seq:        q.nextSeq,
		EntityType: t,
		Operation:  op,
		RecordID:   recordID,
		ScopeKey:   scopeKey,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: models.NowMillis(),
		Status:     models.QueuePending,
	}
	if err := q.store.InsertQueueEntry(ctx, e.ToModel()); err != nil {
		return nil, err
	}
	q.nextSeq++
	q.items[e.ID] = e
	q.track(e, 1)

	logging.Debug("sync queue enqueued", map[string]interface{}{
		"entry_id": e.ID, "entity": string(t), "operation": string(op), "record_id": recordID,
	})
	return e.clone(), nil
}

// ListPending returns pending entries grouped by entity type in sweep
// order (diary, date, memory) and FIFO within each group.
func (q *SyncQueue) ListPending() []*Entry {
	return q.list(models.QueuePending)
}

// ListFailed returns failed entries in the same order as ListPending.
func (q *SyncQueue) ListFailed() []*Entry {
	return q.list(models.QueueFailed)
}

func (q *SyncQueue) list(status models.QueueStatus) []*Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []*Entry
	for _, e := range q.items {
		if e.Status == status {
			out = append(out, e.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := out[i].EntityType.Order(), out[j].EntityType.Order()
		if oi != oj {
			return oi < oj
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Get returns a copy of the entry with the given id.
func (q *SyncQueue) Get(id string) (*Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	e, ok := q.items[id]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// IsBlocked reports whether a failed entry exists for the record. Later
// entries for a blocked record must not be applied ahead of it.
func (q *SyncQueue) IsBlocked(t models.EntityType, recordID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.byRecord[recordKey{t, recordID}].failed > 0
}

// HasEntries reports whether any entry, pending or failed, targets the record.
func (q *SyncQueue) HasEntries(t models.EntityType, recordID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.byRecord[recordKey{t, recordID}].total > 0
}

// MarkCompleted removes an entry. Unknown ids are a no-op.
func (q *SyncQueue) MarkCompleted(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[id]
	if !ok {
		return nil
	}
	if err := q.store.DeleteQueueEntry(ctx, id); err != nil {
		return err
	}
	delete(q.items, id)
	q.track(e, -1)

	logging.Debug("sync queue completed", map[string]interface{}{
		"entry_id": id, "operation": string(e.Operation), "record_id": e.RecordID,
	})
	return nil
}

// RecordFailure counts a failed attempt. When attempts reach ceiling the
// entry moves to failed and failed is true. Unknown ids are a no-op.
func (q *SyncQueue) RecordFailure(ctx context.Context, id string, cause error, ceiling int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[id]
	if !ok {
		return false, nil
	}

	next := *e
	next.Attempts++
	next.LastError = errString(cause)
	if ceiling > 0 && next.Attempts >= ceiling {
		next.Status = models.QueueFailed
	}
	if err := q.store.UpdateQueueEntry(ctx, next.ToModel()); err != nil {
		return false, err
	}
	q.replace(e, next)

	failed := e.Status == models.QueueFailed
	if failed {
		logging.Warn("sync queue entry failed permanently", map[string]interface{}{
			"entry_id": id, "attempts": e.Attempts, "error": e.LastError,
		})
	}
	return failed, nil
}

// MarkFailed moves an entry to failed immediately.
func (q *SyncQueue) MarkFailed(ctx context.Context, id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.items[id]
	if !ok {
		return nil
	}

	next := *e
	next.Attempts++
	next.LastError = errString(cause)
	next.Status = models.QueueFailed
	if err := q.store.UpdateQueueEntry(ctx, next.ToModel()); err != nil {
		return err
	}
	q.replace(e, next)

	logging.Warn("sync queue entry failed", map[string]interface{}{
		"entry_id": id, "error": e.LastError,
	})
	return nil
}

// RetryFailed resets all failed entries to pending with zero attempts.
func (q *SyncQueue) RetryFailed(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, e := range q.items {
		if e.Status != models.QueueFailed {
			continue
		}
		next := *e
		next.Status = models.QueuePending
		next.Attempts = 0
		next.LastError = ""
		if err := q.store.UpdateQueueEntry(ctx, next.ToModel()); err != nil {
			return count, err
		}
		q.replace(e, next)
		count++
	}

	if count > 0 {
		logging.Info("sync queue reset failed entries", map[string]interface{}{"count": count})
	}
	return count, nil
}

// ClearFailed drops all failed entries and returns them.
func (q *SyncQueue) ClearFailed(ctx context.Context) ([]*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var cleared []*Entry
	for id, e := range q.items {
		if e.Status != models.QueueFailed {
			continue
		}
		if err := q.store.DeleteQueueEntry(ctx, id); err != nil {
			return cleared, err
		}
		delete(q.items, id)
		q.track(e, -1)
		cleared = append(cleared, e)
	}
	sort.Slice(cleared, func(i, j int) bool { return cleared[i].Seq < cleared[j].Seq })

	if len(cleared) > 0 {
		logging.Info("sync queue cleared failed entries", map[string]interface{}{"count": len(cleared)})
	}
	return cleared, nil
}

// RemapRecordID points every entry for oldID at newID. Used when the
// server assigns a different id on create.
func (q *SyncQueue) RemapRecordID(ctx context.Context, t models.EntityType, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.items {
		if e.EntityType != t || e.RecordID != oldID {
			continue
		}
		next := *e
		next.RecordID = newID
		next.Payload = remapPayloadID(e.Payload, oldID, newID)
		if err := q.store.UpdateQueueEntry(ctx, next.ToModel()); err != nil {
			return err
		}
		q.replace(e, next)
	}
	return nil
}

// DiscardRecord drops every entry, pending or failed, that targets the
// record and returns them in enqueue order. Used when the server copy
// replaces the local changes.
func (q *SyncQueue) DiscardRecord(ctx context.Context, t models.EntityType, recordID string) ([]*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.byRecord[recordKey{t, recordID}].total == 0 {
		return nil, nil
	}

	var dropped []*Entry
	for id, e := range q.items {
		if e.EntityType != t || e.RecordID != recordID {
			continue
		}
		if err := q.store.DeleteQueueEntry(ctx, id); err != nil {
			return dropped, err
		}
		delete(q.items, id)
		q.track(e, -1)
		dropped = append(dropped, e)
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].Seq < dropped[j].Seq })

	logging.Info("sync queue discarded record entries", map[string]interface{}{
		"entity": string(t), "record_id": recordID, "count": len(dropped),
	})
	return dropped, nil
}

// Status returns the pending and failed counts.
func (q *SyncQueue) Status() Status {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var s Status
	for _, e := range q.items {
		switch e.Status {
		case models.QueuePending:
			s.Pending++
		case models.QueueFailed:
			s.Failed++
		}
	}
	return s
}

// Size returns the number of entries in the queue.
func (q *SyncQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	return &c
}

// ToModel converts an Entry to its persisted form.
func (e *Entry) ToModel() *models.SyncQueueEntry {
	return &models.SyncQueueEntry{
		ID:         e.ID,
		Seq:        e.Seq,
		EntityType: e.EntityType,
		Operation:  e.Operation,
		RecordID:   e.RecordID,
		ScopeKey:   e.ScopeKey,
		Payload:    e.Payload,
		EnqueuedAt: e.EnqueuedAt,
		Attempts:   e.Attempts,
		LastError:  e.LastError,
		Status:     e.Status,
	}
}

// FromModel creates an Entry from its persisted form.
func FromModel(m *models.SyncQueueEntry) *Entry {
	return &Entry{
		ID:         m.ID,
		Seq:        m.Seq,
		EntityType: m.EntityType,
		Operation:  m.Operation,
		RecordID:   m.RecordID,
		ScopeKey:   m.ScopeKey,
		Payload:    append(json.RawMessage(nil), m.Payload...),
		EnqueuedAt: m.EnqueuedAt,
		Attempts:   m.Attempts,
		LastError:  m.LastError,
		Status:     m.Status,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// remapPayloadID rewrites a top-level "id" field if it equals oldID.
func remapPayloadID(payload json.RawMessage, oldID, newID string) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return payload
	}
	raw, ok := fields["id"]
	if !ok {
		return payload
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id != oldID {
		return payload
	}
	fields["id"], _ = json.Marshal(newID)
	out, err := json.Marshal(fields)
	if err != nil {
		return payload
	}
	return out
}
