package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/db"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/sync/queue"
)

const testScope = "couple-1"

// remoteCall records one request seen by fakeRemote.
type remoteCall struct {
	Op     models.Operation
	Entity models.EntityType
	ID     string
}

func (c remoteCall) String() string {
	return fmt.Sprintf("%s %s %s", c.Op, c.Entity, c.ID)
}

// fakeRemote is an in-memory remote.Client with scripted failures.
type fakeRemote struct {
	mu       gosync.Mutex
	calls    []remoteCall
	records  map[string]*models.CachedRecord
	failures map[string][]error
	clock    int64

	// idPrefix, when set, makes Create assign prefix+localID.
	idPrefix string
	// gate, when set, blocks every call until it is closed.
	gate chan struct{}
	// entered receives one value per call when set.
	entered chan struct{}
	// panicOn makes the named operation panic.
	panicOn models.Operation
	// listErr is returned by List when set.
	listErr error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records:  make(map[string]*models.CachedRecord),
		failures: make(map[string][]error),
		clock:    1000,
	}
}

func recordKeyOf(t models.EntityType, id string) string {
	return string(t) + "/" + id
}

// failNext queues errors for op on id. An empty id matches any record.
func (f *fakeRemote) failNext(op models.Operation, id string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(op) + ":" + id
	f.failures[key] = append(f.failures[key], errs...)
}

func (f *fakeRemote) seed(rec *models.CachedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := rec.Clone()
	c.SyncStatus = ""
	f.records[recordKeyOf(c.EntityType, c.ID)] = c
}

func (f *fakeRemote) has(t models.EntityType, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[recordKeyOf(t, id)]
	return ok
}

func (f *fakeRemote) get(t models.EntityType, id string) *models.CachedRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recordKeyOf(t, id)]
	if !ok {
		return nil
	}
	return rec.Clone()
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// begin logs the call, honors gate and panics, and pops a scripted failure.
func (f *fakeRemote) begin(ctx context.Context, op models.Operation, t models.EntityType, id string) error {
	f.mu.Lock()
	f.calls = append(f.calls, remoteCall{Op: op, Entity: t, ID: id})
	gate, entered, panicOn := f.gate, f.entered, f.panicOn
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if panicOn == op {
		panic("remote exploded")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range []string{string(op) + ":" + id, string(op) + ":"} {
		if errs := f.failures[key]; len(errs) > 0 {
			f.failures[key] = errs[1:]
			return errs[0]
		}
	}
	return nil
}

func (f *fakeRemote) Create(ctx context.Context, t models.EntityType, scopeKey string, payload json.RawMessage) (*models.CachedRecord, error) {
	rec, err := models.DecodeRecord(t, payload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "bad payload", err)
	}
	if err := f.begin(ctx, models.OpCreate, t, rec.ID); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock++
	rec.ID = f.idPrefix + rec.ID
	rec.ScopeKey = scopeKey
	rec.SyncStatus = ""
	rec.CreatedAt, rec.UpdatedAt = f.clock, f.clock
	f.records[recordKeyOf(t, rec.ID)] = rec
	return rec.Clone(), nil
}

func (f *fakeRemote) Update(ctx context.Context, t models.EntityType, scopeKey, id string, patch json.RawMessage) (*models.CachedRecord, error) {
	if err := f.begin(ctx, models.OpUpdate, t, id); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recordKeyOf(t, id)]
	if !ok {
		return nil, errors.New(errors.ErrSyncConflict, "record deleted remotely")
	}
	next, err := models.ApplyPatch(rec.Payload, patch)
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "bad patch", err)
	}
	f.clock++
	rec.Payload = next
	rec.UpdatedAt = f.clock
	return rec.Clone(), nil
}

func (f *fakeRemote) Delete(ctx context.Context, t models.EntityType, scopeKey, id string) error {
	if err := f.begin(ctx, models.OpDelete, t, id); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, recordKeyOf(t, id))
	return nil
}

func (f *fakeRemote) List(ctx context.Context, t models.EntityType, scopeKey string) ([]*models.CachedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}

	var out []*models.CachedRecord
	for _, rec := range f.records {
		if rec.EntityType == t && rec.ScopeKey == scopeKey {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// fakeNetwork is a settable NetworkStatus.
type fakeNetwork struct {
	mu     gosync.Mutex
	online bool
	since  *time.Time
}

func (n *fakeNetwork) set(online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if online && !n.online {
		now := time.Now()
		n.since = &now
	}
	n.online = online
}

func (n *fakeNetwork) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *fakeNetwork) Connecting() bool { return false }

func (n *fakeNetwork) LastOnlineAt() *time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.since
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     gosync.Mutex
	events []SyncEvent
}

func (r *eventRecorder) OnSyncEvent(e SyncEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []SyncEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SyncEventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) find(t SyncEventType) (SyncEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == t {
			return e, true
		}
	}
	return SyncEvent{}, false
}

// harness wires a manager, engine, queue and store around a fakeRemote.
type harness struct {
	store   *db.MemoryStore
	queue   *queue.SyncQueue
	remote  *fakeRemote
	engine  *Engine
	manager *Manager
	network *fakeNetwork
	events  *eventRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := db.NewMemoryStore()
	return buildHarness(t, store, store)
}

// buildHarness wires the components over records, which may wrap mem.
func buildHarness(t *testing.T, records db.Store, mem *db.MemoryStore) *harness {
	t.Helper()
	q := queue.NewSyncQueue(records, queue.DefaultMaxSize)
	require.NoError(t, q.Load(context.Background()))

	fr := newFakeRemote()
	engine := NewEngine(q, records, fr, EngineConfig{MaxAttempts: 3, RequestTimeout: time.Second}, nil)
	events := &eventRecorder{}
	engine.SetEventHandler(events)

	network := &fakeNetwork{}
	manager := NewManager(records, q, engine, fr, testScope, nil)
	manager.SetNetworkStatus(network)

	return &harness{
		store:   mem,
		queue:   q,
		remote:  fr,
		engine:  engine,
		manager: manager,
		network: network,
		events:  events,
	}
}

// flakyStore fails record reads and writes on demand. Queue persistence
// is passed through.
type flakyStore struct {
	*db.MemoryStore

	mu         gosync.Mutex
	failPut    bool
	failDelete bool
	failList   bool
}

var errCacheWrite = errors.New(errors.ErrStorage, "disk full")

func (s *flakyStore) arm(put, del, list bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut, s.failDelete, s.failList = put, del, list
}

func (s *flakyStore) Put(ctx context.Context, r *models.CachedRecord) error {
	s.mu.Lock()
	fail := s.failPut
	s.mu.Unlock()
	if fail {
		return errCacheWrite
	}
	return s.MemoryStore.Put(ctx, r)
}

func (s *flakyStore) Delete(ctx context.Context, t models.EntityType, id string) error {
	s.mu.Lock()
	fail := s.failDelete
	s.mu.Unlock()
	if fail {
		return errCacheWrite
	}
	return s.MemoryStore.Delete(ctx, t, id)
}

func (s *flakyStore) List(ctx context.Context, t models.EntityType, scopeKey string) ([]*models.CachedRecord, error) {
	s.mu.Lock()
	fail := s.failList
	s.mu.Unlock()
	if fail {
		return nil, errCacheWrite
	}
	return s.MemoryStore.List(ctx, t, scopeKey)
}

// Queue writes honor ctx the way database/sql does.
func (s *flakyStore) UpdateQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.UpdateQueueEntry(ctx, e)
}

func (s *flakyStore) DeleteQueueEntry(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.DeleteQueueEntry(ctx, id)
}

// newFlakyHarness is newHarness over a flakyStore.
func newFlakyHarness(t *testing.T) (*harness, *flakyStore) {
	t.Helper()
	mem := db.NewMemoryStore()
	flaky := &flakyStore{MemoryStore: mem}
	return buildHarness(t, flaky, mem), flaky
}

func diary(title string) *models.DiaryEntry {
	return &models.DiaryEntry{
		AuthorID:  "partner-a",
		Title:     title,
		Content:   "today we " + title,
		EntryDate: "2024-02-14",
	}
}

func syncedDiary(id, title string, createdAt int64) *models.CachedRecord {
	return &models.CachedRecord{
		ID:         id,
		EntityType: models.EntityDiary,
		ScopeKey:   testScope,
		SyncStatus: models.SyncSynced,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		Payload:    diary(title),
	}
}

func networkErr() error {
	return errors.New(errors.ErrSyncNetwork, "connection refused")
}
