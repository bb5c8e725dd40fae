package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
)

// MemoryStore is an in-process Store. It is used when the database cannot
// be opened and in tests. Records are cloned on the way in and out.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[models.EntityType]map[string]*models.CachedRecord
	queue     map[string]*models.SyncQueueEntry
	conflicts []*models.ConflictLog
	archives  []*models.ExportArchive
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		records: make(map[models.EntityType]map[string]*models.CachedRecord),
		queue:   make(map[string]*models.SyncQueueEntry),
	}
	for _, t := range models.EntityTypes() {
		s.records[t] = make(map[string]*models.CachedRecord)
	}
	return s
}

func sortNewestFirst(recs []*models.CachedRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt != recs[j].CreatedAt {
			return recs[i].CreatedAt > recs[j].CreatedAt
		}
		return recs[i].ID < recs[j].ID
	})
}

// Get retrieves a record by type and id.
func (s *MemoryStore) Get(ctx context.Context, t models.EntityType, id string) (*models.CachedRecord, error) {
	if _, err := tableFor(t); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[t][id]
	if !ok {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("%s %s not found", t, id))
	}
	return rec.Clone(), nil
}

// List returns the records of a scope, newest first.
func (s *MemoryStore) List(ctx context.Context, t models.EntityType, scopeKey string) ([]*models.CachedRecord, error) {
	if _, err := tableFor(t); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*models.CachedRecord
	for _, rec := range s.records[t] {
		if rec.ScopeKey == scopeKey {
			recs = append(recs, rec.Clone())
		}
	}
	sortNewestFirst(recs)
	return recs, nil
}

// ListByStatus returns records of every type with the given status.
func (s *MemoryStore) ListByStatus(ctx context.Context, status models.SyncStatus) ([]*models.CachedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*models.CachedRecord
	for _, t := range models.EntityTypes() {
		var recs []*models.CachedRecord
		for _, rec := range s.records[t] {
			if rec.SyncStatus == status {
				recs = append(recs, rec.Clone())
			}
		}
		sortNewestFirst(recs)
		all = append(all, recs...)
	}
	return all, nil
}

// Put upserts a record after validating it.
func (s *MemoryStore) Put(ctx context.Context, rec *models.CachedRecord) error {
	if err := models.ValidateRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.EntityType][rec.ID] = rec.Clone()
	return nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(ctx context.Context, t models.EntityType, id string) error {
	if _, err := tableFor(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records[t], id)
	return nil
}

// InsertQueueEntry persists a new queue entry.
func (s *MemoryStore) InsertQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.queue[e.ID]; exists {
		return errors.New(errors.ErrStorage, fmt.Sprintf("queue entry %s already exists", e.ID))
	}
	cp := *e
	s.queue[e.ID] = &cp
	return nil
}

// UpdateQueueEntry persists the mutable fields of an entry.
func (s *MemoryStore) UpdateQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.queue[e.ID]; !exists {
		return nil
	}
	cp := *e
	s.queue[e.ID] = &cp
	return nil
}

// DeleteQueueEntry removes an entry.
func (s *MemoryStore) DeleteQueueEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queue, id)
	return nil
}

// ListQueueEntries returns all entries ordered by Seq.
func (s *MemoryStore) ListQueueEntries(ctx context.Context) ([]*models.SyncQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*models.SyncQueueEntry, 0, len(s.queue))
	for _, e := range s.queue {
		cp := *e
		entries = append(entries, &cp)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Seq < entries[j].Seq
	})
	return entries, nil
}

// CreateConflictLog creates a new conflict log entry.
func (s *MemoryStore) CreateConflictLog(ctx context.Context, log *models.ConflictLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *log
	s.conflicts = append(s.conflicts, &cp)
	return nil
}

// ListConflictLogs returns the most recent entries first.
func (s *MemoryStore) ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var logs []*models.ConflictLog
	for i := len(s.conflicts) - 1; i >= 0 && len(logs) < limit; i-- {
		cp := *s.conflicts[i]
		logs = append(logs, &cp)
	}
	return logs, nil
}

// CreateExportArchive records an exported archive.
func (s *MemoryStore) CreateExportArchive(ctx context.Context, a *models.ExportArchive) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.archives = append(s.archives, &cp)
	return nil
}

// ListExportArchives returns archives newest first.
func (s *MemoryStore) ListExportArchives(ctx context.Context) ([]*models.ExportArchive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	archives := make([]*models.ExportArchive, 0, len(s.archives))
	for i := len(s.archives) - 1; i >= 0; i-- {
		cp := *s.archives[i]
		archives = append(archives, &cp)
	}
	return archives, nil
}
