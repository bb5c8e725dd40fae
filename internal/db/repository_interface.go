package db

import (
	"context"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
)

// RecordStore is the local durable store of cached records.
// Failures carry the STORAGE_ERROR code; a missing record carries NOT_FOUND.
type RecordStore interface {
	// Get retrieves a record by type and id.
	Get(ctx context.Context, t models.EntityType, id string) (*models.CachedRecord, error)

	// List returns the records of a scope, newest first.
	List(ctx context.Context, t models.EntityType, scopeKey string) ([]*models.CachedRecord, error)

	// Put upserts a record, overwriting any prior snapshot.
	Put(ctx context.Context, r *models.CachedRecord) error

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, t models.EntityType, id string) error

	// ListByStatus returns records of every type with the given status.
	ListByStatus(ctx context.Context, status models.SyncStatus) ([]*models.CachedRecord, error)
}

// QueueStore persists sync queue entries.
type QueueStore interface {
	InsertQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error
	UpdateQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error
	DeleteQueueEntry(ctx context.Context, id string) error
	// ListQueueEntries returns all entries ordered by Seq.
	ListQueueEntries(ctx context.Context) ([]*models.SyncQueueEntry, error)
}

// ConflictLogRepository defines operations for conflict log persistence.
type ConflictLogRepository interface {
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error
	// ListConflictLogs returns the most recent entries first.
	ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error)
}

// ExportArchiveRepository records produced export archives.
type ExportArchiveRepository interface {
	CreateExportArchive(ctx context.Context, a *models.ExportArchive) error
	ListExportArchives(ctx context.Context) ([]*models.ExportArchive, error)
}

// Store combines every repository the sync core needs.
type Store interface {
	RecordStore
	QueueStore
	ConflictLogRepository
	ExportArchiveRepository
}

// Ensure both implementations satisfy Store at compile time.
var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)
