package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
)

// Repository implements Store on SQLite.
type Repository struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// If another goroutine stored one first, use it and close ours.
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

func storageErr(op string, err error) error {
	return errors.Wrap(errors.ErrStorage, op, err)
}

func tableFor(t models.EntityType) (string, error) {
	if !t.Valid() {
		return "", errors.New(errors.ErrValidation, fmt.Sprintf("unknown entity type %q", t))
	}
	return t.TableName(), nil
}

// =====================================================
// Cached Record Operations
// =====================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(t models.EntityType, row rowScanner) (*models.CachedRecord, error) {
	var (
		rec     models.CachedRecord
		status  string
		payload string
	)
	if err := row.Scan(&rec.ID, &rec.ScopeKey, &status, &payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	p, err := models.DecodePayload(t, []byte(payload))
	if err != nil {
		return nil, err
	}
	rec.EntityType = t
	rec.SyncStatus = models.SyncStatus(status)
	rec.Payload = p
	return &rec, nil
}

// Get retrieves a record by type and id.
func (r *Repository) Get(ctx context.Context, t models.EntityType, id string) (*models.CachedRecord, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, scope_key, sync_status, payload, created_at, updated_at
		FROM %s WHERE id = ?`, table)
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return nil, storageErr("get record", err)
	}

	rec, err := scanRecord(t, stmt.QueryRowContext(ctx, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("%s %s not found", t, id))
	}
	if err != nil {
		return nil, storageErr("get record", err)
	}
	return rec, nil
}

// List returns the records of a scope, newest first.
func (r *Repository) List(ctx context.Context, t models.EntityType, scopeKey string) ([]*models.CachedRecord, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, scope_key, sync_status, payload, created_at, updated_at
		FROM %s WHERE scope_key = ? ORDER BY created_at DESC, id`, table)
	return r.queryRecords(ctx, t, query, scopeKey)
}

// ListByStatus returns records of every type with the given status,
// grouped by entity type in sweep order and newest first within a type.
func (r *Repository) ListByStatus(ctx context.Context, status models.SyncStatus) ([]*models.CachedRecord, error) {
	var all []*models.CachedRecord
	for _, t := range models.EntityTypes() {
		query := fmt.Sprintf(`SELECT id, scope_key, sync_status, payload, created_at, updated_at
			FROM %s WHERE sync_status = ? ORDER BY created_at DESC, id`, t.TableName())
		recs, err := r.queryRecords(ctx, t, query, string(status))
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

func (r *Repository) queryRecords(ctx context.Context, t models.EntityType, query string, arg interface{}) ([]*models.CachedRecord, error) {
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return nil, storageErr("list records", err)
	}
	rows, err := stmt.QueryContext(ctx, arg)
	if err != nil {
		return nil, storageErr("list records", err)
	}
	defer rows.Close()

	var recs []*models.CachedRecord
	for rows.Next() {
		rec, err := scanRecord(t, rows)
		if err != nil {
			return nil, storageErr("scan record", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list records", err)
	}
	return recs, nil
}

// Put upserts a record after validating it.
func (r *Repository) Put(ctx context.Context, rec *models.CachedRecord) error {
	if err := models.ValidateRecord(rec); err != nil {
		return err
	}
	payload, err := rec.PayloadJSON()
	if err != nil {
		return storageErr("encode payload", err)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, scope_key, sync_status, payload, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		scope_key = excluded.scope_key,
		sync_status = excluded.sync_status,
		payload = excluded.payload,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`, rec.EntityType.TableName())
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return storageErr("put record", err)
	}
	if _, err := stmt.ExecContext(ctx, rec.ID, rec.ScopeKey, string(rec.SyncStatus), string(payload),
		rec.CreatedAt, rec.UpdatedAt); err != nil {
		return storageErr("put record", err)
	}
	return nil
}

// Delete removes a record.
func (r *Repository) Delete(ctx context.Context, t models.EntityType, id string) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id); err != nil {
		return storageErr("delete record", err)
	}
	return nil
}

// =====================================================
// Sync Queue Operations
// =====================================================

// InsertQueueEntry persists a new queue entry.
func (r *Repository) InsertQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error {
	query := `
	INSERT INTO sync_queue (id, seq, entity_type, operation, record_id, scope_key, payload,
		enqueued_at, attempts, last_error, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, e.ID, e.Seq, string(e.EntityType), string(e.Operation),
		e.RecordID, e.ScopeKey, string(e.Payload), e.EnqueuedAt, e.Attempts, e.LastError, string(e.Status))
	if err != nil {
		return storageErr("insert queue entry", err)
	}
	return nil
}

// UpdateQueueEntry persists the mutable fields of an entry.
func (r *Repository) UpdateQueueEntry(ctx context.Context, e *models.SyncQueueEntry) error {
	query := `
	UPDATE sync_queue SET record_id = ?, payload = ?, attempts = ?, last_error = ?, status = ?
	WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query, e.RecordID, string(e.Payload), e.Attempts, e.LastError,
		string(e.Status), e.ID)
	if err != nil {
		return storageErr("update queue entry", err)
	}
	return nil
}

// DeleteQueueEntry removes an entry. Missing ids are ignored.
func (r *Repository) DeleteQueueEntry(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return storageErr("delete queue entry", err)
	}
	return nil
}

// ListQueueEntries returns all entries ordered by Seq.
func (r *Repository) ListQueueEntries(ctx context.Context) ([]*models.SyncQueueEntry, error) {
	query := `
	SELECT id, seq, entity_type, operation, record_id, scope_key, payload,
		   enqueued_at, attempts, last_error, status
	FROM sync_queue ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("list queue entries", err)
	}
	defer rows.Close()

	var entries []*models.SyncQueueEntry
	for rows.Next() {
		var (
			e                      models.SyncQueueEntry
			entityType, op, status string
			payload                string
		)
		if err := rows.Scan(&e.ID, &e.Seq, &entityType, &op, &e.RecordID, &e.ScopeKey, &payload,
			&e.EnqueuedAt, &e.Attempts, &e.LastError, &status); err != nil {
			return nil, storageErr("scan queue entry", err)
		}
		e.EntityType = models.EntityType(entityType)
		e.Operation = models.Operation(op)
		e.Status = models.QueueStatus(status)
		e.Payload = []byte(payload)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list queue entries", err)
	}
	return entries, nil
}

// =====================================================
// ConflictLog Operations
// =====================================================

// CreateConflictLog creates a new conflict log entry.
func (r *Repository) CreateConflictLog(ctx context.Context, log *models.ConflictLog) error {
	query := `
	INSERT INTO conflict_log (id, entity_type, record_id, scope_key, local_timestamp,
		remote_timestamp, resolution, discarded_local, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, log.ID, string(log.EntityType), log.RecordID, log.ScopeKey,
		log.LocalTimestamp, log.RemoteTimestamp, log.Resolution, log.DiscardedLocal, log.DetectedAt)
	if err != nil {
		return storageErr("create conflict log", err)
	}
	return nil
}

// ListConflictLogs returns the most recent entries first.
func (r *Repository) ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
	SELECT id, entity_type, record_id, scope_key, local_timestamp, remote_timestamp,
		   resolution, discarded_local, detected_at
	FROM conflict_log ORDER BY detected_at DESC, id LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, storageErr("list conflict logs", err)
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		var (
			l          models.ConflictLog
			entityType string
		)
		if err := rows.Scan(&l.ID, &entityType, &l.RecordID, &l.ScopeKey, &l.LocalTimestamp,
			&l.RemoteTimestamp, &l.Resolution, &l.DiscardedLocal, &l.DetectedAt); err != nil {
			return nil, storageErr("scan conflict log", err)
		}
		l.EntityType = models.EntityType(entityType)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// =====================================================
// ExportArchive Operations
// =====================================================

// CreateExportArchive records an exported archive.
func (r *Repository) CreateExportArchive(ctx context.Context, a *models.ExportArchive) error {
	query := `
	INSERT INTO export_archives (id, scope_key, file_path, checksum, size_bytes, record_count,
		is_encrypted, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, a.ID, a.ScopeKey, a.FilePath, a.Checksum, a.SizeBytes,
		a.RecordCount, a.IsEncrypted, a.CreatedAt)
	if err != nil {
		return storageErr("create export archive", err)
	}
	return nil
}

// ListExportArchives returns archives newest first.
func (r *Repository) ListExportArchives(ctx context.Context) ([]*models.ExportArchive, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, scope_key, file_path, checksum, size_bytes, record_count, is_encrypted, created_at
	FROM export_archives ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, storageErr("list export archives", err)
	}
	defer rows.Close()

	var archives []*models.ExportArchive
	for rows.Next() {
		var a models.ExportArchive
		if err := rows.Scan(&a.ID, &a.ScopeKey, &a.FilePath, &a.Checksum, &a.SizeBytes,
			&a.RecordCount, &a.IsEncrypted, &a.CreatedAt); err != nil {
			return nil, storageErr("scan export archive", err)
		}
		archives = append(archives, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list export archives", err)
	}
	return archives, nil
}
