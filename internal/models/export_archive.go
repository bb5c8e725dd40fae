package models

import "time"

// ExportArchive holds metadata for an exported record archive.
type ExportArchive struct {
	ID          string `db:"id" json:"id"`
	ScopeKey    string `db:"scope_key" json:"scope_key"`
	FilePath    string `db:"file_path" json:"file_path"`
	Checksum    string `db:"checksum" json:"checksum"` // SHA-256
	SizeBytes   int64  `db:"size_bytes" json:"size_bytes"`
	RecordCount int    `db:"record_count" json:"record_count"`
	IsEncrypted bool   `db:"is_encrypted" json:"is_encrypted"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
}

// TableName returns the table name for ExportArchive.
func (ExportArchive) TableName() string {
	return "export_archives"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (e *ExportArchive) CreatedAtTime() time.Time {
	return time.UnixMilli(e.CreatedAt)
}
