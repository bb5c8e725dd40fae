// Package export writes the cached records of a sharing scope into a
// portable archive and verifies archives written earlier.
package export

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/db"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/errors"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/export/crypto"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/logging"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/uuid"
)

const (
	// FormatVersion is written into every manifest.
	FormatVersion = "1"

	manifestName = "manifest.json"
	recordsName  = "records.json"
)

// Service produces export archives.
type Service struct {
	records  db.RecordStore
	archives db.ExportArchiveRepository
	dir      string
	now      func() time.Time
}

// NewService creates a Service writing into dir when no output path is given.
func NewService(records db.RecordStore, archives db.ExportArchiveRepository, dir string) *Service {
	return &Service{
		records:  records,
		archives: archives,
		dir:      dir,
		now:      time.Now,
	}
}

// Options selects what to export and where.
type Options struct {
	ScopeKey   string `json:"scope_key"`
	OutputPath string `json:"output_path,omitempty"`
	// Password enables AES-256-GCM encryption when set. It is never stored.
	Password string `json:"password,omitempty"`
}

// Manifest describes the archive contents.
type Manifest struct {
	Version     string         `json:"version"`
	ScopeKey    string         `json:"scope_key"`
	ExportedAt  int64          `json:"exported_at"`
	RecordCount int            `json:"record_count"`
	Counts      map[string]int `json:"counts"`
	Checksum    string         `json:"checksum"` // SHA-256 of records.json
}

// Result reports a finished export.
type Result struct {
	Archive  *models.ExportArchive `json:"archive"`
	Manifest *Manifest             `json:"manifest"`
	Duration time.Duration         `json:"duration"`
}

// Export writes every cached record of opts.ScopeKey, in all sync states,
// into a tar.gz archive and records it in the archive log.
func (s *Service) Export(ctx context.Context, opts *Options) (*Result, error) {
	start := s.now()
	if opts == nil || opts.ScopeKey == "" {
		return nil, errors.New(errors.ErrInvalid, "scope key is required")
	}
	if opts.Password != "" {
		if err := crypto.ValidatePassword(opts.Password); err != nil {
			return nil, err
		}
	}

	var all []*models.CachedRecord
	counts := make(map[string]int)
	for _, t := range models.EntityTypes() {
		recs, err := s.records.List(ctx, t, opts.ScopeKey)
		if err != nil {
			return nil, errors.Wrap(errors.ErrExportFailed, "read "+string(t)+" records", err)
		}
		counts[string(t)] = len(recs)
		all = append(all, recs...)
	}
	if all == nil {
		all = []*models.CachedRecord{}
	}

	recordsJSON, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "encode records", err)
	}

	manifest := &Manifest{
		Version:     FormatVersion,
		ScopeKey:    opts.ScopeKey,
		ExportedAt:  start.UnixMilli(),
		RecordCount: len(all),
		Counts:      counts,
		Checksum:    checksum(recordsJSON),
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "encode manifest", err)
	}

	data, err := pack(start, map[string][]byte{
		manifestName: manifestJSON,
		recordsName:  recordsJSON,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "build archive", err)
	}
	if opts.Password != "" {
		if data, err = crypto.EncryptArchive(data, opts.Password); err != nil {
			return nil, err
		}
	}

	path := opts.OutputPath
	if path == "" {
		path = filepath.Join(s.dir, fmt.Sprintf("diary_%s_%s.tar.gz", opts.ScopeKey, start.Format("20060102_150405")))
	}
	if err := writeAtomic(path, data); err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "write archive", err)
	}

	archive := &models.ExportArchive{
		ID:          uuid.New(),
		ScopeKey:    opts.ScopeKey,
		FilePath:    path,
		Checksum:    manifest.Checksum,
		SizeBytes:   int64(len(data)),
		RecordCount: len(all),
		IsEncrypted: opts.Password != "",
		CreatedAt:   start.UnixMilli(),
	}
	if s.archives != nil {
		if err := s.archives.CreateExportArchive(ctx, archive); err != nil {
			logging.Warn("export written but not recorded", map[string]interface{}{
				"path": path, "error": err.Error(),
			})
		}
	}

	logging.Info("export completed", map[string]interface{}{
		"path":      path,
		"records":   len(all),
		"encrypted": archive.IsEncrypted,
		"bytes":     archive.SizeBytes,
	})

	return &Result{Archive: archive, Manifest: manifest, Duration: s.now().Sub(start)}, nil
}

// Verify opens the archive at path, decrypting with password when it is
// encrypted, and checks the records checksum against the manifest.
func (s *Service) Verify(path, password string) (*Manifest, error) {
	manifest, _, err := Read(path, password)
	return manifest, err
}

// Read opens an archive and returns its manifest and records.
func Read(path, password string) (*Manifest, []*models.CachedRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrNotFound, "open archive", err)
	}

	if crypto.IsEncrypted(data) {
		if password == "" {
			return nil, nil, errors.New(errors.ErrInvalidPassword, "archive is encrypted, password required")
		}
		if data, err = crypto.DecryptArchive(data, password); err != nil {
			return nil, nil, err
		}
	}

	files, err := unpack(data)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrCorruptedArchive, "read archive", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(files[manifestName], &manifest); err != nil {
		return nil, nil, errors.Wrap(errors.ErrCorruptedArchive, "invalid manifest", err)
	}
	recordsJSON, ok := files[recordsName]
	if !ok {
		return nil, nil, errors.New(errors.ErrCorruptedArchive, "archive has no records")
	}
	if manifest.Checksum == "" || manifest.Checksum != checksum(recordsJSON) {
		return nil, nil, errors.New(errors.ErrCorruptedArchive, "checksum mismatch")
	}

	var records []*models.CachedRecord
	if err := json.Unmarshal(recordsJSON, &records); err != nil {
		return nil, nil, errors.Wrap(errors.ErrCorruptedArchive, "invalid records", err)
	}
	if len(records) != manifest.RecordCount {
		return nil, nil, errors.New(errors.ErrCorruptedArchive,
			fmt.Sprintf("manifest lists %d records, archive has %d", manifest.RecordCount, len(records)))
	}
	return &manifest, records, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// pack builds a gzip-compressed tar of files in a fixed order.
func pack(modTime time.Time, files map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)

	for _, name := range []string{manifestName, recordsName} {
		content := files[name]
		header := &tar.Header{
			Name:    name,
			Mode:    0o600,
			Size:    int64(len(content)),
			ModTime: modTime,
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, err
		}
		if _, err := tw.Write(content); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gzw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unpack reads every regular file of a gzip-compressed tar into memory.
func unpack(data []byte) (map[string][]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gzr.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		files[header.Name] = content
	}
	return files, nil
}

// writeAtomic writes data to a temporary file and renames it into place.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
