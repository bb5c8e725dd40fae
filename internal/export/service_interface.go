package export

import "context"

// Exporter is the export surface used by the HTTP handlers and the CLI.
type Exporter interface {
	Export(ctx context.Context, opts *Options) (*Result, error)
	Verify(path, password string) (*Manifest, error)
}

// Ensure *Service implements the interface at compile time.
var _ Exporter = (*Service)(nil)
