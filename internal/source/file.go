package source

import (
	"context"
	"log/slog"
	"os"

	"github.com/cuongbtq/intern-crm/internal/domain"
)

// FileSource re-processes a listings file previously written by the ingest
// script. Filters are ignored.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a new file-backed source
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// Name returns the source name
func (s *FileSource) Name() string {
	return "file:" + s.path
}

// Fetch reads and parses the listings file
func (s *FileSource) Fetch(ctx context.Context, _ domain.Filters) ([]domain.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, domain.NewSourceError("read", err, s.path)
	}

	records, err := ParseOutput(data)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Listings file loaded",
		slog.String("path", s.path),
		slog.Int("records", len(records)),
	)

	return records, nil
}
