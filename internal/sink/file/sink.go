// Package file writes the record list to a JSON file on local disk.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/catalog-scraper/internal/scrape"
)

// Sink writes all records to one file, replacing any previous content.
type Sink struct {
	path string
}

// New creates a file sink for path. A file:// prefix is accepted.
func New(path string) (*Sink, error) {
	path = strings.TrimPrefix(path, "file://")
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("output path is required")
	}
	return &Sink{path: filepath.Clean(path)}, nil
}

// Path returns the destination file path.
func (s *Sink) Path() string {
	return s.path
}

// Write renders records as an indented JSON array and swaps it into place
// so readers never observe a partial file.
func (s *Sink) Write(ctx context.Context, records []scrape.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write file sink: %w", err)
	}
	data, err := scrape.MarshalRecords(records)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod output file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename output file: %w", err)
	}
	return nil
}
