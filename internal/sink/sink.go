// Package sink opens the record destination named by output.destination.
//
// Supported forms:
//
//	gs://bucket/object          Google Cloud Storage object
//	postgres://... / postgresql://...   Postgres table (output.postgres_table)
//	memory://                   in-process, for dry runs
//	anything else               local file path, optionally file://
package sink

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/JakeFAU/catalog-scraper/internal/scrape"
	"github.com/JakeFAU/catalog-scraper/internal/sink/file"
	"github.com/JakeFAU/catalog-scraper/internal/sink/gcs"
	"github.com/JakeFAU/catalog-scraper/internal/sink/memory"
	"github.com/JakeFAU/catalog-scraper/internal/sink/postgres"
)

// Destination kinds.
const (
	KindFile     = "file"
	KindGCS      = "gcs"
	KindPostgres = "postgres"
	KindMemory   = "memory"
)

// Options tunes backend construction.
type Options struct {
	PostgresTable string
	// GCSOptions are passed to storage.NewClient.
	GCSOptions []option.ClientOption
}

// Kind classifies a destination string.
func Kind(destination string) string {
	switch {
	case strings.HasPrefix(destination, "gs://"):
		return KindGCS
	case strings.HasPrefix(destination, "postgres://"), strings.HasPrefix(destination, "postgresql://"):
		return KindPostgres
	case strings.HasPrefix(destination, "memory://"):
		return KindMemory
	default:
		return KindFile
	}
}

// Open builds the sink for destination. The returned close func releases
// backend clients and is never nil.
func Open(ctx context.Context, destination string, opts Options) (scrape.Sink, func() error, error) {
	noop := func() error { return nil }
	switch Kind(destination) {
	case KindGCS:
		bucket, object, err := gcs.ParseURI(destination)
		if err != nil {
			return nil, noop, err
		}
		client, err := storage.NewClient(ctx, opts.GCSOptions...)
		if err != nil {
			return nil, noop, fmt.Errorf("create storage client: %w", err)
		}
		s, err := gcs.New(client, bucket, object)
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return s, client.Close, nil
	case KindPostgres:
		s, err := postgres.New(ctx, postgres.Config{DSN: destination, Table: opts.PostgresTable})
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case KindMemory:
		return memory.New(), noop, nil
	default:
		s, err := file.New(destination)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	}
}
