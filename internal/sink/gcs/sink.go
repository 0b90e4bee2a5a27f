// Package gcs writes the record list as one JSON object in Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/catalog-scraper/internal/scrape"
)

const contentType = "application/json; charset=utf-8"

// Sink uploads records to gs://bucket/object.
type Sink struct {
	client *storage.Client
	bucket string
	object string
}

// ParseURI splits a gs://bucket/object destination.
func ParseURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("gcs destination %q must start with gs://", uri)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || strings.TrimSpace(object) == "" {
		return "", "", fmt.Errorf("gcs destination %q must name a bucket and an object", uri)
	}
	return bucket, object, nil
}

// New creates a GCS sink. The client stays owned by the caller.
func New(client *storage.Client, bucket, object string) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	return &Sink{client: client, bucket: bucket, object: object}, nil
}

// URI returns the gs:// location written by Write.
func (s *Sink) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// Write uploads the records as an indented JSON array.
func (s *Sink) Write(ctx context.Context, records []scrape.Record) error {
	data, err := scrape.MarshalRecords(records)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
