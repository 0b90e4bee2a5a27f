// Package scrape defines core types shared across subsystems.
package scrape

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Task is the address of one listing page. It is immutable once enqueued.
type Task string

// Record is the structured payload produced from one product page.
type Record struct {
	// ID is derived from URL and is unique per product address.
	ID string
	// URL is the product address the record was extracted from.
	URL string
	// Fields holds the extracted values keyed by field name.
	Fields map[string]any
}

// Reserved record keys written alongside Fields.
const (
	FieldID  = "id"
	FieldURL = "url"
)

// MarshalJSON flattens the record so fields sit next to id and url.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat[FieldID] = r.ID
	flat[FieldURL] = r.URL
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(flat); err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", r.URL, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MarshalRecords renders records as an indented JSON array. Non-ASCII and
// HTML characters are written as-is. A nil slice renders as [].
func MarshalRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return buf.Bytes(), nil
}

// Summary describes a finished run; it is published once the sink succeeds.
type Summary struct {
	RunID       string `json:"run_id"`
	Tasks       int    `json:"tasks"`
	Records     int    `json:"records"`
	Destination string `json:"destination"`
	Restarts    int    `json:"restarts"`
	TasksLost   int    `json:"tasks_lost"`
	FinishedAt  string `json:"finished_at"`
}
