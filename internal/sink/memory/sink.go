// Package memory keeps written records in-memory for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/catalog-scraper/internal/scrape"
)

// Sink stores every Write call.
type Sink struct {
	mu     sync.RWMutex
	writes [][]scrape.Record
	err    error
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{}
}

// FailWith makes subsequent writes return err.
func (s *Sink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Write records a copy of records.
func (s *Sink) Write(_ context.Context, records []scrape.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, append([]scrape.Record(nil), records...))
	return nil
}

// Writes returns how many times Write succeeded.
func (s *Sink) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.writes)
}

// Records returns the records from the most recent write.
func (s *Sink) Records() []scrape.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.writes) == 0 {
		return nil
	}
	last := s.writes[len(s.writes)-1]
	return append([]scrape.Record(nil), last...)
}
