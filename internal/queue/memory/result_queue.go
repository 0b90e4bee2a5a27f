package memory

import (
	"sync"

	"github.com/JakeFAU/catalog-scraper/internal/scrape"
)

// ResultQueue accumulates records from concurrent workers.
type ResultQueue struct {
	mu      sync.Mutex
	records []scrape.Record
}

// NewResultQueue constructs an empty result queue.
func NewResultQueue() *ResultQueue {
	return &ResultQueue{}
}

// Push stores a record. It never blocks on consumers.
func (q *ResultQueue) Push(record scrape.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, record)
}

// DrainAll returns every held record in arrival order and empties the queue.
func (q *ResultQueue) DrainAll() []scrape.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.records
	q.records = nil
	if out == nil {
		return []scrape.Record{}
	}
	return out
}

// Len reports the number of held records.
func (q *ResultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}
