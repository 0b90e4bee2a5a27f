package scrape

import (
	"context"
	"time"
)

// TaskQueue hands listing tasks to workers.
type TaskQueue interface {
	Push(task Task)
	// Pop returns ErrQueueEmpty when no task arrived within timeout.
	Pop(ctx context.Context, timeout time.Duration) (Task, error)
	Len() int
}

// ResultQueue collects records produced by workers.
type ResultQueue interface {
	Push(record Record)
	DrainAll() []Record
}

// Session is one browsing session owned by a single worker.
type Session interface {
	// List returns the product addresses referenced by a listing page.
	List(ctx context.Context, task Task) ([]string, error)
	// Extract fetches one product page and builds its record.
	Extract(ctx context.Context, address string) (Record, error)
	Close() error
}

// SessionFactory opens a fresh Session for a worker.
type SessionFactory interface {
	Open(ctx context.Context) (Session, error)
}

// Sink persists the final record list.
type Sink interface {
	Write(ctx context.Context, records []Record) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Hasher derives a record ID from a product address.
type Hasher interface {
	HashString(s string) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces worker and run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
