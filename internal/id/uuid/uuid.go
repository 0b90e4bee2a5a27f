// Package uuid generates time-ordered identifiers for runs and workers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements scrape.IDGenerator with UUIDv7 so IDs sort by
// creation time in logs and stored summaries.
type Generator struct {
	prefix string
}

// New creates a Generator producing bare UUIDs.
func New() *Generator {
	return &Generator{}
}

// WithPrefix creates a Generator whose IDs start with prefix, e.g. "worker-".
func WithPrefix(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a new prefixed UUIDv7 string.
func (g Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return g.prefix + id.String(), nil
}
