// Package system provides the wall clock used for handle and run timestamps.
package system

import "time"

// Clock implements scrape.Clock. Timestamps are UTC so run summaries and
// worker start times compare cleanly across hosts.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since reports the time elapsed since t.
func (c Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
