// Package memory provides in-process task and result queues.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-scraper/internal/scrape"
)

// TaskQueue is an unbounded FIFO queue with timeout-aware pops.
type TaskQueue struct {
	mu     sync.Mutex
	items  []scrape.Task
	notify chan struct{}
}

// NewTaskQueue constructs an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{notify: make(chan struct{})}
}

// Push appends a task and wakes every waiting consumer. It never blocks.
func (q *TaskQueue) Push(task scrape.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, task)
	close(q.notify)
	q.notify = make(chan struct{})
}

// Pop removes the head task, waiting up to timeout for one to arrive.
func (q *TaskQueue) Pop(ctx context.Context, timeout time.Duration) (scrape.Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			task := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return task, nil
		}
		wake := q.notify
		q.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return "", scrape.ErrQueueEmpty
		case <-ctx.Done():
			return "", fmt.Errorf("pop canceled: %w", ctx.Err())
		}
	}
}

// Len reports the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
