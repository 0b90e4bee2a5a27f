package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-scraper/internal/metrics"
	"github.com/JakeFAU/catalog-scraper/internal/scrape"
)

// Runner is one unit of work the supervisor keeps alive. *worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFactory builds the runner for a freshly spawned handle.
type RunnerFactory func(id string) Runner

// WorkerHandle tracks one running worker. It is owned by the Supervisor.
type WorkerHandle struct {
	ID        string
	Slot      int
	StartedAt time.Time

	done    chan struct{}
	cancel  context.CancelFunc
	err     error
	handled bool
}

func startHandle(ctx context.Context, id string, slot int, started time.Time, runner Runner) *WorkerHandle {
	h := &WorkerHandle{
		ID:        id,
		Slot:      slot,
		StartedAt: started,
		done:      make(chan struct{}),
	}
	ctx, h.cancel = context.WithCancel(ctx)
	go func() {
		defer close(h.done)
		defer h.cancel()
		defer func() {
			if r := recover(); r != nil {
				h.err = scrape.NewFault(fmt.Errorf("worker panic: %v", r))
			}
		}()
		h.err = runner.Run(ctx)
	}()
	return h
}

// Alive reports whether the worker is still running.
func (h *WorkerHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// stop cancels the worker's context and waits for it to exit.
func (h *WorkerHandle) stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the worker has exited.
func (h *WorkerHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the exit error. Only meaningful after Done is closed.
func (h *WorkerHandle) Err() error {
	if h.Alive() {
		return nil
	}
	return h.err
}

// ExitReason classifies a finished worker as idle, fault or canceled.
// It returns an empty string while the worker is alive.
func (h *WorkerHandle) ExitReason() string {
	if h.Alive() {
		return ""
	}
	switch {
	case h.err == nil:
		return metrics.ReasonIdle
	case scrape.IsFault(h.err):
		return metrics.ReasonFault
	default:
		return metrics.ReasonCanceled
	}
}
