package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/metrics"
	"github.com/JakeFAU/catalog-scraper/internal/supervisor"
)

// StatusSource exposes pool state for the status endpoint.
type StatusSource interface {
	Stats() supervisor.Stats
	Handles() []*supervisor.WorkerHandle
}

type workerStatus struct {
	ID         string    `json:"id"`
	Slot       int       `json:"slot"`
	StartedAt  time.Time `json:"started_at"`
	Alive      bool      `json:"alive"`
	ExitReason string    `json:"exit_reason,omitempty"`
}

type statusResponse struct {
	Stats   statsPayload   `json:"stats"`
	Workers []workerStatus `json:"workers"`
}

type statsPayload struct {
	Spawned       int `json:"spawned"`
	Restarts      int `json:"restarts"`
	FaultRestarts int `json:"fault_restarts"`
	IdleExits     int `json:"idle_exits"`
	Faults        int `json:"faults"`
	TasksLost     int `json:"tasks_lost"`
}

type requestIDKey struct{}

// NewRouter builds the observability router.
func NewRouter(collector *metrics.Collector, status StatusSource, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(instrumentMiddleware(collector, logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", collector.Handler())
	r.Get("/v1/workers", func(w http.ResponseWriter, _ *http.Request) {
		if status == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "pool not started"})
			return
		}
		writeJSON(w, http.StatusOK, buildStatus(status))
	})
	return r
}

func buildStatus(status StatusSource) statusResponse {
	stats := status.Stats()
	resp := statusResponse{
		Stats: statsPayload{
			Spawned:       stats.Spawned,
			Restarts:      stats.Restarts,
			FaultRestarts: stats.FaultRestarts,
			IdleExits:     stats.IdleExits,
			Faults:        stats.Faults,
			TasksLost:     stats.TasksLost,
		},
		Workers: []workerStatus{},
	}
	for _, h := range status.Handles() {
		resp.Workers = append(resp.Workers, workerStatus{
			ID:         h.ID,
			Slot:       h.Slot,
			StartedAt:  h.StartedAt,
			Alive:      h.Alive(),
			ExitReason: h.ExitReason(),
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func instrumentMiddleware(collector *metrics.Collector, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			route := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			collector.ObserveHTTPRequest(r.Method, route, ww.status, elapsed)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", elapsed.Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}
