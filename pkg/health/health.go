// Package health serves the health endpoints exposed next to the metrics
// listener while a scopeguard run is in progress. A run whose store or audit
// log cannot accept writes fails every evaluation closed, so those are the
// dependencies checked.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Checker is the interface for health checks.
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckFunc is a function type that implements Checker.
type CheckFunc func(ctx context.Context) CheckResult

func (f CheckFunc) Check(ctx context.Context) CheckResult { return f(ctx) }

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration_ms"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Response is the full health check response.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Uptime    time.Duration          `json:"uptime_seconds,omitempty"`
}

// Handler manages health checks and provides HTTP endpoints.
type Handler struct {
	mu sync.RWMutex

	checks map[string]Checker

	version   string
	runID     string
	startTime time.Time
	timeout   time.Duration
	now       func() time.Time

	ready bool
}

// HandlerOption configures the health handler.
type HandlerOption func(*Handler)

// WithVersion sets the application version.
func WithVersion(version string) HandlerOption {
	return func(h *Handler) {
		h.version = version
	}
}

// WithRunID tags responses with the run being served.
func WithRunID(runID string) HandlerOption {
	return func(h *Handler) {
		h.runID = runID
	}
}

// WithTimeout sets the check timeout.
func WithTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		h.timeout = timeout
	}
}

// NewHandler creates a new health handler. It starts ready.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		checks:  make(map[string]Checker),
		timeout: 5 * time.Second,
		now:     time.Now,
		ready:   true,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startTime = h.now()
	return h
}

// Register adds a health check.
func (h *Handler) Register(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = checker
}

// RegisterFunc adds a health check function.
func (h *Handler) RegisterFunc(name string, fn func(ctx context.Context) CheckResult) {
	h.Register(name, CheckFunc(fn))
}

// SetReady sets the readiness state. Runs mark themselves not ready while
// closing.
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the readiness state.
func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Check runs all registered checks concurrently under the handler timeout.
// Any unhealthy check makes the whole response unhealthy.
func (h *Handler) Check(ctx context.Context) Response {
	h.mu.RLock()
	checks := make(map[string]Checker, len(h.checks))
	for name, checker := range h.checks {
		checks[name] = checker
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make(map[string]CheckResult, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, checker := range checks {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			start := h.now()
			result := checker.Check(ctx)
			result.Duration = h.now().Sub(start)
			result.Timestamp = h.now()

			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded, StatusUnknown:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}

	return Response{
		Status:    overall,
		Timestamp: h.now(),
		RunID:     h.runID,
		Checks:    results,
		Version:   h.version,
		Uptime:    h.now().Sub(h.startTime),
	}
}

// LivenessHandler always answers healthy while the process can serve.
func (h *Handler) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    StatusHealthy,
			"timestamp": h.now(),
		})
	})
}

// ReadinessHandler answers 503 when the run is closing or a check fails.
func (h *Handler) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":    StatusUnhealthy,
				"message":   "run not ready",
				"timestamp": h.now(),
			})
			return
		}
		response := h.Check(r.Context())
		writeJSON(w, statusCode(response.Status), response)
	})
}

// HealthHandler returns the detailed result of every check.
func (h *Handler) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := h.Check(r.Context())
		writeJSON(w, statusCode(response.Status), response)
	})
}

func statusCode(s Status) int {
	switch s {
	case StatusHealthy, StatusDegraded:
		return http.StatusOK
	case StatusUnhealthy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Routes names the paths RegisterRoutes mounts. Empty paths are skipped.
type Routes struct {
	LivenessPath  string
	ReadinessPath string
	HealthPath    string
}

// DefaultRoutes returns the standard liveness and readiness paths.
func DefaultRoutes() Routes {
	return Routes{
		LivenessPath:  "/livez",
		ReadinessPath: "/readyz",
		HealthPath:    "/healthz",
	}
}

// RegisterRoutes mounts the handler's endpoints on mux.
func RegisterRoutes(mux *http.ServeMux, h *Handler, routes Routes) {
	if routes.LivenessPath != "" {
		mux.Handle(routes.LivenessPath, h.LivenessHandler())
	}
	if routes.ReadinessPath != "" {
		mux.Handle(routes.ReadinessPath, h.ReadinessHandler())
	}
	if routes.HealthPath != "" {
		mux.Handle(routes.HealthPath, h.HealthHandler())
	}
}
