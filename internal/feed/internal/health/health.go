// Package health tracks pipeline health and serves it over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status represents the health status of the pipeline.
type Status string

const (
	// StatusOK indicates the pipeline is healthy.
	StatusOK Status = "ok"

	// StatusDegraded indicates the pipeline is running but with issues.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy indicates the pipeline is not working properly.
	StatusUnhealthy Status = "unhealthy"
)

// degradedAfter is the number of errors since the last success that
// degrades a component.
const degradedAfter = 5

// ComponentHealth represents the health of one pipeline stage.
type ComponentHealth struct {
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	LastEvent   *time.Time `json:"lastEvent,omitempty"`
	EventsTotal int64      `json:"eventsTotal"`
	Errors      int        `json:"errors"`
	Restarts    int        `json:"restarts,omitempty"`
	Gaps        int        `json:"gapsDetected,omitempty"`

	// errorsSinceEvent resets on every success
	errorsSinceEvent int
}

// Report is the full health report.
type Report struct {
	Status     Status            `json:"status"`
	InstanceID string            `json:"instanceId"`
	Pipeline   string            `json:"pipeline"`
	Uptime     string            `json:"uptime"`
	StartedAt  time.Time         `json:"startedAt"`
	Components []ComponentHealth `json:"components"`
}

// Checker provides health check functionality.
type Checker struct {
	instanceID string
	pipeline   string
	startedAt  time.Time
	logger     *slog.Logger

	mu         sync.RWMutex
	components map[string]*ComponentHealth
}

// NewChecker creates a new health checker.
func NewChecker(instanceID, pipeline string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		instanceID: instanceID,
		pipeline:   pipeline,
		startedAt:  time.Now(),
		logger:     logger.With("component", "health"),
		components: make(map[string]*ComponentHealth),
	}
}

// Register registers a component for health tracking.
func (h *Checker) Register(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = &ComponentHealth{
		Name:   name,
		Status: StatusOK,
	}
}

// RecordEvent records a success for a component.
func (h *Checker) RecordEvent(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.components[name]; ok {
		now := time.Now()
		c.LastEvent = &now
		c.EventsTotal++
		c.errorsSinceEvent = 0
		c.Status = StatusOK
	}
}

// RecordError records an error for a component.
func (h *Checker) RecordError(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.components[name]; ok {
		c.Errors++
		c.errorsSinceEvent++
		if c.errorsSinceEvent > degradedAfter {
			c.Status = StatusDegraded
		}
	}
}

// RecordRestart records a change stream restart for a component.
func (h *Checker) RecordRestart(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.components[name]; ok {
		c.Restarts++
	}
}

// RecordGap records a gap detection for a component.
func (h *Checker) RecordGap(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.components[name]; ok {
		c.Gaps++
	}
}

// SetStatus forces the status of a component, e.g. unhealthy while its
// upstream is unreachable.
func (h *Checker) SetStatus(name string, status Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.components[name]; ok {
		c.Status = status
	}
}

// GetReport returns the current health report.
func (h *Checker) GetReport() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	report := Report{
		Status:     StatusOK,
		InstanceID: h.instanceID,
		Pipeline:   h.pipeline,
		Uptime:     time.Since(h.startedAt).Round(time.Second).String(),
		StartedAt:  h.startedAt,
		Components: make([]ComponentHealth, 0, len(h.components)),
	}

	for _, c := range h.components {
		report.Components = append(report.Components, *c)

		if c.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
		} else if c.Status == StatusDegraded && report.Status == StatusOK {
			report.Status = StatusDegraded
		}
	}
	sort.Slice(report.Components, func(i, j int) bool {
		return report.Components[i].Name < report.Components[j].Name
	})

	return report
}

// Check returns the overall health status.
func (h *Checker) Check() Status {
	return h.GetReport().Status
}

// ServeHTTP implements http.Handler for health endpoint.
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.GetReport()

	w.Header().Set("Content-Type", "application/json")

	switch report.Status {
	case StatusOK, StatusDegraded:
		w.WriteHeader(http.StatusOK)
	case StatusUnhealthy:
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Warn("failed to write health report", "error", err)
	}
}

// NewHandler returns a mux serving the health report and prometheus metrics.
func NewHandler(checker *Checker, healthPath, metricsPath string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(healthPath, checker)
	mux.Handle(metricsPath, promhttp.Handler())
	return mux
}

// StartServer serves health and metrics until ctx is cancelled.
func StartServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("health server starting", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
