package handler

import (
	"net/http"
	"runtime"
	"time"

	"pantry-api/pkg/response"
)

// StartTime tracks when the server started for uptime calculation
var StartTime = time.Now()

// Readiness reports the state of store initialization.
type Readiness interface {
	Ready() bool
	Status() map[string]interface{}
}

// Handler serves process-level health endpoints.
type Handler struct {
	service   string
	version   string
	readiness Readiness
}

// New creates a new handler. readiness may be nil.
func New(service, version string, readiness Readiness) *Handler {
	return &Handler{service: service, version: version, readiness: readiness}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool                   `json:"ready"`
	Timestamp time.Time              `json:"timestamp"`
	Store     map[string]interface{} `json:"store,omitempty"`
}

// Ready handles GET /api/v1/ready. It answers 503 until schema convergence
// and seeding have both succeeded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Ready: true, Timestamp: time.Now().UTC()}
	if h.readiness != nil {
		resp.Ready = h.readiness.Ready()
		resp.Store = h.readiness.Status()
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp)
}

// StatusChecks represents the checks in status response
type StatusChecks struct {
	Store    string  `json:"store"`
	MemoryMB float64 `json:"memory_mb"`
}

// StatusResponse is the single-call status summary for uptime monitors.
type StatusResponse struct {
	Service       string       `json:"service"`
	Status        string       `json:"status"`
	Timestamp     string       `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Checks        StatusChecks `json:"checks"`
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	memoryMB := float64(memStats.Alloc) / 1024 / 1024

	storeState := "ok"
	overall := "ok"
	if h.readiness != nil && !h.readiness.Ready() {
		storeState = "initializing"
		if _, failed := h.readiness.Status()["error"]; failed {
			storeState = "failed"
		}
		overall = "degraded"
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	response.OK(w, StatusResponse{
		Service:       h.service,
		Status:        overall,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(StartTime).Seconds()),
		Checks: StatusChecks{
			Store:    storeState,
			MemoryMB: float64(int(memoryMB*100)) / 100,
		},
	})
}
