package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wharfd/wharfd/internal/logger"
)

// HealthCheckTimeout is the maximum time to wait for a dependency check.
const HealthCheckTimeout = 5 * time.Second

// ActivityDropCounter is implemented by stores that count audit records
// lost to a full write queue. When the readiness store implements it, the
// count rides along in the readiness payload.
type ActivityDropCounter interface {
	DroppedActivities() uint64
}

// Response is the standard envelope for ops endpoint payloads.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// healthHandler serves the liveness and readiness probes.
type healthHandler struct {
	store     Checker
	listeners ListenerLister
	startTime time.Time
}

func newHealthHandler(store Checker, listeners ListenerLister) *healthHandler {
	return &healthHandler{
		store:     store,
		listeners: listeners,
		startTime: time.Now(),
	}
}

// Liveness reports whether the process is alive. It never consults
// dependencies, so a wedged database does not get the process restarted.
func (h *healthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	writeResponse(w, http.StatusOK, Response{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"service":    "wharfd",
			"started_at": h.startTime.UTC().Format(time.RFC3339),
			"uptime":     uptime.Round(time.Second).String(),
			"uptime_sec": int64(uptime.Seconds()),
		},
	})
}

// Readiness reports whether the server can do useful work: the database
// answers within HealthCheckTimeout and at least the supervisor is up.
func (h *healthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
		defer cancel()

		if err := h.store.Healthcheck(ctx); err != nil {
			logger.Warn("readiness check failed", "error", err)
			writeResponse(w, http.StatusServiceUnavailable, Response{
				Status:    "unhealthy",
				Timestamp: time.Now().UTC(),
				Error:     "database unreachable",
			})
			return
		}
	}

	data := map[string]interface{}{
		"database": "ok",
	}
	if counter, ok := h.store.(ActivityDropCounter); ok {
		data["activity_records_dropped"] = counter.DroppedActivities()
	}
	if h.listeners != nil {
		running := h.listeners.RunningListeners()
		data["listeners"] = running
		data["listener_count"] = len(running)
	}

	writeResponse(w, http.StatusOK, Response{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode ops response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeResponse(w, status, Response{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     msg,
	})
}
