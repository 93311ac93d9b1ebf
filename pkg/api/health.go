package api

import (
	"net/http"
	"strconv"
	"time"
)

// The service reports degraded once recent failures cross this share
// of terminal outcomes.
const degradedErrorRate = 0.10

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// healthHandler reports healthy, degraded (high error rate), or
// unhealthy (backing store unreachable).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"redis": "ok"},
	}

	if err := s.engine.Ping(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Checks["redis"] = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Checks["providers"] = strconv.Itoa(len(s.engine.Providers()))

	if qm, err := s.engine.QueueMetrics(r.Context()); err == nil {
		resp.Checks["pending_operations"] = strconv.FormatInt(qm.Pending, 10)
		resp.Checks["dead_lettered_operations"] = strconv.FormatInt(qm.DeadLettered, 10)
		if qm.ErrorRate >= degradedErrorRate {
			resp.Status = "degraded"
			resp.Checks["error_rate"] = strconv.FormatFloat(qm.ErrorRate, 'f', 3, 64)
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
