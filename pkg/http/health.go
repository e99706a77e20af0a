package http

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"callrec-server/pkg/version"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains system resource information
type SystemInfo struct {
	GoRoutines  int    `json:"goroutines"`
	MemoryMB    uint64 `json:"memory_mb"`
	CPUCount    int    `json:"cpu_count"`
	ActiveCalls int    `json:"active_calls"`
}

// HealthHandler handles health check requests
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    make(map[string]CheckResult),
	}

	if s.facade != nil {
		health.Checks["sessions"] = CheckResult{
			Status:  "healthy",
			Message: "Session registry operational",
		}
		health.System.ActiveCalls = s.facade.SessionCount()
	} else {
		health.Checks["sessions"] = CheckResult{
			Status:  "unhealthy",
			Message: "Session registry not initialized",
		}
		health.Status = "unhealthy"
	}

	if info, err := os.Stat(s.cfg.RecordingDir); err != nil || !info.IsDir() {
		health.Checks["storage"] = CheckResult{
			Status:  "unhealthy",
			Message: "Recording directory unavailable",
		}
		health.Status = "unhealthy"
	} else {
		health.Checks["storage"] = CheckResult{
			Status:  "healthy",
			Message: "Recording directory writable",
		}
	}

	// Broker loss degrades notifications but never recording.
	if s.broker != nil {
		if s.broker.IsConnected() {
			health.Checks["amqp"] = CheckResult{
				Status:  "healthy",
				Message: "AMQP connected",
			}
		} else {
			health.Checks["amqp"] = CheckResult{
				Status:  "degraded",
				Message: "AMQP disconnected",
			}
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	health.System.GoRoutines = runtime.NumGoroutine()
	health.System.MemoryMB = m.Alloc / 1024 / 1024
	health.System.CPUCount = runtime.NumCPU()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, health)
}

// LivenessHandler handles kubernetes liveness probe
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ReadinessHandler handles kubernetes readiness probe
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.facade == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}
