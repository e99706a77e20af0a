package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"callrec-server/pkg/app"
	"callrec-server/pkg/config"
	"callrec-server/pkg/errors"
	"callrec-server/pkg/metrics"
	"callrec-server/pkg/version"
)

// BrokerStatus reports whether the notification broker link is up.
type BrokerStatus interface {
	IsConnected() bool
}

// Server exposes the call control API plus health and metrics endpoints.
type Server struct {
	logger     *logrus.Logger
	cfg        *config.Configuration
	facade     *app.Facade
	broker     BrokerStatus
	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time
}

// NewServer creates the HTTP server and registers all routes. broker may
// be nil when notifications are disabled.
func NewServer(logger *logrus.Logger, cfg *config.Configuration, facade *app.Facade, broker BrokerStatus) *Server {
	server := &Server{
		logger:    logger,
		cfg:       cfg,
		facade:    facade,
		broker:    broker,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	server.mux = mux

	addServerHeader := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			next(w, r)
		}
	}

	mux.HandleFunc("/health", addServerHeader(server.HealthHandler))
	mux.HandleFunc("/health/live", addServerHeader(server.LivenessHandler))
	mux.HandleFunc("/health/ready", addServerHeader(server.ReadinessHandler))
	mux.HandleFunc("/status", addServerHeader(server.statusHandler))

	if cfg.HTTPEnableMetrics {
		promHandler := promhttp.HandlerFor(
			metrics.GetRegistry(),
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          metrics.GetRegistry(),
			},
		)
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			promHandler.ServeHTTP(w, r)
		})
		logger.Info("Prometheus metrics endpoint enabled at /metrics")
	} else {
		logger.Info("Metrics endpoint disabled")
	}

	mux.HandleFunc("POST /api/makeCall", addServerHeader(server.makeCallHandler))
	mux.HandleFunc("GET /api/calls", addServerHeader(server.listCallsHandler))
	mux.HandleFunc("DELETE /api/calls/{id}", addServerHeader(server.hangupHandler))
	mux.HandleFunc("POST /api/calls/{id}/participants", addServerHeader(server.addParticipantHandler))
	mux.HandleFunc("POST /api/calls/{id}/recording/start", addServerHeader(server.startRecordingHandler))
	mux.HandleFunc("POST /api/calls/{id}/recording/stop", addServerHeader(server.stopRecordingHandler))
	mux.HandleFunc("GET /api/recordings/{speakerKey}", addServerHeader(server.fetchArtifactHandler))

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	return server
}

// Handler returns the route handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server in a goroutine
func (s *Server) Start() {
	s.logger.WithField("port", s.cfg.HTTPPort).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// statusHandler handles the /status endpoint
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).String(),
		"active_calls": s.facade.SessionCount(),
		"version":      version.Version,
		"started_at":   s.startTime.Format(time.RFC3339),
	}

	writeJSON(w, http.StatusOK, status)
}

// ErrorResponse sends a standardized error response
func (s *Server) ErrorResponse(w http.ResponseWriter, err error) {
	errors.WriteError(w, err)
	s.logger.WithError(err).Warn("HTTP error response sent")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
