package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/logging"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/pipeline"
)

// LaneReporter exposes the scheduler's current lane occupancy
type LaneReporter interface {
	Snapshot() []pipeline.LaneSnapshot
}

// Server is a local HTTP endpoint exposing batch status while a run is
// in flight: lane occupancy, health, and Prometheus metrics.
type Server struct {
	addr     string
	reporter LaneReporter
	metrics  http.Handler
	logger   *logging.Logger
	srv      *http.Server
}

// New creates a status server. The metrics handler may be nil, in which
// case /metrics returns 404.
func New(addr string, reporter LaneReporter, metricsHandler http.Handler, logger *logging.Logger) *Server {
	s := &Server{
		addr:     addr,
		reporter: reporter,
		metrics:  metricsHandler,
		logger:   logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods("GET")
	}

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's router, used by tests
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins serving in the background. Startup errors after the
// listener is bound are logged, not returned.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Status server listening", map[string]interface{}{"addr": s.addr})
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Status server error", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Stop shuts the server down, honoring the context deadline
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	lanes := s.reporter.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"lanes": lanes}); err != nil {
		s.logger.Error("Failed to encode lane snapshot", map[string]interface{}{"error": err.Error()})
	}
}
