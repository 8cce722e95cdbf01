package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ibsfleet/controller/internal/config"
	"github.com/ibsfleet/controller/internal/logging"
)

// Server exposes Monitor over plain HTTP: one handler per endpoint, all
// status logic living in Monitor.
type Server struct {
	cfg     config.HTTPHealthConfig
	logger  *logging.Logger
	monitor *Monitor
	server  *http.Server
}

// NewServer returns a Server bound to cfg's host/port, serving monitor.
func NewServer(cfg config.HTTPHealthConfig, monitor *Monitor, logger *logging.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{cfg: cfg, logger: logger, monitor: monitor}

	mux.HandleFunc(cfg.LiveEndpoint, s.handleLiveness)
	mux.HandleFunc(cfg.ReadyEndpoint, s.handleReadiness)
	mux.HandleFunc(cfg.DetailedEndpoint, s.handleDetailed)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

// Start begins serving in the background; it returns immediately. A non-nil
// error sent to errc indicates the listener failed (not a clean shutdown).
func (s *Server) Start(errc chan<- error) {
	if !s.cfg.Enabled {
		s.logger.Info("health server disabled")
		return
	}
	go func() {
		s.logger.WithField("addr", s.server.Addr).Info("health server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
}

// Shutdown gracefully stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	resp, _ := s.monitor.IsAlive(r.Context())
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	resp, _ := s.monitor.IsReady(r.Context())
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	resp, _ := s.monitor.GetDetailedHealth(r.Context())
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
