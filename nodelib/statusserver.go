package nodelib

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"
)

// ServerConfig controls the status HTTP endpoint.
type ServerConfig struct {
	// Enabled controls whether the endpoint is served. Default: false.
	Enabled bool `yaml:"enabled,omitempty"`

	// Address is the listen address. Default: "127.0.0.1:8081".
	Address string `yaml:"address,omitempty"`
}

// DefaultServerConfig returns the status endpoint defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address: "127.0.0.1:8081",
	}
}

// StatusSnapshot is a consistent view of the supervisor, served as JSON on /status.
type StatusSnapshot struct {
	Status Status `json:"status"`
	PID    int    `json:"pid,omitempty"`
	Binary string `json:"binary,omitempty"`
}

// StatusServer serves the supervisor status and, optionally, Prometheus metrics.
type StatusServer struct {
	config     ServerConfig
	supervisor *Supervisor
	metrics    http.Handler
	logger     *Logger
	server     *http.Server
}

// NewStatusServer creates a status server. metrics may be nil.
func NewStatusServer(config ServerConfig, supervisor *Supervisor, metrics http.Handler, logger *Logger) *StatusServer {
	if config.Address == "" {
		config.Address = DefaultServerConfig().Address
	}
	if logger == nil {
		logger = DiscardLogger()
	}
	return &StatusServer{
		config:     config,
		supervisor: supervisor,
		metrics:    metrics,
		logger:     logger.With("component", "status-server"),
	}
}

// Handler returns the HTTP routes.
//
//	/status   200 with the snapshot when RUNNING, 503 otherwise
//	/metrics  Prometheus exposition, when a metrics handler was supplied
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snapshot := s.supervisor.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		if snapshot.Status == StatusRunning {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snapshot)
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// Start begins serving in the background and stops when ctx is cancelled.
// The listener is bound before Start returns so address errors surface here.
func (s *StatusServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Printf("Status endpoint listening on %s", listener.Addr())
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Status endpoint failed: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	return nil
}
