package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hueni/internal/config"
	"github.com/dokzlo13/hueni/internal/reconcile"
)

// StatusProvider reports the reconciler state.
type StatusProvider interface {
	Status() reconcile.Status
}

// HealthService provides HTTP health check endpoints.
type HealthService struct {
	cfg    *config.Config
	server *http.Server

	mu     sync.RWMutex
	status StatusProvider
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config) *HealthService {
	return &HealthService{
		cfg: cfg,
	}
}

// SetStatusProvider attaches the reconciler once it exists.
func (s *HealthService) SetStatusProvider(p StatusProvider) {
	s.mu.Lock()
	s.status = p
	s.mu.Unlock()
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

func (s *HealthService) handler() http.Handler {
	mux := http.NewServeMux()

	// Liveness, with the reconciler status when there is one
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "healthy"}
		if status, ok := s.currentStatus(); ok {
			body["reconciler"] = status
		}
		writeJSON(w, http.StatusOK, body)
	})

	// Ready once the reconciler is cycling
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		status, ok := s.currentStatus()
		if !ok || status.Phase != reconcile.PhaseRunning {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "cycles": status.Cycles})
	})

	return mux
}

func (s *HealthService) currentStatus() (reconcile.Status, bool) {
	s.mu.RLock()
	p := s.status
	s.mu.RUnlock()

	if p == nil {
		return reconcile.Status{}, false
	}
	return p.Status(), true
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler(),
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Failed to write health response")
	}
}
