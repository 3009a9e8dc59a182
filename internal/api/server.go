// Package api exposes the HTTP control surface for the monitor service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/placementwatch/tnp-monitor/internal/config"
	"github.com/placementwatch/tnp-monitor/internal/metrics"
	"github.com/placementwatch/tnp-monitor/internal/monitor"
)

// Version is the service version reported by the root descriptor.
const Version = "1.0.0"

// JobController is the runner surface the API needs: current state plus
// the ability to start a cycle.
type JobController interface {
	State() monitor.RunState
	TriggerAsync(ctx context.Context) error
}

// Server wires HTTP handlers to the runner and the dedup store.
type Server struct {
	router     chi.Router
	controller JobController
	store      monitor.SeenStore
	clock      monitor.Clock
	interval   time.Duration
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	controller JobController,
	store monitor.SeenStore,
	clock monitor.Clock,
	interval time.Duration,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		controller: controller,
		store:      store,
		clock:      clock,
		interval:   interval,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/", s.root)
	r.Get("/healthz", s.healthz)
	r.Get("/ping", s.ping)
	r.Get("/status", s.status)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/run", s.run)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// root is the service descriptor used by uptime pingers.
func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "tnp-monitor",
		"version": Version,
		"endpoints": []string{
			"GET /healthz", "GET /ping", "GET /status", "GET /metrics", "POST /run",
		},
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ping(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "pong",
		"time":    s.clock.Now().UTC().Format(time.RFC3339),
	})
}

// statusResponse embeds the run state verbatim and adds store-level
// context.
type statusResponse struct {
	monitor.RunState
	SeenCount       int64  `json:"seen_count"`
	IntervalMinutes int    `json:"interval_minutes"`
	StoreError      string `json:"store_error,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		RunState:        s.controller.State(),
		IntervalMinutes: int(s.interval / time.Minute),
	}
	count, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Warn("seen count unavailable", zap.Error(err))
		resp.StoreError = "seen count unavailable"
	} else {
		resp.SeenCount = count
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// run triggers an off-schedule cycle. A cycle already in flight is a
// conflict; the request is not queued.
func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	err := s.controller.TriggerAsync(context.WithoutCancel(r.Context()))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "run accepted"})
	case errors.Is(err, monitor.ErrAlreadyRunning):
		s.writeError(w, http.StatusConflict, "already running")
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
