package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/spinbot/internal/crawler"
	"github.com/JakeFAU/spinbot/internal/metrics"
)

// StatsSource supplies the running summary of fetch outcomes.
type StatsSource interface {
	Summary() crawler.Summary
}

// QueueSource reports frontier progress.
type QueueSource interface {
	Pending() int
	SeenCount() int
}

// Server wires HTTP handlers to a running crawl.
type Server struct {
	router  chi.Router
	runID   string
	started time.Time
	stats   StatsSource
	queue   QueueSource
	logger  *zap.Logger
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	RunID      string          `json:"run_id"`
	Uptime     string          `json:"uptime"`
	Pending    int             `json:"pending"`
	Seen       int             `json:"seen"`
	Summary    crawler.Summary `json:"summary"`
	ServerTime time.Time       `json:"server_time"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runID string, stats StatsSource, queue QueueSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runID:   runID,
		started: time.Now(),
		stats:   stats,
		queue:   queue,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.getStats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("stats server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("stats server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown stats server: %w", err)
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{
		RunID:      s.runID,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		ServerTime: time.Now().UTC(),
	}
	if s.stats != nil {
		resp.Summary = s.stats.Summary()
	}
	if s.queue != nil {
		resp.Pending = s.queue.Pending()
		resp.Seen = s.queue.SeenCount()
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

type requestIDKey struct{}

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
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", reqID),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
