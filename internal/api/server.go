// Package api exposes the admin HTTP interface for the ingestion service:
// feed CRUD, on-demand runs, health probes and the Prometheus endpoint.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dongwoo46/bottlen/internal/config"
	"github.com/dongwoo46/bottlen/internal/feed"
	"github.com/dongwoo46/bottlen/internal/metrics"
)

// Executor runs a single feed on demand.
type Executor interface {
	ExecuteFeed(ctx context.Context, feedID string) (feed.RunReport, error)
}

// Server wires HTTP handlers to the feed registry and the run executor.
type Server struct {
	router   chi.Router
	registry feed.Registry
	executor Executor
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(registry feed.Registry, executor Executor, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: registry,
		executor: executor,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/feeds", func(r chi.Router) {
			r.Post("/", s.createFeed)
			r.Get("/", s.listFeeds)
			r.Route("/{feed_id}", func(r chi.Router) {
				r.Get("/", s.getFeed)
				r.Put("/", s.updateFeed)
				r.Delete("/", s.deleteFeed)
				r.Post("/run", s.runFeed)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The registry is the only hard dependency for admin traffic.
	if _, err := s.registry.ListEnabled(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type feedRequest struct {
	Source          string `json:"source"`
	Topic           string `json:"topic"`
	URL             string `json:"url"`
	IntervalSeconds *int   `json:"interval_seconds"`
	Enabled         *bool  `json:"enabled"`
}

func (req feedRequest) validate() error {
	if req.Source == "" {
		return errors.New("source required")
	}
	if req.URL == "" {
		return errors.New("url required")
	}
	if req.IntervalSeconds != nil && *req.IntervalSeconds <= 0 {
		return errors.New("interval_seconds must be > 0")
	}
	return nil
}

// defaultIntervalSeconds applies when a create request omits the polling
// interval.
const defaultIntervalSeconds = 300

func (s *Server) createFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	src := feed.Source{
		Source:          req.Source,
		Topic:           feed.ParseTopic(req.Topic),
		URL:             req.URL,
		IntervalSeconds: valueOrDefault(req.IntervalSeconds, defaultIntervalSeconds),
		Enabled:         valueOrDefault(req.Enabled, true),
	}
	created, err := s.registry.Create(r.Context(), src)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create feed: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"feed": created})
}

func (s *Server) listFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.registry.ListEnabled(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list feeds failed")
		return
	}
	if feeds == nil {
		feeds = []feed.Source{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": feeds})
}

func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feed_id")
	src, err := s.registry.Get(r.Context(), feedID)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			writeError(w, http.StatusNotFound, "feed not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get feed failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": src})
}

// updateFeed replaces the mutable fields of a feed. Omitted fields keep
// their current values; lastRunAt is never touched here.
func (s *Server) updateFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feed_id")
	var req feedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.IntervalSeconds != nil && *req.IntervalSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "interval_seconds must be > 0")
		return
	}
	current, err := s.registry.Get(r.Context(), feedID)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			writeError(w, http.StatusNotFound, "feed not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get feed failed")
		return
	}
	if req.Source != "" {
		current.Source = req.Source
	}
	if req.Topic != "" {
		current.Topic = feed.ParseTopic(req.Topic)
	}
	if req.URL != "" {
		current.URL = req.URL
	}
	current.IntervalSeconds = valueOrDefault(req.IntervalSeconds, current.IntervalSeconds)
	current.Enabled = valueOrDefault(req.Enabled, current.Enabled)

	updated, err := s.registry.Update(r.Context(), current)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			writeError(w, http.StatusNotFound, "feed not found")
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("update feed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": updated})
}

func (s *Server) deleteFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feed_id")
	if err := s.registry.Delete(r.Context(), feedID); err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			writeError(w, http.StatusNotFound, "feed not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete feed failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"feed_id": feedID, "status": "deleted"})
}

type runResponse struct {
	FeedID     string         `json:"feed_id"`
	Source     string         `json:"source"`
	Status     feed.RunStatus `json:"status"`
	TotalSeen  int            `json:"total_seen"`
	TotalNew   int            `json:"total_new"`
	Dropped    int            `json:"dropped"`
	Degraded   bool           `json:"degraded"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

// runFeed executes the feed synchronously and returns its report. An aborted
// run is still a 200: the request itself succeeded, the report says how the
// run ended.
func (s *Server) runFeed(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feed_id")
	report, err := s.executor.ExecuteFeed(r.Context(), feedID)
	if err != nil {
		switch {
		case errors.Is(err, feed.ErrNotFound):
			writeError(w, http.StatusNotFound, "feed not found")
		case errors.Is(err, feed.ErrDisabled):
			writeError(w, http.StatusConflict, "feed is disabled")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	resp := runResponse{
		FeedID:     report.FeedID,
		Source:     report.Source,
		Status:     report.Status,
		TotalSeen:  report.TotalSeen,
		TotalNew:   report.TotalNew,
		Dropped:    report.Dropped,
		Degraded:   report.Degraded,
		DurationMs: report.Duration.Milliseconds(),
	}
	if report.Err != nil {
		resp.Error = report.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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
				writeError(w, http.StatusForbidden, "unauthorized")
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
