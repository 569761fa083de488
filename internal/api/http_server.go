package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"lotwsync/internal/config"
	"lotwsync/internal/database"
	"lotwsync/internal/metrics"
	"lotwsync/internal/models"
	"lotwsync/internal/queue"
	"lotwsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const apiKeyHeader = "X-API-Key"

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepEvery = time.Minute
)

// QueueInspector exposes queue state to operators.
type QueueInspector interface {
	DeadLetters(ctx context.Context, limit int64) ([]string, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// TotalsSource reports the running counts of a worker.
type TotalsSource interface {
	Totals() worker.Totals
}

// HTTPServer is the operations surface of a worker process.
type HTTPServer struct {
	cfg      config.MonitoringConfig
	db       *database.DB
	queue    QueueInspector
	totals   TotalsSource
	server   *http.Server
	logger   *zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewHTTPServer(cfg config.MonitoringConfig, db *database.DB, q QueueInspector, totals TotalsSource, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{
		cfg:      cfg,
		db:       db,
		queue:    q,
		totals:   totals,
		logger:   logger,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/runs", srv.handleRuns)
	api.HandleFunc("/api/v1/deadletter", srv.handleDeadLetter)
	api.HandleFunc("/api/v1/stats", srv.handleStats)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/", srv.wrap(api))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.PrometheusPort),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("ops HTTP listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("healthz")
	checks := map[string]string{"database": "ok", "redis": "ok"}
	status := http.StatusOK

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if s.queue != nil {
		if _, err := s.queue.Stats(r.Context()); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}

func (s *HTTPServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("runs")

	accountID, err := int64Param(r, "account_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account_id")
		return
	}
	limit, err := int64Param(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	runs, err := s.db.ListSyncRuns(r.Context(), accountID, int(limit))
	if err != nil {
		s.logger.Error().Err(err).Msg("list sync runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *HTTPServer) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("deadletter")

	limit, err := int64Param(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	items, err := s.queue.DeadLetters(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list dead letters")
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("queue stats")
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}

	out := make([]models.DeadLetterView, 0, len(items))
	for _, raw := range items {
		out = append(out, models.ViewDeadLetter([]byte(raw)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out, "queue": stats})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("stats")

	var totals worker.Totals
	if s.totals != nil {
		totals = s.totals.Totals()
	}
	writeJSON(w, http.StatusOK, map[string]any{"worker": totals})
}

// wrap applies API-key auth and per-client rate limiting.
func (s *HTTPServer) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" {
			key := strings.TrimSpace(r.Header.Get(apiKeyHeader))
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
				writeError(w, http.StatusForbidden, "invalid api key")
				return
			}
		}

		if s.cfg.RateLimitRPS > 0 && !s.getLimiter(clientKey(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getLimiter returns the per-client limiter. Clients idle for longer than
// limiterIdleTTL are dropped on the next sweep.
func (s *HTTPServer) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= limiterSweepEvery {
		s.lastSweep = now
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(s.limiters, k)
			}
		}
	}

	e, ok := s.limiters[key]
	if !ok {
		burst := s.cfg.RateLimitBurst
		if burst <= 0 {
			burst = 5
		}
		e = &limiterEntry{lim: rate.NewLimiter(rate.Limit(s.cfg.RateLimitRPS), burst)}
		s.limiters[key] = e
	}
	e.lastSeen = now
	return e.lim
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("dur", time.Since(start)).
			Msg("http")
	})
}

func int64Param(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
