// Package api exposes the resilience handler over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/scrapeguard/internal/core/domain"
	"github.com/vietddude/scrapeguard/internal/infra/storage"
	"github.com/vietddude/scrapeguard/internal/resilience"
)

const (
	maxBatchURLs    = 100
	maxRequestBytes = 1 << 20
	defaultLimit    = 50
)

// Fetcher builds the operation for a URL.
type Fetcher interface {
	Operation(rawURL string) resilience.Operation
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Server provides the HTTP API.
type Server struct {
	handler *resilience.Handler
	fetcher Fetcher
	journal storage.FailureRepository
	checks  map[string]HealthCheck
	batch   resilience.BatchOptions
	log     *slog.Logger
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithJournal enables the /failures endpoints.
func WithJournal(j storage.FailureRepository) Option {
	return func(s *Server) { s.journal = j }
}

// WithHealthCheck adds a named dependency probe to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithBatchDefaults sets the options used when a batch request omits them.
func WithBatchDefaults(opts resilience.BatchOptions) Option {
	return func(s *Server) { s.batch = opts }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates a new API server.
func NewServer(h *resilience.Handler, f Fetcher, port int, opts ...Option) *Server {
	mux := http.NewServeMux()
	s := &Server{
		handler: h,
		fetcher: f,
		checks:  make(map[string]HealthCheck),
		log:     slog.Default().With("component", "api"),
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	mux.HandleFunc("GET /scrape", s.handleScrape)
	mux.HandleFunc("POST /scrape/batch", s.handleBatch)
	mux.HandleFunc("GET /breaker", s.handleBreakerStatus)
	mux.HandleFunc("POST /breaker/reset", s.handleBreakerReset)
	mux.HandleFunc("GET /failures", s.handleFailures)
	mux.HandleFunc("GET /failures/stats", s.handleFailureStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("API listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type fallback struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type scrapeResponse struct {
	domain.Envelope
	Fallback *fallback `json:"fallback,omitempty"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	env := s.handler.Wrap(r.Context(), target, s.fetcher.Operation(target),
		resilience.WithContext("remote_addr", r.RemoteAddr))

	if env.Success {
		writeJSON(w, http.StatusOK, scrapeResponse{Envelope: env})
		return
	}
	writeJSON(w, env.Kind().HTTPStatus(), scrapeResponse{
		Envelope: env,
		Fallback: &fallback{URL: target},
	})
}

type batchRequest struct {
	URLs        []string `json:"urls"`
	Concurrency int      `json:"concurrency"`
	StopOnError *bool    `json:"stop_on_error"`
}

type batchResponse struct {
	resilience.BatchResult
	Aborted bool `json:"aborted"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.URLs) > maxBatchURLs {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many urls: %d > %d", len(req.URLs), maxBatchURLs))
		return
	}

	opts := s.batch
	if req.Concurrency > 0 {
		opts.Concurrency = req.Concurrency
	}
	if req.StopOnError != nil {
		opts.StopOnError = *req.StopOnError
	}

	items := make([]resilience.BatchItem, 0, len(req.URLs))
	for _, u := range req.URLs {
		items = append(items, resilience.BatchItem{URL: u, Operation: s.fetcher.Operation(u)})
	}

	res, err := s.handler.WrapBatch(r.Context(), items, opts)
	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrBatchAborted):
		writeJSON(w, http.StatusOK, batchResponse{BatchResult: res, Aborted: true})
		return
	default:
		s.log.Warn("Batch interrupted", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, batchResponse{BatchResult: res, Aborted: true})
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{BatchResult: res})
}

type breakerResponse struct {
	resilience.BreakerStatus
	Open []string `json:"open"`
}

func (s *Server) handleBreakerStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.handler.CircuitBreakerStatus(r.Context())
	if err != nil {
		s.writeBreakerError(w, err)
		return
	}
	open := st.Open(time.Now())
	if open == nil {
		open = []string{}
	}
	writeJSON(w, http.StatusOK, breakerResponse{BreakerStatus: st, Open: open})
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("domain")
	if err := s.handler.ResetCircuitBreaker(r.Context(), name); err != nil {
		s.writeBreakerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "domain": name})
}

func (s *Server) writeBreakerError(w http.ResponseWriter, err error) {
	if errors.Is(err, resilience.ErrBreakerDisabled) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error("Breaker store error", "error", err)
	writeError(w, http.StatusInternalServerError, "breaker store unavailable")
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "failure journal disabled")
		return
	}

	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	recs, err := s.journal.Recent(r.Context(), r.URL.Query().Get("domain"), limit)
	if err != nil {
		s.log.Error("Failed to list failures", "error", err)
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	if recs == nil {
		recs = []*domain.FailureRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleFailureStats(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "failure journal disabled")
		return
	}

	window := 24 * time.Hour
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid since duration")
			return
		}
		window = d
	}

	counts, err := s.journal.CountByKind(r.Context(), time.Now().Add(-window))
	if err != nil {
		s.log.Error("Failed to count failures", "error", err)
		writeError(w, http.StatusInternalServerError, "journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"since": window.String(), "counts": counts})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	deps := make(map[string]string, len(s.checks))

	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	response := map[string]any{"status": status}
	if len(deps) > 0 {
		response["dependencies"] = deps
	}
	writeJSON(w, code, response)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
