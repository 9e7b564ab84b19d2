// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/azogue/pvpcbill/internal/config"
	"github.com/azogue/pvpcbill/internal/metrics"
	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/publisher"
	"github.com/azogue/pvpcbill/internal/service"
	"github.com/azogue/pvpcbill/internal/tariff"
)

// Routes.
const (
	RouteBills  = "/api/v1/bills"
	RouteBatch  = "/api/v1/bills/batch"
	RouteHealth = "/health"
)

// BillService defines the bill computations the HTTP API exposes.
type BillService interface {
	Compute(ctx context.Context, req service.Request) (model.Bill, error)
	ComputeBatch(ctx context.Context, reqs []service.Request) ([]service.Result, error)
}

// PublisherStats reports the publisher counters on /health.
type PublisherStats interface {
	Stats() publisher.Stats
}

// Option configures an HTTPServer.
type Option func(*HTTPServer)

// WithMetrics counts requests on m and serves gatherer on the metrics path.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *HTTPServer) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithPublisherStats adds the publisher counters to the health report.
func WithPublisherStats(p PublisherStats) Option {
	return func(s *HTTPServer) { s.publisher = p }
}

// HTTPServer encapsulates the HTTP server and its dependencies.
type HTTPServer struct {
	server      *http.Server
	config      *config.Config
	bills       BillService
	tables      *tariff.Tables
	defaults    model.Contract
	rateLimiter *rate.Limiter
	validate    *validator.Validate
	publisher   PublisherStats
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	logger      *zap.Logger

	shutdownWg sync.WaitGroup
	errCh      chan error
}

// NewHTTPServer creates a new HTTPServer instance.
func NewHTTPServer(cfg *config.Config, bills BillService, tables *tariff.Tables, logger *zap.Logger, opts ...Option) (*HTTPServer, error) {
	defaults, err := cfg.Billing.Defaults.Contract()
	if err != nil {
		return nil, fmt.Errorf("default contract: %w", err)
	}

	limit := rate.Inf
	if cfg.Server.RateLimitPerSecond > 0 {
		limit = rate.Limit(cfg.Server.RateLimitPerSecond)
	}

	srv := &HTTPServer{
		config:      cfg,
		bills:       bills,
		tables:      tables,
		defaults:    defaults,
		rateLimiter: rate.NewLimiter(limit, max(cfg.Server.RateLimitPerSecond*2, 1)),
		validate:    validator.New(),
		logger:      logger,
		errCh:       make(chan error, 1),
	}
	for _, opt := range opts {
		opt(srv)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(RouteBills, srv.instrument(RouteBills, srv.handleBill))
	mux.HandleFunc(RouteBatch, srv.instrument(RouteBatch, srv.handleBatch))
	mux.HandleFunc(RouteHealth, srv.handleHealthCheck)
	if cfg.Metrics.Enabled && srv.gatherer != nil {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(srv.gatherer, promhttp.HandlerOpts{}))
	}

	srv.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return srv, nil
}

// Handler returns the routed handler.
func (s *HTTPServer) Handler() http.Handler { return s.server.Handler }

// Start starts the HTTP server. Listen failures are reported on Err.
func (s *HTTPServer) Start() {
	s.shutdownWg.Add(1)
	go func() {
		defer s.shutdownWg.Done()
		s.logger.Info("HTTP server starting", zap.Int("port", s.config.Server.Port))

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
			s.errCh <- err
		}
	}()
}

// Err delivers the error that stopped the listener.
func (s *HTTPServer) Err() <-chan error { return s.errCh }

// Stop gracefully shuts down the HTTP server.
func (s *HTTPServer) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.shutdownWg.Wait()
	s.logger.Info("HTTP server stopped")
	return err
}

// handleBill handles POST requests to /api/v1/bills.
func (s *HTTPServer) handleBill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.rateLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = formatJSON
	}
	if _, ok := formats[format]; !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
		return
	}

	s.limitBody(w, r)
	defer r.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, decodeStatus(err), fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}
	req, err := s.decodeRequest(raw)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	bill, err := s.bills.Compute(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	body, filename, err := s.render(bill, format)
	if err != nil {
		s.logger.Error("failed to render bill", zap.String("format", format), zap.Error(err))
		writeError(w, statusFor(err), "failed to render bill")
		return
	}

	w.Header().Set("Content-Type", formats[format])
	if format != formatJSON {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

type batchItem struct {
	Bill  *model.Bill `json:"bill,omitempty"`
	Error string      `json:"error,omitempty"`
}

// handleBatch handles POST requests to /api/v1/bills/batch. Every item is
// answered in order, failed ones carrying their error.
func (s *HTTPServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.rateLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
		return
	}

	s.limitBody(w, r)
	defer r.Body.Close()

	var raws []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		writeError(w, decodeStatus(err), fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}
	if len(raws) == 0 {
		writeError(w, http.StatusBadRequest, "no bill requests provided")
		return
	}

	items := make([]batchItem, len(raws))
	var reqs []service.Request
	var positions []int
	for i, raw := range raws {
		req, err := s.decodeRequest(raw)
		if err != nil {
			items[i].Error = err.Error()
			continue
		}
		reqs = append(reqs, req)
		positions = append(positions, i)
	}

	results, err := s.bills.ComputeBatch(r.Context(), reqs)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	for j, res := range results {
		i := positions[j]
		if res.Err != nil {
			items[i].Error = res.Err.Error()
			continue
		}
		bill := res.Bill
		items[i].Bill = &bill
	}
	writeJSON(w, http.StatusOK, items)
}

// handleHealthCheck handles GET requests to /health.
func (s *HTTPServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"years":     s.tables.Years(),
	}
	if s.publisher != nil {
		health["publisher"] = s.publisher.Stats()
	}
	writeJSON(w, http.StatusOK, health)
}

// instrument counts the responses of a route.
func (s *HTTPServer) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.IncHTTPRequest(route, strconv.Itoa(rec.status))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
