package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/samijaber1/aegis-perf/internal/auth"
	"github.com/samijaber1/aegis-perf/internal/metrics"
	"github.com/samijaber1/aegis-perf/internal/policy"
	"github.com/samijaber1/aegis-perf/internal/scheduler"
	"github.com/samijaber1/aegis-perf/internal/storage"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

const maxIngestBody = 1 << 20

// Ingestor persists raw records as documents
type Ingestor interface {
	InsertDocuments(ctx context.Context, collection string, records []telemetry.RawRecord) ([]storage.Document, error)
}

// CallObserver records the latency and outcome of one served call. The
// in-process telemetry recorder implements it.
type CallObserver interface {
	Observe(op string, d time.Duration, err error)
}

// Poker wakes local stream subscriptions for a collection
type Poker interface {
	Poke(collection string)
}

// Publisher announces a collection change to other processes
type Publisher interface {
	Publish(ctx context.Context, collection string) error
}

// Options configures the API server
type Options struct {
	Addr        string
	Validator   *auth.Validator // nil disables bearer auth
	IngestRate  float64         // ingest requests per second
	IngestBurst int
	Gatherer    prometheus.Gatherer
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Observer    CallObserver // nil disables per-route call recording
}

// Server is the HTTP API server
type Server struct {
	scheduler *scheduler.Scheduler
	policy    *policy.Engine
	store     Ingestor
	poker     Poker
	publisher Publisher
	hub       *Hub
	limiter   *rate.Limiter
	validator *auth.Validator
	gatherer  prometheus.Gatherer
	metrics   *metrics.Metrics
	logger    *zap.Logger
	observer  CallObserver
	upgrader  websocket.Upgrader
	router    chi.Router
	server    *http.Server
	stopHub   context.CancelFunc
}

// NewServer creates a new API server. store, poker and publisher may be nil;
// ingest routes answer 503 without a store.
func NewServer(sched *scheduler.Scheduler, store Ingestor, poker Poker, publisher Publisher, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.IngestRate <= 0 {
		opts.IngestRate = 50
	}
	if opts.IngestBurst <= 0 {
		opts.IngestBurst = 100
	}

	logger := opts.Logger.Named("api")
	s := &Server{
		scheduler: sched,
		policy:    policy.NewEngine(),
		store:     store,
		poker:     poker,
		publisher: publisher,
		hub:       NewHub(logger),
		limiter:   rate.NewLimiter(rate.Limit(opts.IngestRate), opts.IngestBurst),
		validator: opts.Validator,
		gatherer:  opts.Gatherer,
		metrics:   opts.Metrics,
		logger:    logger,
		observer:  opts.Observer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	s.stopHub = cancel
	go s.hub.Run(hubCtx)
	sched.OnUpdate(s.hub.BroadcastSnapshot)

	s.routes()

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if s.validator != nil {
			r.Use(auth.NewMiddleware(s.validator, s.logger))
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeDashboard))

			r.Get("/slo", s.handleSLOList)
			r.Get("/slo/{operation}", s.handleSLOGet)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/operations/{operation}", s.handleOperation)
			r.Get("/violations", s.handleViolations)
			r.Get("/trends", s.handleTrends)
			r.Get("/slowest", s.handleSlowest)
			r.Get("/stream", s.handleStream)
			r.Post("/gate/decision", s.handleGateDecision)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(auth.ScopeIngest))
			r.Use(s.rateLimit)

			r.Post("/ingest/metrics", s.handleIngest(storage.CollectionMetrics))
			r.Post("/ingest/violations", s.handleIngest(storage.CollectionViolations))
		})
	})

	s.router = r
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	s.stopHub()
	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady handles GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	loaded := s.scheduler.Table().Len()
	active := s.scheduler.Active()

	reasons := []string{}
	if loaded == 0 {
		reasons = append(reasons, "no SLOs loaded")
	}
	if !active {
		reasons = append(reasons, "refresh loops not running")
	}
	for slot, msg := range s.scheduler.Inputs().Errors {
		reasons = append(reasons, fmt.Sprintf("%s: %s", slot, msg))
	}

	ready := loaded > 0 && active
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Ready:      ready,
		SLOsLoaded: loaded,
		Streaming:  active,
		Reasons:    reasons,
	})
}

// handleSLOList handles GET /v1/slo
func (s *Server) handleSLOList(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, SLOListResponse{SLOs: s.scheduler.Table().Definitions()})
}

// handleSLOGet handles GET /v1/slo/{operation}
func (s *Server) handleSLOGet(w http.ResponseWriter, r *http.Request) {
	op := telemetry.ResolveOperation(chi.URLParam(r, "operation"))
	def, ok := s.scheduler.Table().Get(op)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("SLO not found: %s", op))
		return
	}
	respondJSON(w, http.StatusOK, def)
}

// handleDashboard handles GET /v1/dashboard
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.scheduler.Cached())
}

// handleOperation handles GET /v1/operations/{operation}
func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	op := telemetry.ResolveOperation(chi.URLParam(r, "operation"))
	st, ok := s.scheduler.Cached().Operation(op)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("operation not found: %s", op))
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// handleViolations handles GET /v1/violations
func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	snap := s.scheduler.Cached()
	violations := snap.Violations
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit >= 0 && limit < len(violations) {
			violations = violations[:limit]
		}
	}
	respondJSON(w, http.StatusOK, ViolationsResponse{GeneratedAt: snap.GeneratedAt, Violations: violations})
}

// handleTrends handles GET /v1/trends
func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	snap := s.scheduler.Cached()
	respondJSON(w, http.StatusOK, TrendsResponse{
		GeneratedAt:  snap.GeneratedAt,
		Trends:       snap.Trends,
		Targets:      snap.Targets,
		HitRateTrend: snap.HitRateTrend,
	})
}

// handleSlowest handles GET /v1/slowest
func (s *Server) handleSlowest(w http.ResponseWriter, r *http.Request) {
	snap := s.scheduler.Cached()
	respondJSON(w, http.StatusOK, SlowestResponse{GeneratedAt: snap.GeneratedAt, Slowest: snap.Slowest})
}

// handleGateDecision handles POST /v1/gate/decision
func (s *Server) handleGateDecision(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}
	}

	snap := s.scheduler.Cached()
	resp := DecisionResponse{Timestamp: snap.GeneratedAt, Errors: snap.Errors}

	if req.Operation != "" {
		op := telemetry.ResolveOperation(req.Operation)
		st, ok := snap.Operation(op)
		if !ok {
			respondError(w, http.StatusNotFound, fmt.Sprintf("no SLO for operation: %s", op))
			return
		}
		result := s.policy.Evaluate(st)
		resp.Decision = string(result.Decision)
		resp.Operation = op
		resp.Results = []policy.GateResult{*result}
		respondJSON(w, http.StatusOK, resp)
		return
	}

	verdict := s.policy.EvaluateAll(snap, req.KeyOnly)
	resp.Decision = string(verdict.Decision)
	resp.Results = verdict.Results
	respondJSON(w, http.StatusOK, resp)
}

// handleIngest handles POST /v1/ingest/{collection}
func (s *Server) handleIngest(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil {
			respondError(w, http.StatusServiceUnavailable, "document store not configured")
			return
		}

		records, err := decodeRecords(http.MaxBytesReader(w, r.Body, maxIngestBody))
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}

		docs, err := s.store.InsertDocuments(r.Context(), collection, records)
		if err != nil {
			s.logger.Error("ingest failed", zap.String("collection", collection), zap.Error(err))
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to store documents: %v", err))
			return
		}
		s.metrics.IngestedDocuments.WithLabelValues(collection).Add(float64(len(docs)))

		if s.poker != nil {
			s.poker.Poke(collection)
		}
		if s.publisher != nil {
			if err := s.publisher.Publish(r.Context(), collection); err != nil {
				s.logger.Warn("change notification failed", zap.String("collection", collection), zap.Error(err))
			}
		}

		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		respondJSON(w, http.StatusAccepted, IngestResponse{Collection: collection, Accepted: len(docs), IDs: ids})
	}
}

// handleStream handles GET /v1/stream, pushing a snapshot after every change
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(s.hub, conn)
	if initial, err := encodeSnapshot(s.scheduler.Cached()); err == nil {
		client.Send <- initial
	}

	if !s.hub.RegisterClient(r.Context(), client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// decodeRecords accepts a single JSON object or an array of objects
func decodeRecords(body io.Reader) ([]telemetry.RawRecord, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var records []telemetry.RawRecord
	if data[0] == '[' {
		if err := dec.Decode(&records); err != nil {
			return nil, err
		}
	} else {
		var rec telemetry.RawRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, errors.New("no records")
	}
	return records, nil
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "ingest rate exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observeCall feeds one served request into the local telemetry source as
// operation "METHOD route". Server errors count as failures. Websocket
// streams are skipped since their duration is the connection lifetime.
func (s *Server) observeCall(method, route string, status int, elapsed time.Duration) {
	if s.observer == nil || strings.HasSuffix(route, "/stream") {
		return
	}
	var err error
	if status >= http.StatusInternalServerError {
		err = fmt.Errorf("status %d", status)
	}
	s.observer.Observe(method+" "+route, elapsed, err)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		elapsed := time.Since(start)
		s.metrics.RequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		s.observeCall(r.Method, route, status, elapsed)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
