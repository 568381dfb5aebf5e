package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/pipewatch/pkg/events"
	"github.com/cuemby/pipewatch/pkg/insights"
	"github.com/cuemby/pipewatch/pkg/jenkins"
	"github.com/cuemby/pipewatch/pkg/log"
	"github.com/cuemby/pipewatch/pkg/metrics"
	"github.com/cuemby/pipewatch/pkg/notify"
	"github.com/cuemby/pipewatch/pkg/reconciler"
	"github.com/cuemby/pipewatch/pkg/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	defaultBuildLimit   = 50
	defaultFailureLimit = 10
)

// Upstream is the CI server as seen by the API
type Upstream interface {
	BaseURL() string
	ListPipelines(ctx context.Context) ([]jenkins.Job, error)
	Ping(ctx context.Context) error
}

// Trigger runs a reconciliation cycle on demand
type Trigger interface {
	TriggerNow(ctx context.Context) (*reconciler.CycleReport, error)
}

// Mailer sends on-demand messages such as the advice digest
type Mailer interface {
	Send(ctx context.Context, msg *notify.Message) error
}

// Options wires the server's collaborators. Upstream, Trigger, Mailer and
// Broker are optional; the routes that need them answer 503 or 400 without them.
type Options struct {
	Store      storage.Store
	Aggregator *insights.Aggregator
	Upstream   Upstream
	Trigger    Trigger
	Mailer     Mailer
	Broker     *events.Broker
	Version    string
}

// Server serves the read API, health endpoints, metrics and the event stream
type Server struct {
	store      storage.Store
	aggregator *insights.Aggregator
	upstream   Upstream
	trigger    Trigger
	mailer     Mailer
	broker     *events.Broker
	version    string

	router     *mux.Router
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates the API server
func NewServer(opts Options) *Server {
	aggregator := opts.Aggregator
	if aggregator == nil {
		aggregator = insights.NewAggregator(opts.Store, insights.Options{})
	}

	s := &Server{
		store:      opts.Store,
		aggregator: aggregator,
		upstream:   opts.Upstream,
		trigger:    opts.Trigger,
		mailer:     opts.Mailer,
		broker:     opts.Broker,
		version:    opts.Version,
		router:     mux.NewRouter(),
		logger:     log.WithComponent("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.recoverMiddleware, s.instrumentMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	r.Handle("/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pipelines", s.handleListPipelines).Methods(http.MethodGet)
	api.HandleFunc("/pipelines/{name}", s.handleGetPipeline).Methods(http.MethodGet)
	api.HandleFunc("/pipelines/{name}/builds", s.handleListBuilds).Methods(http.MethodGet)
	api.HandleFunc("/pipelines/{name}/metrics", s.handlePipelineMetrics).Methods(http.MethodGet)
	api.HandleFunc("/metrics/overall", s.handleOverallMetrics).Methods(http.MethodGet)
	api.HandleFunc("/advice", s.handleAdvice).Methods(http.MethodGet)
	api.HandleFunc("/failed-builds", s.handleFailedBuilds).Methods(http.MethodGet)
	api.HandleFunc("/jenkins-node-health", s.handleNodeHealth).Methods(http.MethodGet)
	api.HandleFunc("/trigger-collection", s.handleTriggerCollection).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/email/advice", s.handleEmailAdvice).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Resource not found")
	})
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// intQuery parses a positive integer query parameter, falling back to def
func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return v, nil
}
