// Package api serves the analysis pipeline over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Gautam2086/SignalTrace/internal/audit"
	"github.com/Gautam2086/SignalTrace/internal/health"
	"github.com/Gautam2086/SignalTrace/internal/metrics"
	"github.com/Gautam2086/SignalTrace/internal/model"
)

// DefaultMaxUploadBytes caps uploads when Options leaves it unset.
const DefaultMaxUploadBytes = 20 << 20

// Service is the pipeline surface the API exposes.
type Service interface {
	Analyze(ctx context.Context, filename string, data []byte) (*model.RunDetail, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.RunDetail, error)
	GetIncident(ctx context.Context, runID, incidentID string) (*model.Incident, error)
	DeleteRun(ctx context.Context, runID string) error
}

// Options configure the API.
type Options struct {
	CORSOrigins     []string
	MaxUploadBytes  int64
	MetricsEndpoint bool
	Health          *health.Handlers
	Audit           *audit.Logger
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
}

// Server holds the handlers and their dependencies.
type Server struct {
	svc             Service
	health          *health.Handlers
	audit           *audit.Logger
	metrics         *metrics.Metrics
	logger          *zap.Logger
	maxUpload       int64
	corsOrigins     []string
	metricsEndpoint bool
}

// New creates the API server.
func New(svc Service, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		svc:             svc,
		health:          opts.Health,
		audit:           opts.Audit,
		metrics:         opts.Metrics,
		logger:          opts.Logger.Named("api"),
		maxUpload:       opts.MaxUploadBytes,
		corsOrigins:     opts.CORSOrigins,
		metricsEndpoint: opts.MetricsEndpoint,
	}
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.observe)

	api := router.PathPrefix("/api").Subrouter()

	// Analysis
	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)

	// Runs
	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{run_id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{run_id}", s.handleDeleteRun).Methods(http.MethodDelete)
	api.HandleFunc("/runs/{run_id}/incidents/{incident_id}", s.handleGetIncident).Methods(http.MethodGet)

	// Operations
	api.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)
	if s.health != nil {
		api.HandleFunc("/health", s.health.Health).Methods(http.MethodGet)
		api.HandleFunc("/ready", s.health.Ready).Methods(http.MethodGet)
		api.HandleFunc("/live", s.health.Live).Methods(http.MethodGet)
	}
	if s.metricsEndpoint && s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	router.NotFoundHandler = s.observe(http.HandlerFunc(s.handleNotFound))
	router.MethodNotAllowedHandler = s.observe(http.HandlerFunc(s.handleMethodNotAllowed))

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID", "X-Trace-ID"},
	})
	return c.Handler(router)
}

// routeTemplate returns the matched route pattern, falling back to a
// fixed label so unmatched paths do not explode metric cardinality.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return "/api/unmatched"
	}
	return "unmatched"
}
