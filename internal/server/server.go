// Package server assembles the SignalTrace components from configuration
// and runs them behind the HTTP API or the MCP stdio transport.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Gautam2086/SignalTrace/internal/api"
	"github.com/Gautam2086/SignalTrace/internal/audit"
	"github.com/Gautam2086/SignalTrace/internal/cache"
	"github.com/Gautam2086/SignalTrace/internal/config"
	"github.com/Gautam2086/SignalTrace/internal/evidence"
	"github.com/Gautam2086/SignalTrace/internal/explain"
	"github.com/Gautam2086/SignalTrace/internal/health"
	"github.com/Gautam2086/SignalTrace/internal/llm"
	"github.com/Gautam2086/SignalTrace/internal/mcpserver"
	"github.com/Gautam2086/SignalTrace/internal/metrics"
	"github.com/Gautam2086/SignalTrace/internal/pipeline"
	"github.com/Gautam2086/SignalTrace/internal/store"
	"github.com/Gautam2086/SignalTrace/internal/tracing"
	"github.com/Gautam2086/SignalTrace/internal/triage"
)

// Server owns every long-lived component of one SignalTrace process.
type Server struct {
	config    *config.Config
	logger    *zap.Logger
	version   string
	metrics   *metrics.Metrics
	audit     *audit.Logger
	store     *store.Store
	generator llm.Generator
	pipeline  *pipeline.Orchestrator

	shutdownTracing func(context.Context) error
}

// New wires the components described by cfg. The caller must Close the
// returned server.
func New(cfg *config.Config, logger *zap.Logger, version string) (*Server, error) {
	shutdownTracing, err := tracing.InitOTel(tracing.OTelConfig{
		ServiceName:    "signaltrace",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Enabled:        cfg.EnableTracing,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	m := metrics.New(logger)

	gen, err := llm.New(cfg, logger, m, version)
	if err != nil {
		_ = st.Close()
		_ = shutdownTracing(context.Background())
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	var limiter explain.Limiter
	if cfg.EnableRateLimit {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)
	}
	explainer := explain.New(gen, explain.Options{
		Timeout:    cfg.LLMTimeout,
		MaxRetries: cfg.LLMMaxRetries,
		Limiter:    limiter,
		Logger:     logger,
		Metrics:    m,
	})

	aggregator := triage.NewAggregator()
	if cfg.TitleMaxLen > 0 {
		aggregator.TitleMaxLen = cfg.TitleMaxLen
	}

	var detailCache *cache.DetailCache
	if cfg.DetailCacheSize > 0 {
		detailCache = cache.New(cfg.DetailCacheSize, cache.DefaultTTL)
	}

	orch := pipeline.New(st, pipeline.Options{
		Explainer:  explainer,
		Aggregator: aggregator,
		Sampler:    evidence.NewSampler(cfg.EvidenceMaxSamples),
		Cache:      detailCache,
		Workers:    cfg.Workers,
		ListLimit:  cfg.RunListLimit,
		Logger:     logger,
		Metrics:    m,
	})

	logger.Info("SignalTrace initialized",
		zap.String("db_path", cfg.DBPath),
		zap.String("explainer", explainer.Mode()),
		zap.Int("workers", cfg.Workers),
		zap.Bool("tracing", cfg.EnableTracing),
		zap.Bool("rate_limit", cfg.EnableRateLimit),
	)
	logger.Debug("Effective configuration", zap.Any("config", cfg.Redact()))

	return &Server{
		config:          cfg,
		logger:          logger,
		version:         version,
		metrics:         m,
		audit:           audit.NewLogger(logger, cfg.EnableAuditLog),
		store:           st,
		generator:       gen,
		pipeline:        orch,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Pipeline returns the orchestrator, for the CLI's one-shot analysis.
func (s *Server) Pipeline() *pipeline.Orchestrator {
	return s.pipeline
}

// Audit returns the audit logger.
func (s *Server) Audit() *audit.Logger {
	return s.audit
}

// Metrics returns the metrics tracker.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Handler builds the HTTP API handler together with its health handlers.
func (s *Server) Handler() (http.Handler, *health.Handlers) {
	checker := health.New(s.pipeline, s.pipeline.ExplainerMode, s.logger).
		WithCacheStats(s.pipeline.CacheStats)
	hh := health.NewHandlers(checker, s.logger)

	apiServer := api.New(s.pipeline, api.Options{
		CORSOrigins:     s.config.CORSOrigins,
		MaxUploadBytes:  s.config.MaxUploadBytes,
		MetricsEndpoint: s.config.MetricsEndpoint,
		Health:          hh,
		Audit:           s.audit,
		Metrics:         s.metrics,
		Logger:          s.logger,
	})
	return apiServer.Handler(), hh
}

// RunHTTP serves the API on the configured address until ctx is
// cancelled, then drains in-flight requests within ShutdownTimeout.
func (s *Server) RunHTTP(ctx context.Context) error {
	handler, hh := s.Handler()

	httpServer := &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           handler,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP API",
			zap.String("addr", s.config.ListenAddr),
			zap.Bool("metrics_endpoint", s.config.MetricsEndpoint),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server error: %w", err)
			return
		}
		serveErr <- nil
	}()
	hh.SetReady(true)

	select {
	case err := <-serveErr:
		hh.SetReady(false)
		return err
	case <-ctx.Done():
	}

	hh.SetReady(false)
	s.logger.Info("Shutting down HTTP API", zap.Duration("timeout", s.config.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-serveErr
}

// RunMCP serves the MCP tools over stdio until ctx is cancelled or the
// client disconnects.
func (s *Server) RunMCP(ctx context.Context) error {
	srv := mcpserver.New(s.pipeline, mcpserver.Options{
		Version:       s.version,
		MaxInputBytes: s.config.MaxUploadBytes,
		Audit:         s.audit,
		Metrics:       s.metrics,
		Logger:        s.logger,
	})
	names := make([]string, 0, len(srv.Tools()))
	for _, t := range srv.Tools() {
		names = append(names, t.Name())
	}
	s.logger.Info("Serving MCP over stdio", zap.Strings("tools", names))
	return srv.Run(ctx)
}

// Close releases the store, the generator and the tracer provider, and
// logs final metrics.
func (s *Server) Close() error {
	s.metrics.LogStats()

	var errs []error
	if c, ok := s.generator.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close generator: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := s.shutdownTracing(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}
	return errors.Join(errs...)
}
