// Package metrics provides metrics collection and reporting for the triage
// pipeline, the generator client and the HTTP surface.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "signaltrace"

// Prometheus metric labels
const (
	labelProvider = "provider"
	labelStatus   = "status"
	labelStage    = "stage"
	labelOutcome  = "outcome"
	labelTool     = "tool"
	labelRoute    = "route"
	labelMethod   = "method"
)

// Metrics tracks operational metrics with both internal counters and Prometheus metrics
type Metrics struct {
	// Generator request metrics (internal atomic counters for fast access)
	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
	failedRequests     atomic.Uint64
	retriedRequests    atomic.Uint64

	// Latency tracking
	totalLatency atomic.Int64 // microseconds
	latencyCount atomic.Uint64
	maxLatency   atomic.Int64
	minLatency   atomic.Int64

	// Rate limiting metrics
	rateLimitHits atomic.Uint64

	// Pipeline metrics
	runsCompleted     atomic.Uint64
	runsFailed        atomic.Uint64
	linesParsed       atomic.Uint64
	incidentsProduced atomic.Uint64

	// Error tracking by status code
	errorsMu       sync.RWMutex
	errorsByStatus map[int]uint64

	// Explanation outcomes (validated / fallback)
	outcomesMu         sync.RWMutex
	explanationOutcome map[string]uint64

	// Tool usage tracking
	toolsMu    sync.RWMutex
	toolUsage  map[string]uint64
	toolErrors map[string]uint64

	logger   *zap.Logger
	registry *prometheus.Registry

	// Prometheus metrics
	promGeneratorRequests *prometheus.CounterVec
	promGeneratorLatency  *prometheus.HistogramVec
	promRequestsRetried   prometheus.Counter
	promRateLimitHits     prometheus.Counter
	promRateLimitWait     prometheus.Histogram
	promErrorsByStatus    *prometheus.CounterVec
	promExplanations      *prometheus.CounterVec
	promAttempts          prometheus.Histogram
	promStageLatency      *prometheus.HistogramVec
	promRuns              *prometheus.CounterVec
	promLinesParsed       prometheus.Counter
	promIncidents         prometheus.Counter
	promToolCalls         *prometheus.CounterVec
	promToolErrors        *prometheus.CounterVec
	promToolLatency       *prometheus.HistogramVec
	promHTTPRequests      *prometheus.CounterVec
	promHTTPLatency       *prometheus.HistogramVec
}

// New creates a metrics tracker backed by its own Prometheus registry, so
// several instances can coexist (one per test, for example).
func New(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	latencyBuckets := prometheus.ExponentialBuckets(0.001, 2, 15) // 1ms to ~16s

	m := &Metrics{
		errorsByStatus:     make(map[int]uint64),
		explanationOutcome: make(map[string]uint64),
		toolUsage:          make(map[string]uint64),
		toolErrors:         make(map[string]uint64),
		logger:             logger,
		registry:           reg,

		promGeneratorRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_requests_total",
			Help:      "Generator calls, labeled by provider and status (ok, error, timeout)",
		}, []string{labelProvider, labelStatus}),
		promGeneratorLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generator_latency_seconds",
			Help:      "Generator call latency in seconds",
			Buckets:   latencyBuckets,
		}, []string{labelProvider}),
		promRequestsRetried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_retries_total",
			Help:      "Transport-level retries of generator HTTP requests",
		}),
		promRateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Generator calls abandoned because the rate limiter could not grant a token in time",
		}),
		promRateLimitWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting on the generator rate limiter",
			Buckets:   latencyBuckets,
		}),
		promErrorsByStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_errors_by_status_total",
			Help:      "Generator errors by HTTP status code",
		}, []string{labelStatus}),
		promExplanations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "explanations_total",
			Help:      "Incident explanations by terminal outcome (validated, fallback)",
		}, []string{labelOutcome}),
		promAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "explanation_attempts",
			Help:      "Generator attempts used per explained incident",
			Buckets:   []float64{0, 1, 2, 3},
		}),
		promStageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Pipeline stage latency in seconds, labeled by stage (parse, aggregate, rank, evidence, explain, persist)",
			Buckets:   latencyBuckets,
		}, []string{labelStage}),
		promRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Analysis runs by status (ok, error)",
		}, []string{labelStatus}),
		promLinesParsed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_parsed_total",
			Help:      "Non-blank log lines parsed",
		}),
		promIncidents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_total",
			Help:      "Incidents produced by completed runs",
		}),
		promToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of MCP tool calls, labeled by tool name (e.g., analyze_log, get_incident)",
		}, []string{labelTool}),
		promToolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_errors_total",
			Help:      "Total number of MCP tool errors, labeled by tool name",
		}, []string{labelTool}),
		promToolLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_latency_seconds",
			Help:      "MCP tool execution latency in seconds, labeled by tool name",
			Buckets:   latencyBuckets,
		}, []string{labelTool}),
		promHTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route template, method and status code",
		}, []string{labelRoute, labelMethod, labelStatus}),
		promHTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_latency_seconds",
			Help:      "HTTP API latency in seconds by route template",
			Buckets:   latencyBuckets,
		}, []string{labelRoute}),
	}

	// Initialize min latency to max value
	m.minLatency.Store(int64(time.Hour))

	return m
}

// Handler serves the Prometheus exposition for this tracker's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordGeneratorRequest records one generator call. status is "ok",
// "error" or "timeout".
func (m *Metrics) RecordGeneratorRequest(provider, status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.totalRequests.Add(1)
	if status == "ok" {
		m.successfulRequests.Add(1)
	} else {
		m.failedRequests.Add(1)
	}
	m.recordLatency(latency)

	m.promGeneratorRequests.WithLabelValues(provider, status).Inc()
	m.promGeneratorLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordGeneratorStatus records a non-2xx HTTP status from the generator.
func (m *Metrics) RecordGeneratorStatus(statusCode int) {
	if m == nil || statusCode == 0 {
		return
	}

	m.errorsMu.Lock()
	m.errorsByStatus[statusCode]++
	m.errorsMu.Unlock()

	m.promErrorsByStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRetry records a retry attempt
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retriedRequests.Add(1)
	m.promRequestsRetried.Inc()
}

// RecordRateLimitHit records a rate limit hit
func (m *Metrics) RecordRateLimitHit() {
	if m == nil {
		return
	}
	m.rateLimitHits.Add(1)
	m.promRateLimitHits.Inc()
}

// RecordRateLimitWait records time spent waiting for a limiter token.
func (m *Metrics) RecordRateLimitWait(wait time.Duration) {
	if m == nil {
		return
	}
	m.promRateLimitWait.Observe(wait.Seconds())
}

// RecordExplanation records the terminal outcome of one incident's
// explanation and the number of generator attempts it used.
func (m *Metrics) RecordExplanation(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.outcomesMu.Lock()
	m.explanationOutcome[outcome]++
	m.outcomesMu.Unlock()

	m.promExplanations.WithLabelValues(outcome).Inc()
	m.promAttempts.Observe(float64(attempts))
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(stage string, latency time.Duration) {
	if m == nil {
		return
	}
	m.promStageLatency.WithLabelValues(stage).Observe(latency.Seconds())
}

// RecordRun records a finished analysis run.
func (m *Metrics) RecordRun(success bool, lines, incidents int) {
	if m == nil {
		return
	}
	if !success {
		m.runsFailed.Add(1)
		m.promRuns.WithLabelValues("error").Inc()
		return
	}
	m.runsCompleted.Add(1)
	m.linesParsed.Add(uint64(lines))
	m.incidentsProduced.Add(uint64(incidents))

	m.promRuns.WithLabelValues("ok").Inc()
	m.promLinesParsed.Add(float64(lines))
	m.promIncidents.Add(float64(incidents))
}

// RecordToolExecution records MCP tool usage (both internal counters and Prometheus)
func (m *Metrics) RecordToolExecution(toolName string, success bool, latency time.Duration) {
	if m == nil {
		return
	}
	m.toolsMu.Lock()
	m.toolUsage[toolName]++
	if !success {
		m.toolErrors[toolName]++
	}
	m.toolsMu.Unlock()

	m.promToolCalls.WithLabelValues(toolName).Inc()
	m.promToolLatency.WithLabelValues(toolName).Observe(latency.Seconds())
	if !success {
		m.promToolErrors.WithLabelValues(toolName).Inc()
	}
}

// RecordHTTPRequest records one HTTP API request. route is the mux route
// template, not the raw path, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(route, method string, statusCode int, latency time.Duration) {
	if m == nil {
		return
	}
	m.promHTTPRequests.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	m.promHTTPLatency.WithLabelValues(route).Observe(latency.Seconds())
}

func (m *Metrics) recordLatency(latency time.Duration) {
	latencyUs := latency.Microseconds()

	m.totalLatency.Add(latencyUs)
	m.latencyCount.Add(1)

	// Update max latency
	for {
		currentMax := m.maxLatency.Load()
		if latencyUs <= currentMax {
			break
		}
		if m.maxLatency.CompareAndSwap(currentMax, latencyUs) {
			break
		}
	}

	// Update min latency
	for {
		currentMin := m.minLatency.Load()
		if latencyUs >= currentMin {
			break
		}
		if m.minLatency.CompareAndSwap(currentMin, latencyUs) {
			break
		}
	}
}

// GetStats returns current statistics
func (m *Metrics) GetStats() Stats {
	if m == nil {
		return Stats{}
	}

	m.errorsMu.RLock()
	errorsByStatus := make(map[int]uint64, len(m.errorsByStatus))
	for k, v := range m.errorsByStatus {
		errorsByStatus[k] = v
	}
	m.errorsMu.RUnlock()

	m.outcomesMu.RLock()
	outcomes := make(map[string]uint64, len(m.explanationOutcome))
	for k, v := range m.explanationOutcome {
		outcomes[k] = v
	}
	m.outcomesMu.RUnlock()

	m.toolsMu.RLock()
	toolUsage := make(map[string]uint64, len(m.toolUsage))
	toolErrors := make(map[string]uint64, len(m.toolErrors))
	for k, v := range m.toolUsage {
		toolUsage[k] = v
	}
	for k, v := range m.toolErrors {
		toolErrors[k] = v
	}
	m.toolsMu.RUnlock()

	latencyCount := m.latencyCount.Load()

	var avgLatency, minLatency time.Duration
	if latencyCount > 0 {
		// Use float64 division to avoid integer overflow issues
		avgLatencyMicros := float64(m.totalLatency.Load()) / float64(latencyCount)
		avgLatency = time.Duration(avgLatencyMicros) * time.Microsecond
		minLatency = time.Duration(m.minLatency.Load()) * time.Microsecond
	}

	return Stats{
		TotalRequests:       m.totalRequests.Load(),
		SuccessfulRequests:  m.successfulRequests.Load(),
		FailedRequests:      m.failedRequests.Load(),
		RetriedRequests:     m.retriedRequests.Load(),
		RateLimitHits:       m.rateLimitHits.Load(),
		AverageLatency:      avgLatency,
		MaxLatency:          time.Duration(m.maxLatency.Load()) * time.Microsecond,
		MinLatency:          minLatency,
		ErrorsByStatus:      errorsByStatus,
		ExplanationOutcomes: outcomes,
		RunsCompleted:       m.runsCompleted.Load(),
		RunsFailed:          m.runsFailed.Load(),
		LinesParsed:         m.linesParsed.Load(),
		IncidentsProduced:   m.incidentsProduced.Load(),
		ToolUsage:           toolUsage,
		ToolErrors:          toolErrors,
	}
}

// LogStats logs current statistics
func (m *Metrics) LogStats() {
	if m == nil {
		return
	}
	stats := m.GetStats()

	var errorRate float64
	if stats.TotalRequests > 0 {
		errorRate = float64(stats.FailedRequests) / float64(stats.TotalRequests) * 100
	}

	m.logger.Info("Operational metrics",
		zap.Uint64("runs_completed", stats.RunsCompleted),
		zap.Uint64("runs_failed", stats.RunsFailed),
		zap.Uint64("lines_parsed", stats.LinesParsed),
		zap.Uint64("incidents_produced", stats.IncidentsProduced),
		zap.Uint64("generator_requests", stats.TotalRequests),
		zap.Float64("generator_error_rate_pct", errorRate),
		zap.Uint64("retried_requests", stats.RetriedRequests),
		zap.Uint64("rate_limit_hits", stats.RateLimitHits),
		zap.Duration("avg_latency", stats.AverageLatency),
		zap.Duration("max_latency", stats.MaxLatency),
		zap.Any("errors_by_status", stats.ErrorsByStatus),
		zap.Any("explanation_outcomes", stats.ExplanationOutcomes),
		zap.Any("tool_usage", stats.ToolUsage),
	)
}

// Stats represents current metrics
type Stats struct {
	TotalRequests       uint64
	SuccessfulRequests  uint64
	FailedRequests      uint64
	RetriedRequests     uint64
	RateLimitHits       uint64
	AverageLatency      time.Duration
	MaxLatency          time.Duration
	MinLatency          time.Duration
	ErrorsByStatus      map[int]uint64
	ExplanationOutcomes map[string]uint64
	RunsCompleted       uint64
	RunsFailed          uint64
	LinesParsed         uint64
	IncidentsProduced   uint64
	ToolUsage           map[string]uint64
	ToolErrors          map[string]uint64
}
