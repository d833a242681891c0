// Package pipeline runs one analysis end to end (decode, parse, aggregate,
// rank, sample evidence, explain, persist) and serves the read side of
// persisted runs.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Gautam2086/SignalTrace/internal/cache"
	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/evidence"
	"github.com/Gautam2086/SignalTrace/internal/explain"
	"github.com/Gautam2086/SignalTrace/internal/logparse"
	"github.com/Gautam2086/SignalTrace/internal/metrics"
	"github.com/Gautam2086/SignalTrace/internal/model"
	"github.com/Gautam2086/SignalTrace/internal/store"
	"github.com/Gautam2086/SignalTrace/internal/tracing"
	"github.com/Gautam2086/SignalTrace/internal/triage"
)

// Defaults for Options.
const (
	DefaultWorkers   = 4
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Store is the persistence the orchestrator needs.
type Store interface {
	SaveRun(ctx context.Context, run model.Run, incidents []model.Incident) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.RunDetail, error)
	GetIncident(ctx context.Context, runID, incidentID string) (*model.Incident, error)
	DeleteRun(ctx context.Context, runID string) error
	Ping(ctx context.Context) error
}

// Options configure an Orchestrator. Zero values select defaults.
type Options struct {
	Explainer  explain.Explainer
	Aggregator *triage.Aggregator
	Sampler    *evidence.Sampler
	Cache      *cache.DetailCache
	Workers    int
	ListLimit  int
	Logger     *zap.Logger
	Metrics    *metrics.Metrics

	// Now and NewID are injectable for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

// Orchestrator coordinates analyses and run lookups.
type Orchestrator struct {
	store      Store
	explainer  explain.Explainer
	aggregator *triage.Aggregator
	sampler    *evidence.Sampler
	cache      *cache.DetailCache
	workers    int
	listLimit  int
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string
}

// New creates an orchestrator over st.
func New(st Store, opts Options) *Orchestrator {
	if opts.Explainer == nil {
		opts.Explainer = explain.NewFallback()
	}
	if opts.Aggregator == nil {
		opts.Aggregator = triage.NewAggregator()
	}
	if opts.Sampler == nil {
		opts.Sampler = evidence.NewSampler(evidence.DefaultMaxSamples)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = DefaultListLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	return &Orchestrator{
		store:      st,
		explainer:  opts.Explainer,
		aggregator: opts.Aggregator,
		sampler:    opts.Sampler,
		cache:      opts.Cache,
		workers:    opts.Workers,
		listLimit:  opts.ListLimit,
		logger:     opts.Logger.Named("pipeline"),
		metrics:    opts.Metrics,
		now:        opts.Now,
		newID:      opts.NewID,
	}
}

// ExplainerMode names the active explanation variant.
func (o *Orchestrator) ExplainerMode() string {
	return o.explainer.Mode()
}

// CacheStats reports detail cache counters.
func (o *Orchestrator) CacheStats() map[string]interface{} {
	return o.cache.Stats()
}

// Ping checks the backing store.
func (o *Orchestrator) Ping(ctx context.Context) error {
	return o.store.Ping(ctx)
}

// stageTimer accumulates per-stage durations for one run.
type stageTimer struct {
	metrics *metrics.Metrics
	fields  []zap.Field
	last    time.Time
}

func (t *stageTimer) done(stage string) {
	now := time.Now()
	d := now.Sub(t.last)
	t.last = now
	t.metrics.RecordStage(stage, d)
	t.fields = append(t.fields, zap.Duration(stage, d))
}

// Analyze runs the full pipeline over one uploaded file. The result lists
// the run and its incident summaries; evidence and explanations are
// persisted and available through GetIncident. Nothing is persisted when
// decoding fails or ctx ends before the explain stage completes.
func (o *Orchestrator) Analyze(ctx context.Context, filename string, data []byte) (*model.RunDetail, error) {
	started := time.Now()
	createdAt := o.now()
	runID := o.newID()

	ctx, span := tracing.RunSpan(ctx, runID, filename)
	defer span.End()

	logger := o.logger.With(zap.String("run_id", runID), zap.String("filename", filename))
	timer := &stageTimer{metrics: o.metrics, last: started}

	// parse
	text, err := logparse.Decode(data)
	if err != nil {
		tracing.RecordError(span, err)
		o.metrics.RecordRun(false, 0, 0)
		logger.Warn("Upload rejected", zap.Error(err))
		return nil, err
	}
	numLines := logparse.CountLines(text)
	records := logparse.New().Parse(text)
	timer.done("parse")

	// triage
	incidents := o.aggregator.Aggregate(records)
	prefix := shortID(runID)
	for i := range incidents {
		inc := &incidents[i]
		inc.RunID = runID
		inc.ID = IncidentID(prefix, inc.Signature, inc.Rank)
	}
	timer.done("triage")

	// evidence
	for i := range incidents {
		ev := o.sampler.Sample(incidents[i].Members)
		incidents[i].Evidence = &ev
	}
	timer.done("evidence")

	// explain
	if err := o.explainAll(ctx, incidents); err != nil {
		tracing.RecordError(span, err)
		o.metrics.RecordRun(false, 0, 0)
		logger.Warn("Analysis aborted before persisting", zap.Error(err))
		return nil, fmt.Errorf("analysis aborted: %w", err)
	}
	timer.done("explain")

	// persist
	run := model.Run{
		ID:           runID,
		CreatedAt:    createdAt,
		Filename:     filename,
		NumLines:     numLines,
		NumIncidents: len(incidents),
	}
	if err := o.store.SaveRun(ctx, run, incidents); err != nil {
		tracing.RecordError(span, err)
		o.metrics.RecordRun(false, 0, 0)
		logger.Error("Failed to persist run", zap.Error(err))
		return nil, apperrors.NewPersistenceError("save run", err)
	}
	timer.done("persist")

	usedLLM := 0
	detail := &model.RunDetail{Run: run, Incidents: make([]model.IncidentSummary, len(incidents))}
	for i := range incidents {
		incidents[i].Members = nil
		detail.Incidents[i] = incidents[i].Summary()
		if incidents[i].UsedLLM {
			usedLLM++
		}
	}
	o.cache.PutRun(detail)

	o.metrics.RecordRun(true, numLines, len(incidents))
	tracing.SetCount(span, "lines", numLines)
	tracing.SetCount(span, "incidents", len(incidents))
	tracing.SetSuccess(span)

	fields := append([]zap.Field{
		zap.Int("num_lines", numLines),
		zap.Int("num_records", len(records)),
		zap.Int("num_incidents", len(incidents)),
		zap.Int("used_llm", usedLLM),
		zap.String("explainer", o.explainer.Mode()),
		zap.Duration("total", time.Since(started)),
	}, timer.fields...)
	logger.Info("Analysis complete", fields...)

	return detail, nil
}

// explainAll explains incidents on a bounded worker pool. Explainers never
// fail, so the only error is ctx ending.
func (o *Orchestrator) explainAll(ctx context.Context, incidents []model.Incident) error {
	ctx, span := tracing.StageSpan(ctx, "explain")
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i := range incidents {
		inc := &incidents[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := o.explainer.Explain(gctx, inc)
			inc.Explanation = res.Explanation
			inc.UsedLLM = res.UsedLLM
			inc.ValidationErrors = res.ValidationErrors
			if inc.ValidationErrors == nil {
				inc.ValidationErrors = []string{}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ListRuns returns recent runs, newest first. A non-positive limit selects
// the configured default.
func (o *Orchestrator) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = o.listLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	runs, err := o.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list runs", err)
	}
	return runs, nil
}

// GetRun returns a run with its incident summaries.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*model.RunDetail, error) {
	if detail, ok := o.cache.GetRun(runID); ok {
		return detail, nil
	}
	detail, err := o.store.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewResourceNotFound("Run", runID)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("get run", err)
	}
	o.cache.PutRun(detail)
	return detail, nil
}

// GetIncident returns one incident with its evidence and explanation.
func (o *Orchestrator) GetIncident(ctx context.Context, runID, incidentID string) (*model.Incident, error) {
	if inc, ok := o.cache.GetIncident(runID, incidentID); ok {
		return inc, nil
	}
	inc, err := o.store.GetIncident(ctx, runID, incidentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewResourceNotFound("Incident", incidentID)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("get incident", err)
	}
	o.cache.PutIncident(inc)
	return inc, nil
}

// DeleteRun removes a run and its incidents.
func (o *Orchestrator) DeleteRun(ctx context.Context, runID string) error {
	err := o.store.DeleteRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.NewResourceNotFound("Run", runID)
	}
	if err != nil {
		return apperrors.NewPersistenceError("delete run", err)
	}
	removed := o.cache.InvalidateRun(runID)
	o.logger.Info("Run deleted", zap.String("run_id", runID), zap.Int("cache_entries_dropped", removed))
	return nil
}

// IncidentID derives a stable incident id from the run prefix, the
// signature and the rank.
func IncidentID(runPrefix, signature string, rank int) string {
	sum := sha256.Sum256([]byte(signature))
	return fmt.Sprintf("%s-%s-%d", runPrefix, hex.EncodeToString(sum[:])[:12], rank)
}

func shortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}
