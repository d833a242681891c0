package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gautam2086/SignalTrace/internal/cache"
	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/explain"
	"github.com/Gautam2086/SignalTrace/internal/metrics"
	"github.com/Gautam2086/SignalTrace/internal/model"
	"github.com/Gautam2086/SignalTrace/internal/store"
)

const sampleLog = `2024-01-15T10:00:00Z ERROR [api] Database connection timeout after 30s
2024-01-15T10:00:05Z INFO [api] Request completed in 120ms

2024-01-15T10:00:10Z ERROR [api] Database connection timeout after 31s
2024-01-15T10:00:12Z WARN [worker] Queue depth 500 exceeds threshold
2024-01-15T10:00:15Z ERROR [api] Database connection timeout after 29s
2024-01-15T10:00:20Z INFO [api] Request completed in 98ms
`

var fixedNow = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestOrchestrator(t *testing.T, st Store, opts Options) *Orchestrator {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "0123abcd-0000-4000-8000-000000000001" }
	}
	opts.Logger = zap.NewNop()
	return New(st, opts)
}

// failingGenerator always errors, forcing the fallback path.
type failingGenerator struct{}

func (g *failingGenerator) Name() string { return "failing" }

func (g *failingGenerator) Generate(ctx context.Context, _, _ string) (string, error) {
	return "", errors.New("service unavailable")
}

// blockingGenerator waits until its context ends.
type blockingGenerator struct{ started chan struct{} }

func (g *blockingGenerator) Name() string { return "blocking" }

func (g *blockingGenerator) Generate(ctx context.Context, _, _ string) (string, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return "", ctx.Err()
}

// brokenStore fails every write.
type brokenStore struct{ Store }

func (brokenStore) SaveRun(context.Context, model.Run, []model.Incident) error {
	return errors.New("disk I/O error")
}

func TestAnalyze_RanksAndPersists(t *testing.T) {
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, Options{})

	detail, err := o.Analyze(context.Background(), "app.log", []byte(sampleLog))
	require.NoError(t, err)

	assert.Equal(t, "0123abcd-0000-4000-8000-000000000001", detail.ID)
	assert.Equal(t, "app.log", detail.Filename)
	assert.Equal(t, 7, detail.NumLines, "blank lines count as physical lines")
	assert.Equal(t, fixedNow, detail.CreatedAt)
	require.Len(t, detail.Incidents, 3)
	assert.Equal(t, 3, detail.NumIncidents)

	top := detail.Incidents[0]
	assert.Equal(t, 1, top.Rank)
	assert.Equal(t, model.LevelError, top.Severity)
	assert.Equal(t, 3, top.Count)
	assert.Equal(t, []string{"api"}, top.Services)
	assert.Regexp(t, regexp.MustCompile(`^0123abcd-[0-9a-f]{12}-1$`), top.ID)
	for i, sum := range detail.Incidents {
		assert.Equal(t, i+1, sum.Rank)
		assert.False(t, sum.UsedLLM)
	}

	stored, err := st.GetRun(context.Background(), detail.ID)
	require.NoError(t, err)
	require.Len(t, stored.Incidents, 3)
	for i := range detail.Incidents {
		assert.Equal(t, detail.Incidents[i].ID, stored.Incidents[i].ID)
		assert.Equal(t, detail.Incidents[i].Rank, stored.Incidents[i].Rank)
		assert.Equal(t, detail.Incidents[i].Count, stored.Incidents[i].Count)
	}
}

func TestAnalyze_IncidentDetailsArePersisted(t *testing.T) {
	o := newTestOrchestrator(t, newTestStore(t), Options{})
	detail, err := o.Analyze(context.Background(), "app.log", []byte(sampleLog))
	require.NoError(t, err)

	inc, err := o.GetIncident(context.Background(), detail.ID, detail.Incidents[0].ID)
	require.NoError(t, err)

	require.NotNil(t, inc.Evidence)
	assert.Equal(t, []int{1, 4, 6}, inc.Evidence.LineNumbers())
	require.NotNil(t, inc.Explanation)
	assert.NotEmpty(t, inc.Explanation.WhatHappened)
	assert.Equal(t, []string{}, inc.ValidationErrors)
	assert.Equal(t, detail.ID, inc.RunID)

	again, err := o.GetIncident(context.Background(), detail.ID, detail.Incidents[0].ID)
	require.NoError(t, err)
	assert.Equal(t, inc, again, "retrieval is idempotent")
}

func TestAnalyze_EmptyFile(t *testing.T) {
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, Options{})

	detail, err := o.Analyze(context.Background(), "empty.log", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, detail.NumIncidents)
	assert.Equal(t, 0, detail.NumLines)
	assert.Empty(t, detail.Incidents)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestAnalyze_BinaryUploadCreatesNoRun(t *testing.T) {
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, Options{})

	_, err := o.Analyze(context.Background(), "image.png", []byte{0x89, 'P', 'N', 'G', 0x00, 0x01, 0x02})

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUploadInvalid))
	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestAnalyze_FallbackGuarantee(t *testing.T) {
	st := newTestStore(t)
	m := metrics.New(zap.NewNop())
	gen := &failingGenerator{}
	o := newTestOrchestrator(t, st, Options{
		Explainer: explain.New(gen, explain.Options{Timeout: time.Second, MaxRetries: 2, Metrics: m}),
		Metrics:   m,
		Workers:   2,
	})

	detail, err := o.Analyze(context.Background(), "app.log", []byte(sampleLog))
	require.NoError(t, err)

	for _, sum := range detail.Incidents {
		inc, err := o.GetIncident(context.Background(), detail.ID, sum.ID)
		require.NoError(t, err)
		assert.False(t, inc.UsedLLM)
		require.NotNil(t, inc.Explanation)
		assert.NotEmpty(t, inc.Explanation.WhatHappened)
		assert.NotEmpty(t, inc.ValidationErrors, "the generator failure is recorded")
	}

	stats := m.GetStats()
	assert.Equal(t, uint64(3), stats.ExplanationOutcomes[string(explain.StateFallback)])
	assert.Equal(t, uint64(1), stats.RunsCompleted)
	assert.Equal(t, uint64(3), stats.IncidentsProduced)
}

func TestAnalyze_PersistenceFailure(t *testing.T) {
	st := newTestStore(t)
	o := newTestOrchestrator(t, brokenStore{Store: st}, Options{})

	_, err := o.Analyze(context.Background(), "app.log", []byte(sampleLog))

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePersistenceFailed))
	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestAnalyze_CancelledBeforePersist(t *testing.T) {
	st := newTestStore(t)
	gen := &blockingGenerator{started: make(chan struct{}, 1)}
	o := newTestOrchestrator(t, st, Options{
		Explainer: explain.New(gen, explain.Options{Timeout: time.Minute}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-gen.started
		cancel()
	}()

	_, err := o.Analyze(ctx, "app.log", []byte(sampleLog))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "a cancelled analysis persists nothing")
}

func TestReads_NotFound(t *testing.T) {
	o := newTestOrchestrator(t, newTestStore(t), Options{})
	detail, err := o.Analyze(context.Background(), "app.log", []byte(sampleLog))
	require.NoError(t, err)

	_, err = o.GetRun(context.Background(), "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeResourceNotFound))

	_, err = o.GetIncident(context.Background(), detail.ID, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeResourceNotFound))

	err = o.DeleteRun(context.Background(), "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeResourceNotFound))
}

func TestListRunsNewestFirst(t *testing.T) {
	st := newTestStore(t)
	clock := fixedNow
	ids := []string{"aaaaaaaa-run-1", "bbbbbbbb-run-2", "cccccccc-run-3"}
	n := 0
	o := newTestOrchestrator(t, st, Options{
		Now:   func() time.Time { clock = clock.Add(time.Second); return clock },
		NewID: func() string { n++; return ids[n-1] },
	})

	for range ids {
		_, err := o.Analyze(context.Background(), "app.log", []byte("ERROR boom\n"))
		require.NoError(t, err)
	}

	runs, err := o.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "cccccccc-run-3", runs[0].ID)
	assert.Equal(t, "aaaaaaaa-run-1", runs[2].ID)

	limited, err := o.ListRuns(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteRunInvalidatesCache(t *testing.T) {
	st := newTestStore(t)
	o := newTestOrchestrator(t, st, Options{Cache: cache.New(16, time.Minute)})

	detail, err := o.Analyze(context.Background(), "app.log", []byte(sampleLog))
	require.NoError(t, err)
	_, err = o.GetIncident(context.Background(), detail.ID, detail.Incidents[0].ID)
	require.NoError(t, err)
	stats := o.CacheStats()
	assert.Equal(t, true, stats["enabled"])
	assert.EqualValues(t, 2, stats["entries"], "run detail plus one incident")
	assert.EqualValues(t, 1, stats["misses"])

	require.NoError(t, o.DeleteRun(context.Background(), detail.ID))
	assert.EqualValues(t, 0, o.CacheStats()["entries"])

	_, err = o.GetRun(context.Background(), detail.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeResourceNotFound))
	_, err = o.GetIncident(context.Background(), detail.ID, detail.Incidents[0].ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeResourceNotFound))
}

func TestIncidentID(t *testing.T) {
	a := IncidentID("0123abcd", "db timeout after <DUR>", 1)
	b := IncidentID("0123abcd", "db timeout after <DUR>", 1)
	c := IncidentID("0123abcd", "cache miss", 1)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "0123abcd-"))
	assert.True(t, strings.HasSuffix(a, "-1"))
	assert.Len(t, a, len("0123abcd-")+12+len("-1"))
}

func TestExplainerMode(t *testing.T) {
	o := newTestOrchestrator(t, newTestStore(t), Options{})
	assert.Equal(t, "fallback", o.ExplainerMode())
	assert.NoError(t, o.Ping(context.Background()))
}

func TestAnalyze_ScoresIndependentOfClock(t *testing.T) {
	text := "2026-01-15T10:00:00Z ERROR [api] Database connection timeout after 30s\n" +
		"Jan 15 09:00:00 WARN [worker] Queue depth 500 exceeds threshold\n"

	analyze := func(now time.Time, id string) *model.RunDetail {
		o := newTestOrchestrator(t, newTestStore(t), Options{
			Now:   func() time.Time { return now },
			NewID: func() string { return id },
		})
		detail, err := o.Analyze(context.Background(), "mixed.log", []byte(text))
		require.NoError(t, err)
		return detail
	}

	first := analyze(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), "11111111-0000-4000-8000-000000000001")
	second := analyze(time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC), "22222222-0000-4000-8000-000000000002")

	require.Len(t, first.Incidents, 2)
	require.Len(t, second.Incidents, 2)
	for i := range first.Incidents {
		a, b := first.Incidents[i], second.Incidents[i]
		assert.Equal(t, a.Title, b.Title)
		assert.Equal(t, a.Rank, b.Rank)
		assert.Equal(t, a.Score, b.Score)
		assert.Equal(t, a.Priority, b.Priority)
		require.NotNil(t, a.LastSeen)
		require.NotNil(t, b.LastSeen)
		assert.True(t, a.LastSeen.Equal(*b.LastSeen))
	}
	assert.Equal(t, model.LevelError, first.Incidents[0].Severity)
	assert.Equal(t, 2026, first.Incidents[1].LastSeen.Year())
}
