package explain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/model"
)

type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	delay     time.Duration
	prompts   []string
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Generate(ctx context.Context, _, user string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, user)
	call := len(g.prompts)
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.err != nil {
		return "", g.err
	}
	if call > len(g.responses) {
		return g.responses[len(g.responses)-1], nil
	}
	return g.responses[call-1], nil
}

func testIncident() *model.Incident {
	first := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	last := first.Add(9 * time.Minute)
	span := 540.0
	rate := 0.33
	return &model.Incident{
		ID:        "run12345-abc-1",
		Signature: "request req-<NUM> failed: upstream timeout",
		Title:     "Request req-1001 failed: upstream timeout",
		Severity:  model.LevelError,
		Count:     3,
		Services:  []string{"api"},
		FirstSeen: &first,
		LastSeen:  &last,
		Stats: model.Stats{
			TotalCount:           3,
			ErrorCount:           3,
			SeverityHistogram:    map[model.Level]int{model.LevelError: 3},
			Services:             []string{"api"},
			TimeSpanSeconds:      &span,
			OccurrencesPerMinute: &rate,
		},
		Evidence: &model.Evidence{
			SampleLines: []model.EvidenceLine{
				{LineNumber: 1, Level: model.LevelError, Message: "Request req-1001 failed: upstream timeout", Raw: "ERROR api Request req-1001 failed: upstream timeout"},
				{LineNumber: 2, Level: model.LevelError, Message: "Request req-1002 failed: upstream timeout", Raw: "ERROR api Request req-1002 failed: upstream timeout api_key=abcdefgh12345678"},
				{LineNumber: 3, Level: model.LevelError, Message: "Request req-1003 failed: upstream timeout", Raw: "ERROR api Request req-1003 failed: upstream timeout"},
			},
			TopMessages: []string{"Request req-1001 failed: upstream timeout"},
		},
	}
}

const validOutput = "```json\n" + `{
  "incident_title": "Upstream timeouts in api",
  "what_happened": "The api service failed three requests because an upstream call timed out.",
  "likely_causes": [{"hypothesis": "Upstream dependency is slow", "evidence_line_numbers": [1, 3]}, "Network congestion"],
  "recommended_next_steps": ["Check upstream latency"],
  "caveats": [],
  "confidence": "Medium",
  "referenced_line_numbers": [2]
}` + "\n```"

func TestNew_SelectsVariant(t *testing.T) {
	assert.Equal(t, "fallback", New(nil, Options{}).Mode())
	assert.Equal(t, "generative:scripted", New(&scriptedGenerator{}, Options{}).Mode())
}

func TestGenerative_ValidFirstAttempt(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{validOutput}}
	e := NewGenerative(gen, Options{Timeout: time.Second, MaxRetries: 2, Logger: zap.NewNop()})

	res := e.Explain(context.Background(), testIncident())

	assert.Equal(t, StateValidated, res.State)
	assert.True(t, res.UsedLLM)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.ValidationErrors)
	require.NotNil(t, res.Explanation)
	assert.Equal(t, "Upstream timeouts in api", res.Explanation.Title)
	assert.Equal(t, "medium", res.Explanation.Confidence)
	assert.Equal(t, []int{1, 2, 3}, res.Explanation.ReferencedLineNumbers)
	require.Len(t, res.Explanation.LikelyCauses, 2)
	assert.Equal(t, "Network congestion", res.Explanation.LikelyCauses[1].Hypothesis)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "[Line 2]")
	assert.NotContains(t, gen.prompts[0], "abcdefgh12345678", "credentials must be masked in prompts")
}

func TestGenerative_InvalidThenValid(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"likely_causes": "not a list"}`, validOutput}}
	e := NewGenerative(gen, Options{Timeout: time.Second, MaxRetries: 2})

	res := e.Explain(context.Background(), testIncident())

	assert.Equal(t, StateValidated, res.State)
	assert.True(t, res.UsedLLM)
	assert.Equal(t, 2, res.Attempts)
	assert.NotEmpty(t, res.ValidationErrors)
	assert.True(t, strings.HasPrefix(res.ValidationErrors[0], "attempt 1:"))

	require.Len(t, gen.prompts, 2)
	assert.Contains(t, gen.prompts[1], "previous response was rejected")
	assert.Contains(t, gen.prompts[1], "what_happened is required")
}

func TestGenerative_AlwaysInvalidFallsBack(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"I cannot help with that."}}
	e := NewGenerative(gen, Options{Timeout: time.Second, MaxRetries: 2})

	res := e.Explain(context.Background(), testIncident())

	assert.Equal(t, StateFallback, res.State)
	assert.False(t, res.UsedLLM)
	assert.Equal(t, 3, res.Attempts, "one call plus two corrective retries")
	assert.Len(t, gen.prompts, 3)
	require.NotNil(t, res.Explanation)
	assert.NotEmpty(t, res.Explanation.WhatHappened)
	assert.Contains(t, res.ValidationErrors[len(res.ValidationErrors)-1], "fell back")
}

func TestGenerative_ErrorFallsBackWithoutRetry(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("connection refused")}
	e := NewGenerative(gen, Options{Timeout: time.Second, MaxRetries: 2})

	res := e.Explain(context.Background(), testIncident())

	assert.Equal(t, StateFallback, res.State)
	assert.False(t, res.UsedLLM)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.ValidationErrors[0], "attempt 1: generator error:")
	assert.Contains(t, res.ValidationErrors[0], "connection refused")
}

func TestGenerative_AttemptClassifiesErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode apperrors.ErrorCode
	}{
		{"plain error is wrapped", errors.New("connection refused"), apperrors.CodeGeneratorUnavailable},
		{"structured error keeps its code", apperrors.NewUnauthorized(), apperrors.CodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewGenerative(&scriptedGenerator{err: tt.err}, Options{Timeout: time.Second})
			_, err := e.attempt(context.Background(), 1, "prompt")
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.wantCode))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestGenerative_TimeoutFallsBack(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{validOutput}, delay: time.Second}
	e := NewGenerative(gen, Options{Timeout: 20 * time.Millisecond, MaxRetries: 2})

	start := time.Now()
	res := e.Explain(context.Background(), testIncident())

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, StateFallback, res.State)
	assert.False(t, res.UsedLLM)
	assert.Contains(t, res.ValidationErrors[0], "timed out")
}

func TestGenerative_LimiterWaitCountsAgainstTimeout(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, limiter.Allow(), "drain the only token")

	gen := &scriptedGenerator{responses: []string{validOutput}}
	e := NewGenerative(gen, Options{Timeout: 20 * time.Millisecond, Limiter: limiter})

	res := e.Explain(context.Background(), testIncident())

	assert.Equal(t, StateFallback, res.State)
	assert.Empty(t, gen.prompts, "the generator is never called while throttled")
}

func TestGenerative_ZeroRetries(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"{}"}}
	e := NewGenerative(gen, Options{Timeout: time.Second, MaxRetries: 0})

	res := e.Explain(context.Background(), testIncident())

	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, StateFallback, res.State)
}

func TestFallback_Deterministic(t *testing.T) {
	f := NewFallback()
	a := f.Explain(context.Background(), testIncident())
	b := f.Explain(context.Background(), testIncident())

	assert.Equal(t, a, b)
	assert.Equal(t, StateFallback, a.State)
	assert.False(t, a.UsedLLM)
	assert.Empty(t, a.ValidationErrors)
	assert.NotNil(t, a.ValidationErrors)
}

func TestSynthesize(t *testing.T) {
	exp := Synthesize(testIncident())

	assert.Equal(t, "Error: Request req-1001 failed: upstream timeout in api", exp.Title)
	assert.True(t, strings.HasPrefix(exp.WhatHappened,
		`Observed 3 occurrences of "Request req-1001 failed: upstream timeout" across api between 2024-01-15T10:00:00Z and 2024-01-15T10:09:00Z; severity ERROR.`))
	assert.Equal(t, "low", exp.Confidence)
	require.NotEmpty(t, exp.LikelyCauses)
	assert.Contains(t, exp.LikelyCauses[0].Hypothesis, "timeouts")
	assert.Equal(t, []int{1, 2, 3}, exp.LikelyCauses[0].EvidenceLineNumbers)
	assert.Contains(t, exp.RecommendedNextSteps[0], "Escalate")
	assert.LessOrEqual(t, len(exp.RecommendedNextSteps), maxFallbackSteps)
	assert.Equal(t, FallbackCaveats, exp.Caveats)

	_, problems := Validate(mustJSON(t, exp), (&model.Evidence{SampleLines: testIncident().Evidence.SampleLines}).LineNumbers())
	assert.Empty(t, problems, "fallback output satisfies the same schema")
}

func TestSynthesize_SeverityAppropriateSteps(t *testing.T) {
	warn := testIncident()
	warn.Severity = model.LevelWarn
	assert.Contains(t, Synthesize(warn).RecommendedNextSteps[0], "Monitor")

	info := testIncident()
	info.Severity = model.LevelInfo
	info.Title = "heartbeat ok"
	info.Signature = "heartbeat ok"
	info.Evidence.TopMessages = []string{"heartbeat ok"}
	exp := Synthesize(info)
	assert.Contains(t, exp.RecommendedNextSteps[0], "No immediate action")
	assert.Equal(t, "Issue: heartbeat ok in api", exp.Title)
}

func TestSynthesize_NoTimestampsOrServices(t *testing.T) {
	inc := &model.Incident{Title: "???", Signature: "???", Severity: model.LevelUnknown, Count: 1}

	exp := Synthesize(inc)

	assert.Equal(t, `Observed 1 occurrence of "???" across an unidentified service at unknown times; severity UNKNOWN.`, exp.WhatHappened)
	assert.Equal(t, []int{}, exp.LikelyCauses[0].EvidenceLineNumbers)
}
