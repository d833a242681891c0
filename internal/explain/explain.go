// Package explain produces the natural-language explanation attached to
// each incident.
//
// Two variants implement Explainer: Fallback synthesizes an explanation
// from the incident's own statistics and never fails; Generative asks an
// external text generator, validates the answer strictly, retries a bounded
// number of times on invalid output and otherwise degrades to Fallback.
// New picks the variant once, at construction.
package explain

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Gautam2086/SignalTrace/internal/metrics"
	"github.com/Gautam2086/SignalTrace/internal/model"
)

// MaxCorrectiveRetries bounds retries on invalid generator output.
const MaxCorrectiveRetries = 2

// DefaultTimeout is the per-attempt budget when none is configured.
const DefaultTimeout = 30 * time.Second

// Explainer produces an explanation for one incident. Implementations never
// return without an explanation.
type Explainer interface {
	Explain(ctx context.Context, inc *model.Incident) Result
	// Mode names the variant ("fallback" or "generative:<provider>").
	Mode() string
}

// Generator is an external text-generation service.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
	Name() string
}

// Limiter throttles generator calls. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// State is the per-incident explanation state.
type State string

const (
	StateNotStarted   State = "not_started"
	StateCalling      State = "calling"
	StateValidated    State = "validated"
	StateInvalidRetry State = "invalid_retry"
	StateExhausted    State = "exhausted"
	StateFallback     State = "fallback"
)

// Terminal reports whether s ends the state machine.
func (s State) Terminal() bool {
	return s == StateValidated || s == StateFallback
}

// Result is the outcome of explaining one incident. UsedLLM is true exactly
// when State is StateValidated.
type Result struct {
	Explanation      *model.Explanation
	UsedLLM          bool
	ValidationErrors []string
	State            State
	Attempts         int
}

// Options configure the generative variant.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	Limiter    Limiter
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// New returns a Generative explainer when gen is non-nil and a Fallback
// explainer otherwise.
func New(gen Generator, opts Options) Explainer {
	if gen == nil {
		return NewFallback()
	}
	return NewGenerative(gen, opts)
}
