package explain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/metrics"
	"github.com/Gautam2086/SignalTrace/internal/model"
	"github.com/Gautam2086/SignalTrace/internal/security"
	"github.com/Gautam2086/SignalTrace/internal/tracing"
)

// Generative explains incidents with an external generator and falls back
// to Synthesize when the generator errors, times out or keeps returning
// invalid output.
type Generative struct {
	generator  Generator
	limiter    Limiter
	timeout    time.Duration
	maxRetries int
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewGenerative returns a generator-backed explainer.
func NewGenerative(gen Generator, opts Options) *Generative {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxRetries > MaxCorrectiveRetries {
		opts.MaxRetries = MaxCorrectiveRetries
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Generative{
		generator:  gen,
		limiter:    opts.Limiter,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger.Named("explain"),
		metrics:    opts.Metrics,
	}
}

// Mode implements Explainer.
func (g *Generative) Mode() string {
	return "generative:" + g.generator.Name()
}

// Explain implements Explainer. It runs the per-incident state machine
// until it reaches StateValidated or StateFallback.
func (g *Generative) Explain(ctx context.Context, inc *model.Incident) Result {
	var (
		state      = StateNotStarted
		attempts   int
		errs       []string
		validated  *model.Explanation
		lastOutput string
		lastIssues []string
		validLines = inc.Evidence.LineNumbers()
		user       = BuildUserPrompt(inc)
	)

	for !state.Terminal() {
		switch state {
		case StateNotStarted, StateInvalidRetry:
			state = StateCalling

		case StateCalling:
			attempts++
			prompt := user
			if attempts > 1 {
				prompt = BuildRepairPrompt(user, lastOutput, lastIssues)
			}

			out, err := g.attempt(ctx, attempts, prompt)
			if err != nil {
				errs = append(errs, fmt.Sprintf("attempt %d: %s", attempts, describeCallError(err)))
				g.logger.Warn("Explanation attempt failed",
					zap.String("incident_id", inc.ID),
					zap.Int("attempt", attempts),
					zap.String("error", security.SanitizeError(err)),
				)
				state = StateExhausted
				continue
			}

			exp, problems := Validate(out, validLines)
			if len(problems) == 0 {
				validated = exp
				state = StateValidated
				continue
			}

			for _, p := range problems {
				errs = append(errs, fmt.Sprintf("attempt %d: %s", attempts, p))
			}
			rejected := apperrors.NewExplanationInvalid(attempts, problems)
			g.logger.Debug("Explanation output rejected",
				zap.String("incident_id", inc.ID),
				zap.String("code", string(rejected.Code)),
				zap.Any("details", rejected.Details),
			)
			lastOutput, lastIssues = out, problems
			if attempts > g.maxRetries {
				state = StateExhausted
			} else {
				state = StateInvalidRetry
			}

		case StateExhausted:
			state = StateFallback
		}
	}

	if state == StateValidated {
		if validated.Title == "" {
			validated.Title = inc.Title
		}
		g.metrics.RecordExplanation(string(StateValidated), attempts)
		if errs == nil {
			errs = []string{}
		}
		return Result{
			Explanation:      validated,
			UsedLLM:          true,
			ValidationErrors: errs,
			State:            StateValidated,
			Attempts:         attempts,
		}
	}

	g.metrics.RecordExplanation(string(StateFallback), attempts)
	errs = append(errs, fmt.Sprintf("fell back to deterministic explanation after %d attempt(s)", attempts))
	return Result{
		Explanation:      Synthesize(inc),
		UsedLLM:          false,
		ValidationErrors: errs,
		State:            StateFallback,
		Attempts:         attempts,
	}
}

// attempt performs one bounded generator call. The limiter wait counts
// against the attempt's timeout.
func (g *Generative) attempt(ctx context.Context, n int, user string) (string, error) {
	actx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	actx, span := tracing.GeneratorSpan(actx, g.generator.Name(), n)
	defer span.End()

	start := time.Now()
	if g.limiter != nil {
		if err := g.limiter.Wait(actx); err != nil {
			g.metrics.RecordRateLimitHit()
			tracing.RecordError(span, err)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", apperrors.NewExplanationTimeout(n).WithCause(err)
		}
	}
	g.metrics.RecordRateLimitWait(time.Since(start))

	callStart := time.Now()
	out, err := g.generator.Generate(actx, SystemPrompt, user)
	elapsed := time.Since(callStart)
	if err != nil {
		tracing.RecordError(span, err)
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			g.metrics.RecordGeneratorRequest(g.generator.Name(), "timeout", elapsed)
			return "", apperrors.NewExplanationTimeout(n).WithCause(err)
		}
		g.metrics.RecordGeneratorRequest(g.generator.Name(), "error", elapsed)
		if _, ok := apperrors.As(err); ok || ctx.Err() != nil {
			return "", err
		}
		return "", apperrors.NewGeneratorError(g.generator.Name(), err)
	}

	g.metrics.RecordGeneratorRequest(g.generator.Name(), "ok", elapsed)
	tracing.SetSuccess(span)
	return out, nil
}

func describeCallError(err error) string {
	if errors.Is(err, context.Canceled) {
		return "request cancelled before the generator answered"
	}
	if se, ok := apperrors.As(err); ok {
		switch se.Code {
		case apperrors.CodeExplanationTimeout:
			return "generator call timed out"
		case apperrors.CodeRateLimitExceeded:
			return "generator rate limit exceeded"
		case apperrors.CodeGeneratorUnavailable:
			return "generator error: " + security.SanitizeError(se.Unwrap())
		}
		return security.MaskSensitiveData(se.Message)
	}
	return "generator error: " + security.SanitizeError(err)
}
