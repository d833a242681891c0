// Package llm provides the text generators used to explain incidents: an
// OpenAI-compatible chat-completions client (OpenAI, OpenRouter, local
// gateways) and an Anthropic Messages client.
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Gautam2086/SignalTrace/internal/config"
	"github.com/Gautam2086/SignalTrace/internal/metrics"
)

// Generator is an external text-generation service.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
	Name() string
}

// New builds the generator selected by cfg. It returns a nil Generator
// when explanations should run in fallback-only mode.
func New(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, version string) (Generator, error) {
	if !cfg.GeneratorEnabled() {
		logger.Info("No generator configured, explanations use the deterministic fallback",
			zap.String("provider", cfg.LLMProvider),
		)
		return nil, nil
	}

	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg, logger, m, version), nil
	case config.ProviderAnthropic:
		return NewAnthropic(cfg, logger, m), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLMProvider)
	}
}
