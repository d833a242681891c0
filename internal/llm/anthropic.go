package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/Gautam2086/SignalTrace/internal/config"
	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/metrics"
	"github.com/Gautam2086/SignalTrace/internal/security"
)

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewAnthropic creates a Messages client from cfg. The OpenAI-compatible
// default base URL and model are replaced with Anthropic's own.
func NewAnthropic(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.LLMAPIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.LLMBaseURL != "" && cfg.LLMBaseURL != config.DefaultLLMBaseURL {
		opts = append(opts, option.WithBaseURL(cfg.LLMBaseURL))
	}

	model := cfg.LLMModel
	if model == "" || model == config.DefaultLLMModel {
		model = config.DefaultAnthropicModel
	}
	maxTokens := int64(cfg.LLMMaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1500
	}

	return &Anthropic{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.LLMTemperature,
		logger:      logger.Named("anthropic"),
		metrics:     m,
	}
}

// Name implements Generator.
func (a *Anthropic) Name() string {
	return config.ProviderAnthropic
}

// Generate implements Generator.
func (a *Anthropic) Generate(ctx context.Context, system, user string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			a.metrics.RecordGeneratorStatus(apiErr.StatusCode)
			return "", apperrors.FromHTTPStatus(a.Name(), apiErr.StatusCode, security.SanitizeError(err))
		}
		a.logger.Warn("Anthropic request failed", zap.String("error", security.SanitizeError(err)))
		return "", apperrors.NewNetworkError(security.SanitizeError(err)).WithCause(err)
	}

	var parts []string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", apperrors.NewAPIError(a.Name(), 200, "response has no text content")
	}

	a.logger.Debug("Anthropic request completed",
		zap.String("model", a.model),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return strings.Join(parts, ""), nil
}
