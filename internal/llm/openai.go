package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Gautam2086/SignalTrace/internal/config"
	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/metrics"
	"github.com/Gautam2086/SignalTrace/internal/security"
)

const maxErrorBody = 512

// OpenAI calls an OpenAI-compatible /chat/completions endpoint.
type OpenAI struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	model        string
	maxTokens    int
	temperature  float64
	maxRetries   int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	logger       *zap.Logger
	metrics      *metrics.Metrics
	version      string
}

// NewOpenAI creates a chat-completions client from cfg.
func NewOpenAI(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, version string) *OpenAI {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// Only disable TLS verification if explicitly configured (for testing environments)
	if !cfg.TLSVerify {
		tlsConfig.InsecureSkipVerify = true
		logger.Warn("TLS certificate verification is DISABLED - this is insecure and should only be used for testing",
			zap.String("base_url", cfg.LLMBaseURL),
		)
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     tlsConfig,
	}

	if version == "" {
		version = "dev"
	}

	return &OpenAI{
		// Per-attempt deadlines come from the caller's context.
		httpClient:   &http.Client{Transport: transport},
		baseURL:      strings.TrimRight(cfg.LLMBaseURL, "/"),
		apiKey:       cfg.LLMAPIKey,
		model:        cfg.LLMModel,
		maxTokens:    cfg.LLMMaxTokens,
		temperature:  cfg.LLMTemperature,
		maxRetries:   cfg.MaxRetries,
		retryWaitMin: cfg.RetryWaitMin,
		retryWaitMax: cfg.RetryWaitMax,
		logger:       logger.Named("openai"),
		metrics:      m,
		version:      version,
	}
}

// Name implements Generator.
func (c *OpenAI) Name() string {
	return config.ProviderOpenAI
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate implements Generator.
func (c *OpenAI) Generate(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := c.do(ctx, body)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return "", apperrors.NewAPIError(c.Name(), http.StatusOK, "response is not a chat completion")
	}
	if len(parsed.Choices) == 0 {
		return "", apperrors.NewAPIError(c.Name(), http.StatusOK, "response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// do posts body with retry on transient network errors and retryable
// statuses.
func (c *OpenAI) do(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with overflow protection
			shift := min(attempt-1, 30)
			waitTime := c.retryWaitMin * time.Duration(1<<shift)
			if waitTime > c.retryWaitMax {
				waitTime = c.retryWaitMax
			}

			c.logger.Debug("Retrying request",
				zap.Int("attempt", attempt),
				zap.Duration("wait", waitTime),
			)
			c.metrics.RecordRetry()

			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		status, respBody, err := c.doRequest(ctx, body)
		if err != nil {
			lastErr = err
			if isRetryable(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperrors.NewNetworkError(security.SanitizeError(err)).WithCause(err)
		}

		if status >= 200 && status < 300 {
			return respBody, nil
		}

		c.metrics.RecordGeneratorStatus(status)
		lastErr = apperrors.FromHTTPStatus(c.Name(), status, errorExcerpt(respBody))
		if shouldRetry(status) {
			continue
		}
		return nil, lastErr
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *OpenAI) doRequest(ctx context.Context, body []byte) (int, []byte, error) {
	requestURL := c.baseURL + "/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", fmt.Sprintf("signaltrace/%s", c.version))
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("Executing generator request",
		zap.String("url", security.MaskURL(requestURL)),
		zap.String("model", c.model),
		zap.Any("headers", security.MaskSensitiveHeaders(httpReq.Header)),
	)

	startTime := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Generator request failed",
			zap.String("error", security.SanitizeError(err)),
			zap.String("url", security.MaskURL(requestURL)),
			zap.Duration("duration", duration),
		)
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", zap.Error(closeErr))
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("Generator request completed",
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", duration),
		zap.Int("response_size", len(respBody)),
	)

	return httpResp.StatusCode, respBody, nil
}

// Close releases idle connections.
func (c *OpenAI) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func errorExcerpt(body []byte) string {
	s := security.MaskSensitiveData(strings.TrimSpace(string(body)))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}

// isRetryable determines if an error is retryable (transient network errors)
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context cancellation and deadlines belong to the caller
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ENETUNREACH) ||
			errors.Is(opErr.Err, syscall.EHOSTUNREACH) ||
			errors.Is(opErr.Err, syscall.ETIMEDOUT) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset",
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"tls handshake timeout",
		"eof",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// shouldRetry determines if an HTTP status code should trigger a retry
func shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
