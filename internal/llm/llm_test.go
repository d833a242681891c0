package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Gautam2086/SignalTrace/internal/config"
	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/metrics"
)

func newTestConfig(provider, baseURL string) *config.Config {
	return &config.Config{
		LLMProvider:    provider,
		LLMAPIKey:      "sk-test-key-0123456789", // pragma: allowlist secret
		LLMBaseURL:     baseURL,
		LLMModel:       "test-model",
		LLMMaxTokens:   256,
		LLMTemperature: 0.1,
		MaxRetries:     2,
		RetryWaitMin:   5 * time.Millisecond,
		RetryWaitMax:   20 * time.Millisecond,
		TLSVerify:      true,
	}
}

func chatCompletion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func TestNew_SelectsProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		apiKey   string
		wantName string
		wantNil  bool
	}{
		{"openai", config.ProviderOpenAI, "key", "openai", false},
		{"anthropic", config.ProviderAnthropic, "key", "anthropic", false},
		{"no key", config.ProviderOpenAI, "", "", true},
		{"disabled", config.ProviderNone, "key", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(tt.provider, config.DefaultLLMBaseURL)
			cfg.LLMAPIKey = tt.apiKey

			gen, err := New(cfg, zap.NewNop(), nil, "test")
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, gen)
				return
			}
			require.NotNil(t, gen)
			assert.Equal(t, tt.wantName, gen.Name())
		})
	}
}

func TestOpenAI_Generate(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test-key-0123456789", r.Header.Get("Authorization"))
		assert.Equal(t, "signaltrace/test", r.Header.Get("User-Agent"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletion(`{"what_happened": "x"}`)))
	}))
	defer server.Close()

	c := NewOpenAI(newTestConfig(config.ProviderOpenAI, server.URL+"/"), zap.NewNop(), nil, "test")
	out, err := c.Generate(context.Background(), "system prompt", "user prompt")

	require.NoError(t, err)
	assert.Equal(t, `{"what_happened": "x"}`, out)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user prompt", got.Messages[1].Content)
	assert.Equal(t, 256, got.MaxTokens)
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": "overloaded"}`))
			return
		}
		_, _ = w.Write([]byte(chatCompletion("ok")))
	}))
	defer server.Close()

	m := metrics.New(zap.NewNop())
	c := NewOpenAI(newTestConfig(config.ProviderOpenAI, server.URL), zap.NewNop(), m, "test")
	out, err := c.Generate(context.Background(), "s", "u")

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(2), m.GetStats().RetriedRequests)
	assert.Equal(t, uint64(2), m.GetStats().ErrorsByStatus[503])
}

func TestOpenAI_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  apperrors.ErrorCode
		wantCalls int32
	}{
		{"unauthorized is not retried", http.StatusUnauthorized, apperrors.CodeUnauthorized, 1},
		{"bad request is not retried", http.StatusBadRequest, apperrors.CodeInvalidInput, 1},
		{"rate limit is retried", http.StatusTooManyRequests, apperrors.CodeRateLimitExceeded, 3},
		{"server error is retried", http.StatusBadGateway, apperrors.CodeAPIError, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": "api_key=sk-leaked-secret-value-123"}`))
			}))
			defer server.Close()

			c := NewOpenAI(newTestConfig(config.ProviderOpenAI, server.URL), zap.NewNop(), nil, "test")
			_, err := c.Generate(context.Background(), "s", "u")

			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.wantCode), "got %v", err)
			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.NotContains(t, err.Error(), "sk-leaked-secret-value-123")
		})
	}
}

func TestOpenAI_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	c := NewOpenAI(newTestConfig(config.ProviderOpenAI, server.URL), zap.NewNop(), nil, "test")
	_, err := c.Generate(context.Background(), "s", "u")

	assert.True(t, apperrors.HasCode(err, apperrors.CodeAPIError))
}

func TestOpenAI_RespectsContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := NewOpenAI(newTestConfig(config.ProviderOpenAI, server.URL), zap.NewNop(), nil, "test")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Generate(ctx, "s", "u")

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"unexpected EOF", errors.New("unexpected EOF"), true},
		{"permanent", errors.New("x509: certificate signed by unknown authority"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestShouldRetry(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, shouldRetry(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404} {
		assert.False(t, shouldRetry(code), "status %d", code)
	}
}

func TestAnthropic_Generate(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"), r.URL.Path)
		assert.Equal(t, "sk-test-key-0123456789", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "test-model",
			"content": [{"type": "text", "text": "{\"what_happened\": "}, {"type": "text", "text": "\"x\"}"}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	cfg := newTestConfig(config.ProviderAnthropic, server.URL)
	cfg.MaxRetries = 0
	a := NewAnthropic(cfg, zap.NewNop(), nil)
	out, err := a.Generate(context.Background(), "system prompt", "user prompt")

	require.NoError(t, err)
	assert.Equal(t, `{"what_happened": "x"}`, out)
	assert.Equal(t, "test-model", body["model"])
	assert.EqualValues(t, 256, body["max_tokens"])
	system, ok := body["system"].([]any)
	require.True(t, ok)
	assert.Len(t, system, 1)
}

func TestAnthropic_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`))
	}))
	defer server.Close()

	cfg := newTestConfig(config.ProviderAnthropic, server.URL)
	cfg.MaxRetries = 0
	_, err := NewAnthropic(cfg, zap.NewNop(), nil).Generate(context.Background(), "s", "u")

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized), "got %v", err)
}

func TestNewAnthropic_Defaults(t *testing.T) {
	cfg := newTestConfig(config.ProviderAnthropic, config.DefaultLLMBaseURL)
	cfg.LLMModel = config.DefaultLLMModel
	cfg.LLMMaxTokens = 0

	a := NewAnthropic(cfg, zap.NewNop(), nil)

	assert.Equal(t, config.DefaultAnthropicModel, a.model)
	assert.Equal(t, int64(1500), a.maxTokens)
}

func TestOpenAI_RequestLogMasksCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chatCompletion(`{}`)))
	}))
	defer server.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	c := NewOpenAI(newTestConfig(config.ProviderOpenAI, server.URL), zap.New(core), nil, "test")
	_, err := c.Generate(context.Background(), "system", "user")
	require.NoError(t, err)

	entries := logs.FilterMessage("Executing generator request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	headers, ok := fields["headers"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "***REDACTED***", headers["Authorization"])
	assert.Equal(t, "application/json", headers["Content-Type"])
	for _, e := range logs.All() {
		for _, v := range e.ContextMap() {
			assert.NotContains(t, fmt.Sprint(v), "sk-test-key-0123456789")
		}
	}
}
