// Package config provides configuration management for the SignalTrace service.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Gautam2086/SignalTrace/internal/security"
)

// Generator providers.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Generator defaults. The OpenAI-compatible defaults target OpenRouter.
const (
	DefaultLLMBaseURL     = "https://openrouter.ai/api/v1"
	DefaultLLMModel       = "openai/gpt-4o-mini"
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
)

// Config holds all configuration for SignalTrace
type Config struct {
	// HTTP API
	ListenAddr      string        `json:"listen_addr" yaml:"listen_addr"`
	CORSOrigins     []string      `json:"cors_origins" yaml:"cors_origins"`
	MaxUploadBytes  int64         `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Persistence
	DBPath       string `json:"db_path" yaml:"db_path"`
	RunListLimit int    `json:"run_list_limit" yaml:"run_list_limit"`

	// Explanation generator
	LLMProvider    string        `json:"llm_provider" yaml:"llm_provider"`
	LLMAPIKey      string        `json:"llm_api_key,omitempty" yaml:"llm_api_key,omitempty"` // Normally from env only
	LLMBaseURL     string        `json:"llm_base_url" yaml:"llm_base_url"`
	LLMModel       string        `json:"llm_model" yaml:"llm_model"`
	LLMTimeout     time.Duration `json:"llm_timeout" yaml:"llm_timeout"`         // Per attempt
	LLMMaxRetries  int           `json:"llm_max_retries" yaml:"llm_max_retries"` // Corrective retries on invalid output (0-2)
	LLMMaxTokens   int           `json:"llm_max_tokens" yaml:"llm_max_tokens"`
	LLMTemperature float64       `json:"llm_temperature" yaml:"llm_temperature"`

	// HTTP client used for the generator
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	RetryWaitMin time.Duration `json:"retry_wait_min" yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `json:"retry_wait_max" yaml:"retry_wait_max"`
	TLSVerify    bool          `json:"tls_verify" yaml:"tls_verify"`

	// Rate limiting of generator calls
	RateLimit       int  `json:"rate_limit" yaml:"rate_limit"`             // requests per second
	RateLimitBurst  int  `json:"rate_limit_burst" yaml:"rate_limit_burst"` // burst size
	EnableRateLimit bool `json:"enable_rate_limit" yaml:"enable_rate_limit"`

	// Pipeline
	Workers            int `json:"workers" yaml:"workers"`
	EvidenceMaxSamples int `json:"evidence_max_samples" yaml:"evidence_max_samples"`
	TitleMaxLen        int `json:"title_max_len" yaml:"title_max_len"`
	DetailCacheSize    int `json:"detail_cache_size" yaml:"detail_cache_size"`

	// Observability
	EnableTracing   bool `json:"enable_tracing" yaml:"enable_tracing"`
	EnableAuditLog  bool `json:"enable_audit_log" yaml:"enable_audit_log"`
	MetricsEndpoint bool `json:"metrics_endpoint" yaml:"metrics_endpoint"`

	// Logging
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogFormat   string `json:"log_format" yaml:"log_format"` // json or console
	Environment string `json:"environment" yaml:"environment"`
}

// Load configuration from environment variables and config file
func Load() (*Config, error) {
	cfg := &Config{
		// Defaults
		ListenAddr:      ":8000",
		CORSOrigins:     []string{"http://localhost:5173"},
		MaxUploadBytes:  20 << 20,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		DBPath:          "./data/signaltrace.db",
		RunListLimit:    50,
		LLMProvider:     ProviderOpenAI,
		LLMBaseURL:      DefaultLLMBaseURL,
		LLMModel:        DefaultLLMModel,
		LLMTimeout:      30 * time.Second,
		LLMMaxRetries:   2,
		LLMMaxTokens:    1500,
		LLMTemperature:  0.1,
		MaxRetries:      2,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    5 * time.Second,
		TLSVerify:       true,
		RateLimit:       5,
		RateLimitBurst:  5,
		EnableRateLimit: true,
		Workers:         4,
		// Evidence and titles
		EvidenceMaxSamples: 8,
		TitleMaxLen:        120,
		DetailCacheSize:    256,
		// Observability defaults
		EnableTracing:   false,
		EnableAuditLog:  true,
		MetricsEndpoint: true,
		LogLevel:        "info",
		LogFormat:       "json",
		Environment:     "development",
	}

	// Try to load from config file if specified
	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (these take precedence)
	loadFromEnv(cfg)

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	cleanPath := filepath.Clean(path)

	// Prevent path traversal by checking for ".." components
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid file path: path traversal detected")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 -- path is validated above
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(cleanPath)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("SIGNALTRACE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SIGNALTRACE_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("SIGNALTRACE_MAX_UPLOAD_BYTES"); v != "" {
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("SIGNALTRACE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SIGNALTRACE_RUN_LIST_LIMIT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.RunListLimit = n
		}
	}

	if v := os.Getenv("SIGNALTRACE_LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = strings.ToLower(v)
	}
	if v := os.Getenv("SIGNALTRACE_LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("SIGNALTRACE_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	// Provider-specific keys are accepted as a fallback for the generic one.
	switch {
	case os.Getenv("SIGNALTRACE_LLM_API_KEY") != "":
		cfg.LLMAPIKey = os.Getenv("SIGNALTRACE_LLM_API_KEY")
	case cfg.LLMProvider == ProviderAnthropic && os.Getenv("ANTHROPIC_API_KEY") != "":
		cfg.LLMAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	case cfg.LLMProvider == ProviderOpenAI && os.Getenv("OPENAI_API_KEY") != "":
		cfg.LLMAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("SIGNALTRACE_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLMTimeout = d
		}
	}
	if v := os.Getenv("SIGNALTRACE_LLM_MAX_RETRIES"); v != "" {
		var retries int
		if _, err := fmt.Sscanf(v, "%d", &retries); err == nil {
			cfg.LLMMaxRetries = retries
		}
	}
	if v := os.Getenv("SIGNALTRACE_LLM_MAX_TOKENS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.LLMMaxTokens = n
		}
	}
	if v := os.Getenv("SIGNALTRACE_LLM_TEMPERATURE"); v != "" {
		var t float64
		if _, err := fmt.Sscanf(v, "%g", &t); err == nil {
			cfg.LLMTemperature = t
		}
	}

	if v := os.Getenv("SIGNALTRACE_MAX_RETRIES"); v != "" {
		var retries int
		if _, err := fmt.Sscanf(v, "%d", &retries); err == nil {
			cfg.MaxRetries = retries
		}
	}
	if v := os.Getenv("SIGNALTRACE_RATE_LIMIT"); v != "" {
		var limit int
		if _, err := fmt.Sscanf(v, "%d", &limit); err == nil {
			cfg.RateLimit = limit
		}
	}
	if v := os.Getenv("SIGNALTRACE_RATE_LIMIT_BURST"); v != "" {
		var burst int
		if _, err := fmt.Sscanf(v, "%d", &burst); err == nil {
			cfg.RateLimitBurst = burst
		}
	}
	if v := os.Getenv("SIGNALTRACE_ENABLE_RATE_LIMIT"); v != "" {
		cfg.EnableRateLimit = v == "true" || v == "1"
	}
	if v := os.Getenv("SIGNALTRACE_TLS_VERIFY"); v != "" {
		cfg.TLSVerify = v == "true" || v == "1"
	}

	if v := os.Getenv("SIGNALTRACE_WORKERS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("SIGNALTRACE_EVIDENCE_MAX_SAMPLES"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.EvidenceMaxSamples = n
		}
	}
	if v := os.Getenv("SIGNALTRACE_DETAIL_CACHE_SIZE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.DetailCacheSize = n
		}
	}

	if v := os.Getenv("SIGNALTRACE_ENABLE_TRACING"); v != "" {
		cfg.EnableTracing = v == "true" || v == "1"
	}
	if v := os.Getenv("SIGNALTRACE_ENABLE_AUDIT_LOG"); v != "" {
		cfg.EnableAuditLog = v == "true" || v == "1"
	}
	if v := os.Getenv("SIGNALTRACE_METRICS_ENDPOINT"); v != "" {
		cfg.MetricsEndpoint = v == "true" || v == "1"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GeneratorEnabled reports whether explanations should be attempted with an
// external generator. Without an API key the service runs fallback-only.
func (c *Config) GeneratorEnabled() bool {
	return c.LLMProvider != ProviderNone && c.LLMAPIKey != ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("SIGNALTRACE_DB_PATH is required")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	switch c.LLMProvider {
	case ProviderNone, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("invalid llm provider: %s", c.LLMProvider)
	}
	if c.LLMTimeout <= 0 {
		return errors.New("llm_timeout must be positive")
	}
	if c.LLMMaxRetries < 0 || c.LLMMaxRetries > 2 {
		return errors.New("llm_max_retries must be between 0 and 2")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be non-negative")
	}
	if c.RateLimit <= 0 && c.EnableRateLimit {
		return errors.New("rate_limit must be positive when rate limiting is enabled")
	}
	if c.RateLimitBurst < 1 && c.EnableRateLimit {
		return errors.New("rate_limit_burst must be at least 1 when rate limiting is enabled")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.EvidenceMaxSamples < 2 || c.EvidenceMaxSamples > 50 {
		return errors.New("evidence_max_samples must be between 2 and 50")
	}
	if c.RunListLimit <= 0 {
		return errors.New("run_list_limit must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

// Redact returns a copy of the config with sensitive data removed
func (c *Config) Redact() *Config {
	redacted := *c
	if redacted.LLMAPIKey != "" {
		// Show first 4 and last 4 characters for debugging, fully mask short keys
		if len(redacted.LLMAPIKey) > 8 {
			redacted.LLMAPIKey = security.MaskAPIKey(redacted.LLMAPIKey)
		} else {
			redacted.LLMAPIKey = security.Redacted
		}
	}
	redacted.LLMBaseURL = security.MaskURL(redacted.LLMBaseURL)
	return &redacted
}
