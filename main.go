// Package main implements the SignalTrace command: a log triage service
// that groups log lines into ranked incidents, samples evidence and
// explains each incident, optionally with an LLM.
//
// Subcommands:
//   - serve:   run the HTTP API
//   - analyze: analyze one file and print the ranked incidents
//   - mcp:     expose the pipeline as MCP tools over stdio
//
// Configuration is read from an optional CONFIG_FILE (JSON or YAML), then
// from environment variables (SIGNALTRACE_*, OPENAI_API_KEY,
// ANTHROPIC_API_KEY), with a .env file loaded first when present.
//
// Example usage:
//
//	export OPENAI_API_KEY="<your-api-key>"
//	./signaltrace serve
//	./signaltrace analyze /var/log/app.log --json
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Gautam2086/SignalTrace/internal/config"
)

// Build information - set at build time via ldflags
// -X main.version=... -X main.commit=... -X main.builtBy=...
var (
	version = "dev"     // e.g., "v0.1.0" or "dev"
	commit  = "unknown" // Git commit SHA
	builtBy = "manual"  // "goreleaser" or "manual"
)

func main() {
	// Load .env file if it exists (optional, for development)
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "signaltrace",
		Short: "SignalTrace - log triage into ranked, explained incidents",
		Long: `SignalTrace parses a log file, clusters lines by normalized message
signature, ranks the resulting incidents by severity, frequency and
recency, and attaches sampled evidence and an explanation to each.`,
		Version:       fmt.Sprintf("%s (commit %s, built by %s)", version, commit, builtBy),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newMCPCmd())
	return root
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger initializes and returns a zap logger.
// It creates a production logger if ENVIRONMENT=production, otherwise
// a development logger. The level and encoding come from cfg. Logs always
// go to stderr so stdout stays free for CLI output and the MCP transport.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Environment == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	switch strings.ToLower(cfg.LogFormat) {
	case "console":
		zcfg.Encoding = "console"
	case "json":
		zcfg.Encoding = "json"
		zcfg.EncoderConfig = zap.NewProductionEncoderConfig()
	}
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	return zcfg.Build()
}
