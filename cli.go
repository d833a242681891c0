package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Gautam2086/SignalTrace/internal/audit"
	"github.com/Gautam2086/SignalTrace/internal/config"
	"github.com/Gautam2086/SignalTrace/internal/model"
	"github.com/Gautam2086/SignalTrace/internal/server"
)

// setup loads configuration and builds the logger and server.
func setup(apply func(*config.Config)) (*server.Server, *zap.Logger, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if apply != nil {
		apply(cfg)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting SignalTrace",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("built_by", builtBy),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.Bool("llm_enabled", cfg.GeneratorEnabled()),
	)

	srv, err := server.New(cfg, logger, version)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return srv, logger, cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the analysis API under /api (analyze, runs, incidents, health,
readiness, audit) and Prometheus metrics on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, logger, _, err := setup(func(c *config.Config) {
				if addr != "" {
					c.ListenAddr = addr
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() {
				if err := srv.Close(); err != nil {
					logger.Error("Shutdown cleanup failed", zap.Error(err))
				}
			}()

			ctx, cancel := signalContext(logger)
			defer cancel()

			if err := srv.RunHTTP(ctx); err != nil {
				logger.Error("Server error", zap.Error(err))
				return err
			}
			logger.Info("Server shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides SIGNALTRACE_LISTEN_ADDR)")
	return cmd
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipeline as MCP tools over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
analyze_logs, list_runs, get_run, get_incident and delete_run tools, the
triage_logs and investigate_incident prompts, and run and metrics resources.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, logger, _, err := setup(nil)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() {
				if err := srv.Close(); err != nil {
					logger.Error("Shutdown cleanup failed", zap.Error(err))
				}
			}()

			ctx, cancel := signalContext(logger)
			defer cancel()
			return srv.RunMCP(ctx)
		},
	}
}

func newAnalyzeCmd() *cobra.Command {
	var (
		asJSON   bool
		withDocs bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze one log file and print the ranked incidents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- user-supplied CLI path
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			srv, logger, cfg, err := setup(nil)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = srv.Close() }()

			if int64(len(data)) > cfg.MaxUploadBytes {
				return fmt.Errorf("%s is %d bytes, over the %d byte limit", path, len(data), cfg.MaxUploadBytes)
			}

			ctx, cancel := signalContext(logger)
			defer cancel()

			start := time.Now()
			orch := srv.Pipeline()
			detail, err := orch.Analyze(ctx, filepath.Base(path), data)
			srv.Audit().LogAction(ctx, audit.SurfaceCLI, audit.ActionAnalyze, runIDOf(detail), "", numIncidents(detail), time.Since(start), err)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !asJSON {
				return renderTable(out, detail)
			}
			if !withDocs {
				return writeJSON(out, detail)
			}

			incidents := make([]*model.Incident, 0, len(detail.Incidents))
			for _, sum := range detail.Incidents {
				inc, err := orch.GetIncident(ctx, detail.ID, sum.ID)
				if err != nil {
					return err
				}
				incidents = append(incidents, inc)
			}
			return writeJSON(out, struct {
				model.Run
				Incidents []*model.Incident `json:"incidents"`
			}{detail.Run, incidents})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&withDocs, "full", false, "With --json, include evidence and explanation for every incident")
	return cmd
}

func runIDOf(d *model.RunDetail) string {
	if d == nil {
		return ""
	}
	return d.ID
}

func numIncidents(d *model.RunDetail) int {
	if d == nil {
		return 0
	}
	return d.NumIncidents
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderTable prints the run header and one row per incident.
func renderTable(w io.Writer, d *model.RunDetail) error {
	fmt.Fprintf(w, "Run %s  %s  %d lines  %d incidents\n\n", d.ID, d.Filename, d.NumLines, d.NumIncidents)
	if len(d.Incidents) == 0 {
		_, err := fmt.Fprintln(w, "No incidents found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPRIORITY\tSEVERITY\tCOUNT\tSCORE\tSERVICES\tTITLE")
	for _, inc := range d.Incidents {
		services := "-"
		if len(inc.Services) > 0 {
			services = strings.Join(inc.Services, ",")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%.3f\t%s\t%s\n",
			inc.Rank, inc.Priority, inc.Severity.OrUnknown(), inc.Count, inc.Score, services, inc.Title)
	}
	return tw.Flush()
}
