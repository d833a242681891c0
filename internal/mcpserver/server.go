// Package mcpserver exposes the analysis pipeline over MCP stdio as tools,
// prompts and resources.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Gautam2086/SignalTrace/internal/audit"
	"github.com/Gautam2086/SignalTrace/internal/metrics"
	"github.com/Gautam2086/SignalTrace/internal/tracing"
)

// Options configure the MCP server.
type Options struct {
	Version       string
	MaxInputBytes int64
	Audit         *audit.Logger
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// Server represents the MCP server
type Server struct {
	mcpServer *mcp.Server
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tools     []Tool
	prompts   []*PromptDefinition
	resources *resourceRegistry
}

// New creates a new MCP server backed by svc.
func New(svc Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("mcp")

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "SignalTrace",
		Version: opts.Version,
	}, &mcp.ServerOptions{
		HasTools:     true,
		HasPrompts:   true,
		HasResources: true,
	})

	s := &Server{
		mcpServer: mcpServer,
		logger:    logger,
		metrics:   opts.Metrics,
	}

	base := &baseTool{svc: svc, audit: opts.Audit, logger: logger, maxBytes: opts.MaxInputBytes}
	s.registerTool(&AnalyzeLogsTool{base})
	s.registerTool(&ListRunsTool{base})
	s.registerTool(&GetRunTool{base})
	s.registerTool(&GetIncidentTool{base})
	s.registerTool(&DeleteRunTool{base})

	logger.Info("Registered MCP tools", zap.Int("count", len(s.tools)))

	s.registerPrompts(newPrompts(svc))
	s.registerResources(&resourceRegistry{svc: svc, metrics: opts.Metrics, logger: logger})
	return s
}

// Tools returns the registered tools in registration order.
func (s *Server) Tools() []Tool {
	return s.tools
}

// registerTool adds t to the MCP server with tracing, metrics and a
// per-tool timeout around Execute.
func (s *Server) registerTool(t Tool) {
	s.tools = append(s.tools, t)
	s.mcpServer.AddTool(&mcp.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.InputSchema(),
		Annotations: t.Annotations(),
	}, s.handler(t))
	s.logger.Debug("Registered tool", zap.String("tool", t.Name()))
}

func (s *Server) registerPrompts(prompts []*PromptDefinition) {
	for _, p := range prompts {
		s.mcpServer.AddPrompt(p.Prompt, p.Handler)
		s.logger.Debug("Registered prompt", zap.String("prompt", p.Prompt.Name))
	}
	s.prompts = prompts
	s.logger.Info("Registered MCP prompts", zap.Int("count", len(prompts)))
}

func (s *Server) registerResources(registry *resourceRegistry) {
	for _, r := range registry.GetResources() {
		s.mcpServer.AddResource(r.Resource, r.Handler)
		s.logger.Debug("Registered resource", zap.String("uri", r.Resource.URI))
	}

	handler := registry.templateHandler()
	for _, t := range registry.GetResourceTemplates() {
		s.mcpServer.AddResourceTemplate(t, handler)
		s.logger.Debug("Registered resource template", zap.String("uri_template", t.URITemplate))
	}
	s.resources = registry

	s.logger.Info("Registered MCP resources",
		zap.Int("static_count", len(registry.GetResources())),
		zap.Int("template_count", len(registry.GetResourceTemplates())),
	)
}

func (s *Server) handler(t Tool) mcp.ToolHandler {
	toolName := t.Name()
	return func(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		ctx, span := tracing.ToolSpan(ctx, toolName)
		defer span.End()
		ctx = tracing.EnsureTraceContext(ctx, "")

		if timeout := t.DefaultTimeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		var args map[string]interface{}
		if request != nil && request.Params != nil && len(request.Params.Arguments) > 0 {
			if err := json.Unmarshal(request.Params.Arguments, &args); err != nil {
				s.metrics.RecordToolExecution(toolName, false, time.Since(start))
				tracing.RecordError(span, err)
				return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
			}
		}
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := t.Execute(ctx, args)
		success := err == nil && (result == nil || !result.IsError)
		s.metrics.RecordToolExecution(toolName, success, time.Since(start))
		if success {
			tracing.SetSuccess(span)
		} else {
			tracing.RecordError(span, err)
		}
		return result, err
	}
}

// Run serves MCP over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server")
	defer s.metrics.LogStats()
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
