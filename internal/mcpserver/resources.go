package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/metrics"
)

const (
	runsURI        = "signaltrace://runs"
	runURIPrefix   = "signaltrace://runs/"
	metricsURI     = "metrics://server"
	recentRunLimit = 20
)

// RegisteredResource pairs a static resource with its handler.
type RegisteredResource struct {
	Resource *mcp.Resource
	Handler  mcp.ResourceHandler
}

type resourceRegistry struct {
	svc     Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// GetResources returns the static resources.
func (r *resourceRegistry) GetResources() []RegisteredResource {
	return []RegisteredResource{
		r.recentRunsResource(),
		r.metricsResource(),
	}
}

// GetResourceTemplates returns the parameterized resources.
func (r *resourceRegistry) GetResourceTemplates() []*mcp.ResourceTemplate {
	return []*mcp.ResourceTemplate{
		{
			URITemplate: runURIPrefix + "{run_id}",
			Name:        "Analysis Run",
			Description: "A stored run with its ranked incident summaries",
			MIMEType:    "application/json",
		},
	}
}

func (r *resourceRegistry) recentRunsResource() RegisteredResource {
	return RegisteredResource{
		Resource: &mcp.Resource{
			URI:         runsURI,
			Name:        runsURI,
			Title:       "Recent Runs",
			Description: "The most recent analysis runs, newest first",
			MIMEType:    "application/json",
		},
		Handler: func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			runs, err := r.svc.ListRuns(ctx, recentRunLimit)
			if err != nil {
				return nil, err
			}
			return r.jsonContents(runsURI, map[string]interface{}{"runs": runs, "count": len(runs)})
		},
	}
}

func (r *resourceRegistry) metricsResource() RegisteredResource {
	return RegisteredResource{
		Resource: &mcp.Resource{
			URI:         metricsURI,
			Name:        metricsURI,
			Title:       "Server Metrics",
			Description: "Run, explanation and tool usage counters for this process",
			MIMEType:    "application/json",
		},
		Handler: func(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			stats := r.metrics.GetStats()
			return r.jsonContents(metricsURI, map[string]interface{}{
				"runs": map[string]interface{}{
					"completed": stats.RunsCompleted,
					"failed":    stats.RunsFailed,
					"lines":     stats.LinesParsed,
					"incidents": stats.IncidentsProduced,
				},
				"explanations": stats.ExplanationOutcomes,
				"generator": map[string]interface{}{
					"requests":        stats.TotalRequests,
					"failed":          stats.FailedRequests,
					"rate_limit_hits": stats.RateLimitHits,
					"average_ms":      stats.AverageLatency.Milliseconds(),
				},
				"tools": map[string]interface{}{
					"usage":  stats.ToolUsage,
					"errors": stats.ToolErrors,
				},
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		},
	}
}

// templateHandler serves signaltrace://runs/{run_id}.
func (r *resourceRegistry) templateHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		uri := req.Params.URI
		runID := strings.TrimPrefix(uri, runURIPrefix)
		if runID == uri || runID == "" || strings.Contains(runID, "/") {
			return nil, mcp.ResourceNotFoundError(uri)
		}

		detail, err := r.svc.GetRun(ctx, runID)
		if err != nil {
			if apperrors.HasCode(err, apperrors.CodeResourceNotFound) {
				return nil, mcp.ResourceNotFoundError(uri)
			}
			return nil, err
		}
		return r.jsonContents(uri, detail)
	}
}

func (r *resourceRegistry) jsonContents(uri string, v interface{}) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		r.logger.Error("Failed to marshal resource", zap.String("uri", uri), zap.Error(err))
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
