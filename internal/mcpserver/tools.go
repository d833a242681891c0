package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Gautam2086/SignalTrace/internal/audit"
	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/model"
)

// Service is the pipeline surface the tools call.
type Service interface {
	Analyze(ctx context.Context, filename string, data []byte) (*model.RunDetail, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.RunDetail, error)
	GetIncident(ctx context.Context, runID, incidentID string) (*model.Incident, error)
	DeleteRun(ctx context.Context, runID string) error
}

// baseTool carries what every tool needs.
type baseTool struct {
	svc      Service
	audit    *audit.Logger
	logger   *zap.Logger
	maxBytes int64
}

func (b *baseTool) record(ctx context.Context, action, runID, incidentID string, count int, start time.Time, err error) {
	b.audit.LogAction(ctx, audit.SurfaceMCP, action, runID, incidentID, count, time.Since(start), err)
}

// AnalyzeLogsTool runs the triage pipeline over log text.
type AnalyzeLogsTool struct{ *baseTool }

func (t *AnalyzeLogsTool) Name() string { return "analyze_logs" }

func (t *AnalyzeLogsTool) Annotations() *mcp.ToolAnnotations {
	return CreateAnnotations("Analyze Logs")
}

func (t *AnalyzeLogsTool) Description() string {
	return `Analyze raw log text: group lines into incidents by normalized message signature, rank them by severity, frequency and recency, and attach sampled evidence and an explanation to each.

Returns the run id and the ranked incident summaries. Use get_incident for evidence and explanation of a single incident.`
}

func (t *AnalyzeLogsTool) InputSchema() interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"log_text": map[string]interface{}{
				"type":        "string",
				"description": "Full contents of one log file",
			},
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Name recorded with the run (default: mcp-upload.log)",
			},
		},
		"required": []string{"log_text"},
	}
}

func (t *AnalyzeLogsTool) DefaultTimeout() time.Duration { return 5 * time.Minute }

func (t *AnalyzeLogsTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	start := time.Now()

	// An empty log_text is a valid (empty) file; only absence is an error.
	if _, ok := arguments["log_text"]; !ok {
		return paramErrorResult(apperrors.NewMissingParameter("log_text")), nil
	}
	text, err := GetStringParam(arguments, "log_text", false)
	if err != nil {
		return paramErrorResult(err), nil
	}
	if t.maxBytes > 0 && int64(len(text)) > t.maxBytes {
		err := apperrors.NewUploadError(fmt.Sprintf("log_text exceeds the %d byte limit", t.maxBytes))
		t.record(ctx, audit.ActionAnalyze, "", "", 0, start, err)
		return errorResult(err), nil
	}
	filename, err := GetStringParam(arguments, "filename", false)
	if err != nil {
		return paramErrorResult(err), nil
	}
	if filename == "" {
		filename = "mcp-upload.log"
	}

	detail, err := t.svc.Analyze(ctx, filename, []byte(text))
	if err != nil {
		t.record(ctx, audit.ActionAnalyze, "", "", 0, start, err)
		return errorResult(err), nil
	}
	t.record(ctx, audit.ActionAnalyze, detail.ID, "", detail.NumIncidents, start, nil)
	return jsonResult(detail)
}

// ListRunsTool lists recent runs.
type ListRunsTool struct{ *baseTool }

func (t *ListRunsTool) Name() string { return "list_runs" }

func (t *ListRunsTool) Annotations() *mcp.ToolAnnotations {
	return ReadOnlyAnnotations("List Runs")
}

func (t *ListRunsTool) Description() string {
	return "List previous analysis runs, most recent first."
}

func (t *ListRunsTool) InputSchema() interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of runs to return (default 50, max 500)",
				"minimum":     1,
			},
		},
	}
}

func (t *ListRunsTool) DefaultTimeout() time.Duration { return 30 * time.Second }

func (t *ListRunsTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	start := time.Now()

	limit, err := GetIntParam(arguments, "limit", false)
	if err != nil {
		return paramErrorResult(err), nil
	}
	if limit < 0 {
		return NewToolResultError("limit must be a positive integer"), nil
	}

	runs, err := t.svc.ListRuns(ctx, limit)
	t.record(ctx, audit.ActionListRuns, "", "", len(runs), start, err)
	if err != nil {
		return errorResult(err), nil
	}
	if runs == nil {
		runs = []model.Run{}
	}
	return jsonResult(map[string]interface{}{"runs": runs, "count": len(runs)})
}

// GetRunTool returns one run with its incident summaries.
type GetRunTool struct{ *baseTool }

func (t *GetRunTool) Name() string { return "get_run" }

func (t *GetRunTool) Annotations() *mcp.ToolAnnotations {
	return ReadOnlyAnnotations("Get Run")
}

func (t *GetRunTool) Description() string {
	return "Get a run's metadata and its ranked incident summaries."
}

func (t *GetRunTool) InputSchema() interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"run_id": map[string]interface{}{
				"type":        "string",
				"description": "Run identifier returned by analyze_logs or list_runs",
			},
		},
		"required": []string{"run_id"},
	}
}

func (t *GetRunTool) DefaultTimeout() time.Duration { return 30 * time.Second }

func (t *GetRunTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	start := time.Now()

	runID, err := GetStringParam(arguments, "run_id", true)
	if err != nil {
		return paramErrorResult(err), nil
	}

	detail, err := t.svc.GetRun(ctx, runID)
	if err != nil {
		t.record(ctx, audit.ActionGetRun, runID, "", 0, start, err)
		if apperrors.HasCode(err, apperrors.CodeResourceNotFound) {
			return NewToolResultErrorWithSuggestion(
				fmt.Sprintf("Run not found with ID: %s", runID),
				"Use 'list_runs' to see available runs and their IDs.",
			), nil
		}
		return errorResult(err), nil
	}
	t.record(ctx, audit.ActionGetRun, runID, "", len(detail.Incidents), start, nil)
	return jsonResult(detail)
}

// GetIncidentTool returns one incident with evidence and explanation.
type GetIncidentTool struct{ *baseTool }

func (t *GetIncidentTool) Name() string { return "get_incident" }

func (t *GetIncidentTool) Annotations() *mcp.ToolAnnotations {
	return ReadOnlyAnnotations("Get Incident")
}

func (t *GetIncidentTool) Description() string {
	return "Get one incident in full: statistics, sampled evidence lines, the explanation and whether the explanation came from the LLM."
}

func (t *GetIncidentTool) InputSchema() interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"run_id": map[string]interface{}{
				"type":        "string",
				"description": "Run identifier",
			},
			"incident_id": map[string]interface{}{
				"type":        "string",
				"description": "Incident identifier from the run's incident list",
			},
		},
		"required": []string{"run_id", "incident_id"},
	}
}

func (t *GetIncidentTool) DefaultTimeout() time.Duration { return 30 * time.Second }

func (t *GetIncidentTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	start := time.Now()

	runID, err := GetStringParam(arguments, "run_id", true)
	if err != nil {
		return paramErrorResult(err), nil
	}
	incidentID, err := GetStringParam(arguments, "incident_id", true)
	if err != nil {
		return paramErrorResult(err), nil
	}

	inc, err := t.svc.GetIncident(ctx, runID, incidentID)
	t.record(ctx, audit.ActionGetIncident, runID, incidentID, 0, start, err)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeResourceNotFound) {
			return NewToolResultErrorWithSuggestion(
				fmt.Sprintf("Incident %s not found in run %s", incidentID, runID),
				"Use 'get_run' to list the incidents of a run.",
			), nil
		}
		return errorResult(err), nil
	}
	return jsonResult(inc)
}

// DeleteRunTool removes a run and its incidents.
type DeleteRunTool struct{ *baseTool }

func (t *DeleteRunTool) Name() string { return "delete_run" }

func (t *DeleteRunTool) Annotations() *mcp.ToolAnnotations {
	return DeleteAnnotations("Delete Run")
}

func (t *DeleteRunTool) Description() string {
	return "Permanently delete a run and all of its incidents."
}

func (t *DeleteRunTool) InputSchema() interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"run_id": map[string]interface{}{
				"type":        "string",
				"description": "Run identifier",
			},
		},
		"required": []string{"run_id"},
	}
}

func (t *DeleteRunTool) DefaultTimeout() time.Duration { return 30 * time.Second }

func (t *DeleteRunTool) Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	start := time.Now()

	runID, err := GetStringParam(arguments, "run_id", true)
	if err != nil {
		return paramErrorResult(err), nil
	}

	err = t.svc.DeleteRun(ctx, runID)
	t.record(ctx, audit.ActionDeleteRun, runID, "", 0, start, err)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]interface{}{"deleted": true, "run_id": runID})
}
