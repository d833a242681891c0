package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Gautam2086/SignalTrace/internal/explain"
)

// PromptDefinition pairs prompt metadata with the handler that renders it.
type PromptDefinition struct {
	Prompt  *mcp.Prompt
	Handler mcp.PromptHandler
}

func newPrompts(svc Service) []*PromptDefinition {
	return []*PromptDefinition{
		triageRunPrompt(),
		investigateIncidentPrompt(svc),
	}
}

func createPromptResult(description, content string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: content},
			},
		},
	}
}

func getStringArg(args map[string]string, key, defaultVal string) string {
	if val, ok := args[key]; ok && val != "" {
		return val
	}
	return defaultVal
}

func triageRunPrompt() *PromptDefinition {
	return &PromptDefinition{
		Prompt: &mcp.Prompt{
			Name:        "triage_logs",
			Title:       "Triage Logs",
			Description: "Workflow for analyzing a log file and walking its incidents from most to least urgent",
			Arguments: []*mcp.PromptArgument{
				{
					Name:        "run_id",
					Description: "Existing run to review; omit to start with a fresh analysis",
					Required:    false,
				},
			},
		},
		Handler: func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			var args map[string]string
			if req != nil && req.Params != nil {
				args = req.Params.Arguments
			}
			runID := getStringArg(args, "run_id", "")

			var b strings.Builder
			if runID == "" {
				b.WriteString("Let's triage a log file. Start by running analyze_logs with the full log text.\n")
				b.WriteString("The result lists incidents ranked by score; rank 1 is the most urgent.\n\n")
			} else {
				fmt.Fprintf(&b, "Let's review run %s. Start by running get_run with run_id %q.\n\n", runID, runID)
			}
			b.WriteString(`Then, for each of the top incidents:

1. Run get_incident to read its evidence lines and explanation
2. Check whether the explanation was produced by the LLM (validation.used_llm) or synthesized from statistics
3. Quote the cited evidence line numbers when summarizing likely causes
4. Collect the recommended next steps into a single action list

Finish with a short summary ordered by urgency.`)

			return createPromptResult("Log triage workflow", b.String()), nil
		},
	}
}

func investigateIncidentPrompt(svc Service) *PromptDefinition {
	return &PromptDefinition{
		Prompt: &mcp.Prompt{
			Name:        "investigate_incident",
			Title:       "Investigate Incident",
			Description: "Deep dive into one incident using its statistics and sampled evidence",
			Arguments: []*mcp.PromptArgument{
				{Name: "run_id", Description: "Run containing the incident", Required: true},
				{Name: "incident_id", Description: "Incident to investigate", Required: true},
			},
		},
		Handler: func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			var args map[string]string
			if req != nil && req.Params != nil {
				args = req.Params.Arguments
			}
			runID := getStringArg(args, "run_id", "")
			incidentID := getStringArg(args, "incident_id", "")
			if runID == "" || incidentID == "" {
				return nil, fmt.Errorf("run_id and incident_id are required")
			}

			inc, err := svc.GetIncident(ctx, runID, incidentID)
			if err != nil {
				return nil, err
			}

			content := explain.BuildUserPrompt(inc) + `

Work through this incident:
1. State what the evidence shows, citing line numbers
2. Rank the plausible causes and say which evidence supports each
3. Propose concrete next steps to confirm or rule out each cause`
			return createPromptResult(fmt.Sprintf("Investigate incident %s", incidentID), content), nil
		},
	}
}
