package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gautam2086/SignalTrace/internal/model"
)

func (e *testEnv) analyze(t *testing.T) *model.RunDetail {
	t.Helper()
	res := e.call(t, "analyze_logs", map[string]interface{}{"log_text": sampleLog})
	require.False(t, res.IsError)
	var detail model.RunDetail
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &detail))
	return &detail
}

func (e *testEnv) prompt(t *testing.T, name string) *PromptDefinition {
	t.Helper()
	for _, p := range e.server.prompts {
		if p.Prompt.Name == name {
			return p
		}
	}
	t.Fatalf("prompt %s not registered", name)
	return nil
}

func promptText(t *testing.T, r *mcp.GetPromptResult) string {
	t.Helper()
	require.Len(t, r.Messages, 1)
	assert.Equal(t, mcp.Role("user"), r.Messages[0].Role)
	tc, ok := r.Messages[0].Content.(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestPromptNames(t *testing.T) {
	env := newTestEnv(t)

	var names []string
	for _, p := range env.server.prompts {
		names = append(names, p.Prompt.Name)
		assert.NotEmpty(t, p.Prompt.Description)
		assert.NotNil(t, p.Handler)
	}
	assert.Equal(t, []string{"triage_logs", "investigate_incident"}, names)
}

func TestTriageLogsPrompt(t *testing.T) {
	env := newTestEnv(t)
	p := env.prompt(t, "triage_logs")

	tests := []struct {
		name          string
		args          map[string]string
		wantInContent string
	}{
		{"fresh analysis", nil, "analyze_logs"},
		{"existing run", map[string]string{"run_id": "run-42"}, `get_run with run_id "run-42"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Arguments: tt.args}}
			result, err := p.Handler(context.Background(), req)
			require.NoError(t, err)
			text := promptText(t, result)
			assert.Contains(t, text, tt.wantInContent)
			assert.Contains(t, text, "get_incident")
		})
	}
}

func TestInvestigateIncidentPrompt(t *testing.T) {
	env := newTestEnv(t)
	detail := env.analyze(t)
	p := env.prompt(t, "investigate_incident")

	req := &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Arguments: map[string]string{
		"run_id":      detail.ID,
		"incident_id": detail.Incidents[0].ID,
	}}}
	result, err := p.Handler(context.Background(), req)
	require.NoError(t, err)

	text := promptText(t, result)
	assert.Contains(t, text, "Occurrences: 2")
	assert.Contains(t, text, "[Line 1]")
	assert.Contains(t, text, "[Line 2]")

	_, err = p.Handler(context.Background(), &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{}})
	assert.Error(t, err)

	req.Params.Arguments["incident_id"] = "missing"
	_, err = p.Handler(context.Background(), req)
	assert.Error(t, err)
}

func TestResources(t *testing.T) {
	env := newTestEnv(t)
	detail := env.analyze(t)
	registry := env.server.resources

	var uris []string
	handlers := map[string]mcp.ResourceHandler{}
	for _, r := range registry.GetResources() {
		uris = append(uris, r.Resource.URI)
		handlers[r.Resource.URI] = r.Handler
	}
	assert.Equal(t, []string{"signaltrace://runs", "metrics://server"}, uris)

	read := func(h mcp.ResourceHandler, uri string) (map[string]interface{}, error) {
		res, err := h(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: uri}})
		if err != nil {
			return nil, err
		}
		require.Len(t, res.Contents, 1)
		assert.Equal(t, uri, res.Contents[0].URI)
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &out))
		return out, nil
	}

	t.Run("recent runs", func(t *testing.T) {
		out, err := read(handlers["signaltrace://runs"], "signaltrace://runs")
		require.NoError(t, err)
		assert.Equal(t, float64(1), out["count"])
	})

	t.Run("metrics", func(t *testing.T) {
		out, err := read(handlers["metrics://server"], "metrics://server")
		require.NoError(t, err)
		runs := out["runs"].(map[string]interface{})
		assert.Equal(t, float64(1), runs["completed"])
		assert.Equal(t, float64(2), runs["incidents"])
	})

	t.Run("run template", func(t *testing.T) {
		templates := registry.GetResourceTemplates()
		require.Len(t, templates, 1)
		assert.Equal(t, "signaltrace://runs/{run_id}", templates[0].URITemplate)

		out, err := read(registry.templateHandler(), "signaltrace://runs/"+detail.ID)
		require.NoError(t, err)
		assert.Equal(t, detail.ID, out["run_id"])

		for _, uri := range []string{"signaltrace://runs/missing", "signaltrace://runs/", "other://runs/x"} {
			_, err := read(registry.templateHandler(), uri)
			assert.Error(t, err, uri)
		}
	})
}
