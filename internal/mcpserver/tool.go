package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
)

// Tool defines the interface that all MCP tools must implement.
type Tool interface {
	// Name returns the unique identifier for this tool
	Name() string

	// Description returns a human-readable description of what this tool does
	Description() string

	// InputSchema returns the JSON Schema for the tool's input parameters
	InputSchema() interface{}

	// Execute runs the tool with the given arguments and returns the result
	Execute(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error)

	// Annotations returns optional hints about tool behavior for LLMs.
	Annotations() *mcp.ToolAnnotations

	// DefaultTimeout returns the execution budget for this tool. Zero means
	// no limit beyond the caller's context.
	DefaultTimeout() time.Duration
}

func boolPtr(b bool) *bool {
	return &b
}

// ReadOnlyAnnotations returns annotations for tools that only read runs.
func ReadOnlyAnnotations(title string) *mcp.ToolAnnotations {
	return &mcp.ToolAnnotations{
		Title:          title,
		ReadOnlyHint:   true,
		IdempotentHint: true,
		OpenWorldHint:  boolPtr(false),
	}
}

// CreateAnnotations returns annotations for tools that create a new run.
func CreateAnnotations(title string) *mcp.ToolAnnotations {
	return &mcp.ToolAnnotations{
		Title:           title,
		ReadOnlyHint:    false,
		DestructiveHint: boolPtr(false),
		IdempotentHint:  false, // Analyzing twice creates two runs
		OpenWorldHint:   boolPtr(false),
	}
}

// DeleteAnnotations returns annotations for tools that remove runs.
func DeleteAnnotations(title string) *mcp.ToolAnnotations {
	return &mcp.ToolAnnotations{
		Title:           title,
		ReadOnlyHint:    false,
		DestructiveHint: boolPtr(true),
		IdempotentHint:  true,
		OpenWorldHint:   boolPtr(false),
	}
}

// GetStringParam safely gets a string parameter from arguments
func GetStringParam(arguments map[string]interface{}, key string, required bool) (string, error) {
	val, ok := arguments[key]
	if !ok || val == nil {
		if required {
			return "", apperrors.NewMissingParameter(key)
		}
		return "", nil
	}

	switch v := val.(type) {
	case string:
		if required && v == "" {
			return "", apperrors.NewMissingParameter(key)
		}
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("invalid type for argument %s: expected string, got %T", key, val)
	}
}

// GetIntParam safely gets an integer parameter from arguments
func GetIntParam(arguments map[string]interface{}, key string, required bool) (int, error) {
	val, ok := arguments[key]
	if !ok || val == nil {
		if required {
			return 0, apperrors.NewMissingParameter(key)
		}
		return 0, nil
	}

	switch v := val.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("invalid type for argument %s: expected number, got %T", key, val)
	}
}

// NewToolResultError creates a new tool result with an error message
func NewToolResultError(message string) *mcp.CallToolResult {
	if message == "" {
		message = "An unknown error occurred"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
		IsError: true,
	}
}

// NewToolResultErrorWithSuggestion creates a tool result with an error and recovery guidance
func NewToolResultErrorWithSuggestion(message, suggestion string) *mcp.CallToolResult {
	if suggestion == "" {
		return NewToolResultError(message)
	}
	return NewToolResultError(fmt.Sprintf("%s\n\nSuggestion: %s", message, suggestion))
}

// errorResult converts a pipeline error into a tool error result. Errors
// without a structured code are reported generically.
func errorResult(err error) *mcp.CallToolResult {
	if se, ok := apperrors.As(err); ok {
		return NewToolResultErrorWithSuggestion(fmt.Sprintf("%s (%s)", se.Message, se.Code), se.Suggestion)
	}
	return NewToolResultError("Internal error while handling the request")
}

// paramErrorResult reports an argument error, keeping the code and
// suggestion of structured errors.
func paramErrorResult(err error) *mcp.CallToolResult {
	if _, ok := apperrors.As(err); ok {
		return errorResult(err)
	}
	return NewToolResultError(err.Error())
}

// jsonResult renders v as indented JSON text content.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}
