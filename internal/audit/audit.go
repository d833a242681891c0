// Package audit records who analyzed, read or deleted which run, through
// which surface, and how it went. Entries go to the structured log and to a
// bounded in-memory buffer served by the API.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/security"
	"github.com/Gautam2086/SignalTrace/internal/tracing"
)

// Surfaces an action can arrive through.
const (
	SurfaceHTTP = "http"
	SurfaceMCP  = "mcp"
	SurfaceCLI  = "cli"
)

// Actions recorded by the audit log.
const (
	ActionAnalyze     = "analyze"
	ActionListRuns    = "list_runs"
	ActionGetRun      = "get_run"
	ActionGetIncident = "get_incident"
	ActionDeleteRun   = "delete_run"
)

// DefaultMaxEntries is the size of the in-memory buffer.
const DefaultMaxEntries = 1000

// Entry represents a single audit log entry
type Entry struct {
	Timestamp   time.Time              `json:"timestamp"`
	TraceID     string                 `json:"trace_id"`
	SpanID      string                 `json:"span_id,omitempty"`
	Surface     string                 `json:"surface"`
	Action      string                 `json:"action"`
	RunID       string                 `json:"run_id,omitempty"`
	IncidentID  string                 `json:"incident_id,omitempty"`
	Success     bool                   `json:"success"`
	Duration    time.Duration          `json:"duration_ms"`
	ErrorCode   string                 `json:"error_code,omitempty"`
	ErrorMsg    string                 `json:"error_message,omitempty"`
	ResultCount int                    `json:"result_count,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Logger handles audit logging. A nil *Logger discards entries.
type Logger struct {
	enabled bool
	logger  *zap.Logger

	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
}

// NewLogger creates a new audit logger
func NewLogger(logger *zap.Logger, enabled bool) *Logger {
	return &Logger{
		enabled:    enabled,
		logger:     logger.Named("audit"),
		entries:    make([]Entry, 0, 64),
		maxEntries: DefaultMaxEntries,
	}
}

// Log records an audit entry
func (l *Logger) Log(ctx context.Context, entry Entry) {
	if l == nil || !l.enabled {
		return
	}

	traceInfo := tracing.FromContext(ctx)
	if traceInfo.TraceID != "" {
		entry.TraceID = traceInfo.TraceID
	}
	if traceInfo.SpanID != "" {
		entry.SpanID = traceInfo.SpanID
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.Time("timestamp", entry.Timestamp),
		zap.String("trace_id", entry.TraceID),
		zap.String("surface", entry.Surface),
		zap.String("action", entry.Action),
		zap.Bool("success", entry.Success),
		zap.Duration("duration", entry.Duration),
	}
	if entry.RunID != "" {
		fields = append(fields, zap.String("run_id", entry.RunID))
	}
	if entry.IncidentID != "" {
		fields = append(fields, zap.String("incident_id", entry.IncidentID))
	}
	if entry.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", entry.ErrorCode))
	}
	if entry.ErrorMsg != "" {
		fields = append(fields, zap.String("error_message", entry.ErrorMsg))
	}
	if entry.ResultCount > 0 {
		fields = append(fields, zap.Int("result_count", entry.ResultCount))
	}
	if len(entry.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", entry.Metadata))
	}

	l.logger.Info("audit", fields...)

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.maxEntries {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
}

// LogAction is a convenience method for recording one surface action. The
// error, if any, is masked and its structured code extracted.
func (l *Logger) LogAction(ctx context.Context, surface, action, runID, incidentID string, resultCount int, duration time.Duration, err error) {
	if l == nil {
		return
	}
	entry := Entry{
		Surface:     surface,
		Action:      action,
		RunID:       runID,
		IncidentID:  incidentID,
		Success:     err == nil,
		Duration:    duration,
		ResultCount: resultCount,
	}
	if err != nil {
		entry.ErrorMsg = security.SanitizeError(err)
		if se, ok := apperrors.As(err); ok {
			entry.ErrorCode = string(se.Code)
		}
	}
	l.Log(ctx, entry)
}

// GetRecentEntries returns the most recent audit entries, newest first.
func (l *Logger) GetRecentEntries(limit int) []Entry {
	if l == nil {
		return []Entry{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}

	result := make([]Entry, limit)
	copy(result, l.entries[len(l.entries)-limit:])

	// Reverse to get newest first
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// GetEntriesByRun returns audit entries for one run, newest first.
func (l *Logger) GetEntriesByRun(runID string, limit int) []Entry {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Entry
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if l.entries[i].RunID == runID {
			result = append(result, l.entries[i])
		}
	}
	return result
}

// GetEntriesByTraceID returns all entries for a specific trace
func (l *Logger) GetEntriesByTraceID(traceID string) []Entry {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Entry
	for _, entry := range l.entries {
		if entry.TraceID == traceID {
			result = append(result, entry)
		}
	}
	return result
}

// GetStats returns statistics about audit entries
func (l *Logger) GetStats() Stats {
	stats := Stats{
		ActionCounts:  make(map[string]int),
		SurfaceCounts: make(map[string]int),
		ErrorCounts:   make(map[string]int),
	}
	if l == nil {
		return stats
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats.TotalEntries = len(l.entries)

	var successCount int
	var totalDuration time.Duration
	for _, entry := range l.entries {
		stats.ActionCounts[entry.Action]++
		stats.SurfaceCounts[entry.Surface]++
		if entry.Success {
			successCount++
		} else if entry.ErrorCode != "" {
			stats.ErrorCounts[entry.ErrorCode]++
		}
		totalDuration += entry.Duration
	}

	if len(l.entries) > 0 {
		stats.SuccessRate = float64(successCount) / float64(len(l.entries)) * 100
		stats.AverageDuration = totalDuration / time.Duration(len(l.entries))
	}
	return stats
}

// Stats contains aggregated audit statistics
type Stats struct {
	TotalEntries    int            `json:"total_entries"`
	SuccessRate     float64        `json:"success_rate_pct"`
	AverageDuration time.Duration  `json:"average_duration"`
	ActionCounts    map[string]int `json:"action_counts"`
	SurfaceCounts   map[string]int `json:"surface_counts"`
	ErrorCounts     map[string]int `json:"error_counts"`
}

// IsEnabled returns whether audit logging is enabled
func (l *Logger) IsEnabled() bool {
	return l != nil && l.enabled
}
