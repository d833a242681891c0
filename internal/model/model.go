// Package model holds the entities shared by the triage pipeline, the
// store and the API: log records, incidents, runs and their sub-blocks.
package model

import "time"

// Record is one parsed log line. Only LineNumber, Raw and Message are
// guaranteed to be set.
type Record struct {
	LineNumber int        `json:"line_number"`
	Raw        string     `json:"raw"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Level      Level      `json:"level,omitempty"`
	Service    string     `json:"service,omitempty"`
	Message    string     `json:"message"`
}

// Priority is the P0..P3 bucket derived from score and severity.
type Priority string

const (
	P0 Priority = "P0"
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"
)

// Run is one analysis invocation.
type Run struct {
	ID           string    `json:"run_id"`
	CreatedAt    time.Time `json:"created_at"`
	Filename     string    `json:"filename"`
	NumLines     int       `json:"num_lines"`
	NumIncidents int       `json:"num_incidents"`
}

// Stats is the per-incident statistics block.
type Stats struct {
	TotalCount           int           `json:"total_count"`
	ErrorCount           int           `json:"error_count"`
	WarnCount            int           `json:"warn_count"`
	SeverityHistogram    map[Level]int `json:"severity_histogram"`
	Services             []string      `json:"services"`
	TimeSpanSeconds      *float64      `json:"time_span_seconds"`
	OccurrencesPerMinute *float64      `json:"occurrences_per_minute"`
}

// EvidenceLine is one sampled raw line.
type EvidenceLine struct {
	LineNumber int        `json:"line_number"`
	Timestamp  *time.Time `json:"timestamp"`
	Level      Level      `json:"level"`
	Service    string     `json:"service,omitempty"`
	Message    string     `json:"message"`
	Raw        string     `json:"raw_line"`
}

// Evidence is the bounded sample of lines backing an incident.
type Evidence struct {
	SampleLines []EvidenceLine `json:"sample_lines"`
	TopMessages []string       `json:"top_messages"`
	FirstSeen   *time.Time     `json:"first_seen"`
	LastSeen    *time.Time     `json:"last_seen"`
}

// LineNumbers returns the sampled line numbers in order.
func (e *Evidence) LineNumbers() []int {
	if e == nil {
		return nil
	}
	out := make([]int, len(e.SampleLines))
	for i, l := range e.SampleLines {
		out[i] = l.LineNumber
	}
	return out
}

// Cause is one likely-cause hypothesis.
type Cause struct {
	Hypothesis          string `json:"hypothesis"`
	EvidenceLineNumbers []int  `json:"evidence_line_numbers"`
}

// Explanation is the structured analysis attached to an incident.
type Explanation struct {
	Title                 string   `json:"incident_title"`
	WhatHappened          string   `json:"what_happened"`
	LikelyCauses          []Cause  `json:"likely_causes"`
	RecommendedNextSteps  []string `json:"recommended_next_steps"`
	Caveats               []string `json:"caveats"`
	Confidence            string   `json:"confidence"`
	ReferencedLineNumbers []int    `json:"referenced_line_numbers"`
}

// Incident is a cluster of records sharing a signature within one run.
type Incident struct {
	ID               string       `json:"incident_id"`
	RunID            string       `json:"run_id"`
	Rank             int          `json:"rank"`
	Signature        string       `json:"signature"`
	Score            float64      `json:"score"`
	Priority         Priority     `json:"priority"`
	Severity         Level        `json:"severity"`
	Title            string       `json:"title"`
	Count            int          `json:"count"`
	Services         []string     `json:"services"`
	FirstSeen        *time.Time   `json:"first_seen"`
	LastSeen         *time.Time   `json:"last_seen"`
	Stats            Stats        `json:"stats"`
	Evidence         *Evidence    `json:"evidence"`
	Explanation      *Explanation `json:"explanation"`
	UsedLLM          bool         `json:"used_llm"`
	ValidationErrors []string     `json:"validation_errors"`

	// Members are the records of the cluster in line order. They feed the
	// evidence sampler and are never persisted.
	Members []Record `json:"-"`
}

// IncidentSummary is the lightweight view returned by list endpoints.
type IncidentSummary struct {
	ID        string     `json:"incident_id"`
	Rank      int        `json:"rank"`
	Title     string     `json:"title"`
	Severity  Level      `json:"severity"`
	Priority  Priority   `json:"priority"`
	Score     float64    `json:"score"`
	Count     int        `json:"count"`
	Services  []string   `json:"services"`
	FirstSeen *time.Time `json:"first_seen"`
	LastSeen  *time.Time `json:"last_seen"`
	UsedLLM   bool       `json:"used_llm"`
}

// Summary projects an incident onto its summary view.
func (i *Incident) Summary() IncidentSummary {
	return IncidentSummary{
		ID:        i.ID,
		Rank:      i.Rank,
		Title:     i.Title,
		Severity:  i.Severity,
		Priority:  i.Priority,
		Score:     i.Score,
		Count:     i.Count,
		Services:  i.Services,
		FirstSeen: i.FirstSeen,
		LastSeen:  i.LastSeen,
		UsedLLM:   i.UsedLLM,
	}
}

// RunDetail is a run plus its incident summaries ordered by rank.
type RunDetail struct {
	Run
	Incidents []IncidentSummary `json:"incidents"`
}
