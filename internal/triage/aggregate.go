// Package triage groups parsed records into incidents and scores, ranks
// and prioritizes them.
package triage

import (
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/Gautam2086/SignalTrace/internal/model"
	"github.com/Gautam2086/SignalTrace/internal/signature"
)

// DefaultTitleMaxLen is the display length of incident titles in runes.
const DefaultTitleMaxLen = 120

// Aggregator clusters records by signature.
type Aggregator struct {
	Extractor   signature.Extractor
	TitleMaxLen int
}

// NewAggregator returns an aggregator with default settings.
func NewAggregator() *Aggregator {
	return &Aggregator{Extractor: signature.Default, TitleMaxLen: DefaultTitleMaxLen}
}

type cluster struct {
	signature string
	members   []model.Record
	services  map[string]struct{}
	severity  model.Level
	histogram map[model.Level]int
	first     *model.Record
	firstSeen *model.Record
	lastSeen  *model.Record
}

// Aggregate groups records into incidents ordered by rank. Incident and run
// ids are left for the caller; evidence and explanation are not populated.
func (a *Aggregator) Aggregate(records []model.Record) []model.Incident {
	if len(records) == 0 {
		return nil
	}

	var (
		clusters []*cluster
		index    = make(map[string]int)
		latest   *model.Record
	)

	for i := range records {
		rec := &records[i]
		sig := a.Extractor.Extract(rec.Message)

		idx, ok := index[sig]
		if !ok {
			idx = len(clusters)
			index[sig] = idx
			clusters = append(clusters, &cluster{
				signature: sig,
				services:  make(map[string]struct{}),
				severity:  model.LevelUnknown,
				histogram: make(map[model.Level]int),
				first:     rec,
			})
		}
		c := clusters[idx]
		c.members = append(c.members, *rec)
		if rec.Service != "" {
			c.services[rec.Service] = struct{}{}
		}
		lvl := rec.Level.OrUnknown()
		c.histogram[lvl]++
		if lvl.Worse(c.severity) {
			c.severity = lvl
		}
		if rec.LineNumber < c.first.LineNumber {
			c.first = rec
		}
		if rec.Timestamp != nil {
			if c.firstSeen == nil || rec.Timestamp.Before(*c.firstSeen.Timestamp) {
				c.firstSeen = rec
			}
			if c.lastSeen == nil || rec.Timestamp.After(*c.lastSeen.Timestamp) {
				c.lastSeen = rec
			}
			if latest == nil || rec.Timestamp.After(*latest.Timestamp) {
				latest = rec
			}
		}
	}

	incidents := make([]model.Incident, 0, len(clusters))
	for _, c := range clusters {
		incidents = append(incidents, a.build(c, latest))
	}

	Rank(incidents)
	return incidents
}

func (a *Aggregator) build(c *cluster, latest *model.Record) model.Incident {
	services := make([]string, 0, len(c.services))
	for s := range c.services {
		services = append(services, s)
	}
	sort.Strings(services)

	inc := model.Incident{
		Signature: c.signature,
		Severity:  c.severity,
		Title:     truncate(c.first.Message, a.TitleMaxLen),
		Count:     len(c.members),
		Services:  services,
		Members:   c.members,
	}

	var minutesBehind *float64
	if c.firstSeen != nil {
		first, last := *c.firstSeen.Timestamp, *c.lastSeen.Timestamp
		inc.FirstSeen, inc.LastSeen = &first, &last
		behind := latest.Timestamp.Sub(last).Minutes()
		minutesBehind = &behind
	}

	inc.Stats = buildStats(c, services, inc.FirstSeen, inc.LastSeen)
	inc.Score = Score(Signals{
		Severity:      c.severity,
		Count:         inc.Count,
		Services:      len(services),
		MinutesBehind: minutesBehind,
	})
	inc.Priority = PriorityFor(inc.Score, inc.Severity)
	return inc
}

func buildStats(c *cluster, services []string, first, last *time.Time) model.Stats {
	st := model.Stats{
		TotalCount:        len(c.members),
		ErrorCount:        c.histogram[model.LevelError],
		WarnCount:         c.histogram[model.LevelWarn],
		SeverityHistogram: c.histogram,
		Services:          services,
	}
	if first != nil && last != nil {
		span := last.Sub(*first).Seconds()
		perMinute := float64(len(c.members)) / math.Max(span/60, 1)
		perMinute = math.Round(perMinute*100) / 100
		st.TimeSpanSeconds = &span
		st.OccurrencesPerMinute = &perMinute
	}
	return st
}

// Rank orders incidents by score descending, then severity, then count,
// then signature, and assigns dense ranks starting at 1.
func Rank(incidents []model.Incident) {
	sort.SliceStable(incidents, func(i, j int) bool {
		a, b := &incidents[i], &incidents[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Signature < b.Signature
	})
	for i := range incidents {
		incidents[i].Rank = i + 1
	}
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}
