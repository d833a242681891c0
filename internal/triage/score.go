package triage

import (
	"math"

	"github.com/Gautam2086/SignalTrace/internal/model"
)

// Score weights. They sum to 1 so scores stay in [0, 1].
const (
	WeightSeverity  = 0.45
	WeightFrequency = 0.25
	WeightBreadth   = 0.10
	WeightRecency   = 0.20
)

// FrequencySaturation is the count at which the frequency term reaches 1.
const FrequencySaturation = 1000

// RecencyHalfLifeMinutes is how far behind the newest line of the run an
// incident can end before its recency term halves.
const RecencyHalfLifeMinutes = 60.0

// Priority thresholds on score.
const (
	ThresholdP0 = 0.75
	ThresholdP1 = 0.55
	ThresholdP2 = 0.35
)

// severityWeight is strictly increasing along the severity order.
var severityWeight = map[model.Level]float64{
	model.LevelError:   1.0,
	model.LevelWarn:    0.55,
	model.LevelInfo:    0.2,
	model.LevelDebug:   0.1,
	model.LevelUnknown: 0.05,
}

// Signals are the inputs of the score.
type Signals struct {
	Severity model.Level
	Count    int
	Services int
	// MinutesBehind is how long before the run's newest timestamp the
	// incident last occurred; nil when the incident has no timestamps.
	MinutesBehind *float64
}

// Score combines severity, log-dampened frequency, service breadth and
// recency. It is non-decreasing in severity, count, services and recency.
func Score(s Signals) float64 {
	sev := severityWeight[s.Severity.OrUnknown()]

	freq := 0.0
	if s.Count > 0 {
		freq = math.Min(1, math.Log1p(float64(s.Count))/math.Log1p(FrequencySaturation))
	}

	breadth := 0.0
	if s.Services > 0 {
		breadth = 1 - 1/float64(s.Services)
	}

	recency := 0.0
	if s.MinutesBehind != nil {
		behind := math.Max(0, *s.MinutesBehind)
		recency = 1 / (1 + behind/RecencyHalfLifeMinutes)
	}

	score := WeightSeverity*sev + WeightFrequency*freq + WeightBreadth*breadth + WeightRecency*recency
	return math.Round(score*1e4) / 1e4
}

// PriorityFor buckets a score. ERROR incidents are never below P2 and
// INFO, DEBUG or unknown incidents are never above P2.
func PriorityFor(score float64, severity model.Level) model.Priority {
	var p model.Priority
	switch {
	case score >= ThresholdP0:
		p = model.P0
	case score >= ThresholdP1:
		p = model.P1
	case score >= ThresholdP2:
		p = model.P2
	default:
		p = model.P3
	}

	switch severity.OrUnknown() {
	case model.LevelError:
		if p == model.P3 {
			p = model.P2
		}
	case model.LevelInfo, model.LevelDebug, model.LevelUnknown:
		if p == model.P0 || p == model.P1 {
			p = model.P2
		}
	}
	return p
}
