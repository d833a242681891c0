// Package evidence selects a bounded, representative sample of lines for
// an incident.
package evidence

import (
	"sort"
	"unicode/utf8"

	"github.com/Gautam2086/SignalTrace/internal/model"
)

// Defaults for Sampler.
const (
	DefaultMaxSamples     = 8
	DefaultMaxTopMessages = 5
	DefaultMaxLineLength  = 500
)

// Sampler picks evidence lines. The zero value uses the defaults.
type Sampler struct {
	MaxSamples     int
	MaxTopMessages int
	MaxLineLength  int
}

// NewSampler returns a sampler capped at maxSamples lines.
func NewSampler(maxSamples int) *Sampler {
	return &Sampler{MaxSamples: maxSamples}
}

func (s *Sampler) limits() (samples, top, lineLen int) {
	samples, top, lineLen = s.MaxSamples, s.MaxTopMessages, s.MaxLineLength
	if samples <= 0 {
		samples = DefaultMaxSamples
	}
	if top <= 0 {
		top = DefaultMaxTopMessages
	}
	if lineLen <= 0 {
		lineLen = DefaultMaxLineLength
	}
	return samples, top, lineLen
}

// Sample selects the earliest and latest occurrences, then the
// worst-severity ones, then evenly spaced members, without duplicates and
// never more than MaxSamples. Lines are returned in line-number order. The
// result depends only on members.
func (s *Sampler) Sample(members []model.Record) model.Evidence {
	maxSamples, maxTop, maxLen := s.limits()
	ev := model.Evidence{
		SampleLines: []model.EvidenceLine{},
		TopMessages: []string{},
	}
	if len(members) == 0 {
		return ev
	}

	sorted := make([]model.Record, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LineNumber < sorted[j].LineNumber })

	chosen := make(map[int]struct{}, maxSamples)
	pick := func(i int) {
		if len(chosen) < maxSamples {
			chosen[i] = struct{}{}
		}
	}

	earliest, latest := bounds(sorted)
	pick(earliest)
	pick(latest)

	// Worst-severity lines only stand out when the cluster is mixed.
	worst, mixed := model.LevelUnknown, false
	for i, r := range sorted {
		lvl := r.Level.OrUnknown()
		if i > 0 && lvl != sorted[0].Level.OrUnknown() {
			mixed = true
		}
		if lvl.Worse(worst) {
			worst = lvl
		}
	}
	for i, r := range sorted {
		if !mixed || len(chosen) >= maxSamples {
			break
		}
		if r.Level.OrUnknown() == worst {
			pick(i)
		}
	}

	n := len(sorted)
	if len(chosen) < maxSamples && n > 1 {
		for k := 0; k < maxSamples && len(chosen) < maxSamples; k++ {
			pick(k * (n - 1) / (maxSamples - 1))
		}
	}
	for i := 0; i < n && len(chosen) < maxSamples; i++ {
		pick(i)
	}

	idx := make([]int, 0, len(chosen))
	for i := range chosen {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	for _, i := range idx {
		r := sorted[i]
		ev.SampleLines = append(ev.SampleLines, model.EvidenceLine{
			LineNumber: r.LineNumber,
			Timestamp:  r.Timestamp,
			Level:      r.Level.OrUnknown(),
			Service:    r.Service,
			Message:    clip(r.Message, maxLen),
			Raw:        clip(r.Raw, maxLen),
		})
	}

	seen := make(map[string]struct{})
	for _, r := range sorted {
		if len(ev.TopMessages) >= maxTop {
			break
		}
		msg := clip(r.Message, maxLen)
		if _, dup := seen[msg]; dup {
			continue
		}
		seen[msg] = struct{}{}
		ev.TopMessages = append(ev.TopMessages, msg)
	}

	if sorted[earliest].Timestamp != nil {
		ev.FirstSeen = sorted[earliest].Timestamp
		ev.LastSeen = sorted[latest].Timestamp
	}
	return ev
}

// bounds returns the indexes of the earliest and latest member, ordering by
// timestamp then line number. Without timestamps it falls back to line order.
func bounds(sorted []model.Record) (earliest, latest int) {
	earliest, latest = -1, -1
	for i, r := range sorted {
		if r.Timestamp == nil {
			continue
		}
		if earliest < 0 || r.Timestamp.Before(*sorted[earliest].Timestamp) {
			earliest = i
		}
		if latest < 0 || !r.Timestamp.Before(*sorted[latest].Timestamp) {
			latest = i
		}
	}
	if earliest < 0 {
		return 0, len(sorted) - 1
	}
	return earliest, latest
}

func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}
