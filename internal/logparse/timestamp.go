package logparse

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"
)

// isoPattern captures date, clock, fraction and zone of an ISO-like timestamp.
var isoPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})(?:[Tt ](\d{2}:\d{2}(?::\d{2})?)(?:[.,](\d{1,9}))?\s?(Z|z|UTC|[+-]\d{2}:?\d{2})?)?$`)

var dateParser = dps.Parser{}

// parseTimestamp resolves a timestamp string. Fixed ISO layouts are tried
// first, then epoch numbers, then natural-language parsing relative to ref.
// All results are UTC. The second return value is false when nothing matched.
func parseTimestamp(s string, ref time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if t, ok := parseISO(s); ok {
		return t, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return parseEpoch(f)
	}
	if !strings.ContainsAny(s, "0123456789") {
		return time.Time{}, false
	}

	cfg := &dps.Configuration{
		CurrentTime:         ref,
		DefaultTimezone:     time.UTC,
		PreferredDateSource: dps.CurrentPeriod,
	}
	parsed, err := dateParser.Parse(cfg, s)
	if err != nil || parsed.IsZero() {
		return time.Time{}, false
	}
	return parsed.Time.UTC(), true
}

func parseISO(s string) (time.Time, bool) {
	m := isoPattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	date, clock, frac, zone := m[1], m[2], m[3], m[4]
	if clock == "" {
		clock = "00:00:00"
	} else if len(clock) == 5 {
		clock += ":00"
	}

	var b strings.Builder
	b.WriteString(date)
	b.WriteByte('T')
	b.WriteString(clock)
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	switch {
	case zone == "" || zone == "Z" || zone == "z" || zone == "UTC":
		b.WriteByte('Z')
	case len(zone) == 5: // +hhmm
		b.WriteString(zone[:3] + ":" + zone[3:])
	default:
		b.WriteString(zone)
	}

	t, err := time.Parse(time.RFC3339Nano, b.String())
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// parseEpoch accepts seconds or milliseconds since the Unix epoch.
func parseEpoch(f float64) (time.Time, bool) {
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return time.Time{}, false
	}
	if f > 1e12 {
		f /= 1000
	}
	if f > 1e11 {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e3))*int64(time.Millisecond)).UTC(), true
}
