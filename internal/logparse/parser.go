// Package logparse turns raw log text into structured records.
//
// Lines may be single-line JSON objects or free text. Free-text lines get a
// best-effort leading timestamp, severity token and service name; anything
// unrecognized is left unset, and no line is ever dropped.
package logparse

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Gautam2086/SignalTrace/internal/model"
)

var (
	timestampKeys = []string{"timestamp", "time", "@timestamp", "ts", "datetime", "date"}
	levelKeys     = []string{"level", "severity", "log_level", "loglevel", "lvl"}
	serviceKeys   = []string{"service", "svc", "app", "component", "logger", "source"}
	messageKeys   = []string{"message", "msg", "event", "error", "err"}
)

var (
	leadingISO    = regexp.MustCompile(`^\[?(\d{4}-\d{2}-\d{2}[Tt ]\d{2}:\d{2}(?::\d{2})?(?:[.,]\d{1,9})?(?:\s?(?:Z|z|UTC|[+-]\d{2}:?\d{2}))?)\]?\s*`)
	leadingSyslog = regexp.MustCompile(`^\[?([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\]?\s*`)
	levelKV       = regexp.MustCompile(`(?i)\b(?:level|lvl|severity)=["']?([a-z]+)`)
	serviceKV     = regexp.MustCompile(`(?i)\b(?:service|svc|app|component)=["']?([\w.\-/]+)`)
	identLike     = regexp.MustCompile(`^[A-Za-z]\w*(?:[-_.]\w+)+$`)
	serviceName   = regexp.MustCompile(`^[A-Za-z][\w.\-/]*$`)
)

// DefaultReference anchors year-less and relative timestamps when the
// input carries no absolute timestamp to anchor them to.
var DefaultReference = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Parser converts log text into records.
type Parser struct {
	// Reference anchors timestamps that omit the year or are relative.
	// When zero, Parse derives it from the input.
	Reference time.Time
}

// New returns a parser that anchors timestamps to its input.
func New() *Parser {
	return &Parser{}
}

// Parse returns one record per non-blank line, with 1-based line numbers
// taken from the original text. Unless Reference is set, year-less and
// relative timestamps are resolved against the latest absolute timestamp
// in text, so the result depends on the text alone.
func (p *Parser) Parse(text string) []model.Record {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")

	anchored := *p
	if anchored.Reference.IsZero() {
		anchored.Reference = latestAbsolute(lines)
	}

	records := make([]model.Record, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		records = append(records, anchored.ParseLine(i+1, line))
	}
	return records
}

// latestAbsolute returns the newest ISO or epoch timestamp found in lines,
// or DefaultReference when there is none.
func latestAbsolute(lines []string) time.Time {
	var latest time.Time
	for _, line := range lines {
		t, ok := absoluteTimestamp(strings.TrimSpace(line))
		if ok && t.After(latest) {
			latest = t
		}
	}
	if latest.IsZero() {
		return DefaultReference
	}
	return latest
}

func absoluteTimestamp(line string) (time.Time, bool) {
	if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			v, ok := firstKey(obj, timestampKeys)
			if !ok {
				return time.Time{}, false
			}
			switch ts := v.(type) {
			case string:
				ts = strings.TrimSpace(ts)
				if t, ok := parseISO(ts); ok {
					return t, true
				}
				if f, err := strconv.ParseFloat(ts, 64); err == nil {
					return parseEpoch(f)
				}
			case float64:
				return parseEpoch(ts)
			}
			return time.Time{}, false
		}
	}
	if m := leadingISO.FindStringSubmatch(line); m != nil {
		return parseISO(strings.TrimSpace(m[1]))
	}
	return time.Time{}, false
}

// CountLines returns the number of physical lines in text. A trailing
// newline does not start a new line.
func CountLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// ParseLine parses a single line. A zero Reference resolves year-less
// timestamps against DefaultReference.
func (p *Parser) ParseLine(lineNumber int, line string) model.Record {
	if p.Reference.IsZero() {
		anchored := Parser{Reference: DefaultReference}
		return anchored.ParseLine(lineNumber, line)
	}
	rec := model.Record{LineNumber: lineNumber, Raw: line}
	trimmed := strings.TrimSpace(line)

	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			p.fromJSON(&rec, obj, trimmed)
			return rec
		}
	}

	p.fromText(&rec, trimmed)
	return rec
}

func (p *Parser) fromJSON(rec *model.Record, obj map[string]interface{}, trimmed string) {
	if v, ok := firstKey(obj, timestampKeys); ok {
		switch ts := v.(type) {
		case string:
			if t, ok := parseTimestamp(ts, p.Reference); ok {
				rec.Timestamp = &t
			}
		case float64:
			if t, ok := parseEpoch(ts); ok {
				rec.Timestamp = &t
			}
		}
	}

	if v, ok := firstKey(obj, levelKeys); ok {
		switch lv := v.(type) {
		case string:
			if lvl, ok := model.ParseLevel(lv); ok {
				rec.Level = lvl
			}
		case float64:
			rec.Level = numericLevel(lv)
		}
	}

	if v, ok := firstKey(obj, serviceKeys); ok {
		if s, ok := v.(string); ok {
			rec.Service = strings.TrimSpace(s)
		}
	}

	rec.Message = trimmed
	if v, ok := firstKey(obj, messageKeys); ok {
		switch m := v.(type) {
		case string:
			if strings.TrimSpace(m) != "" {
				rec.Message = strings.TrimSpace(m)
			}
		case nil:
		default:
			if b, err := json.Marshal(m); err == nil {
				rec.Message = string(b)
			}
		}
	}
}

func firstKey(obj map[string]interface{}, keys []string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// numericLevel maps pino/bunyan numeric levels.
func numericLevel(n float64) model.Level {
	switch {
	case n >= 50:
		return model.LevelError
	case n >= 40:
		return model.LevelWarn
	case n >= 30:
		return model.LevelInfo
	case n >= 10:
		return model.LevelDebug
	default:
		return ""
	}
}

func (p *Parser) fromText(rec *model.Record, line string) {
	rest := line

	if m := leadingISO.FindStringSubmatch(rest); m != nil {
		if t, ok := parseTimestamp(m[1], p.Reference); ok {
			rec.Timestamp = &t
			rest = rest[len(m[0]):]
		}
	} else if m := leadingSyslog.FindStringSubmatch(rest); m != nil {
		if t, ok := parseTimestamp(m[1], p.Reference); ok {
			rec.Timestamp = &t
			rest = rest[len(m[0]):]
		}
	}

	if lvl, after, ok := leadingLevel(rest); ok {
		rec.Level = lvl
		rest = after
		if svc, after, ok := leadingService(rest); ok {
			rec.Service = svc
			rest = after
		}
	} else {
		rec.Level = scanLevel(rest)
	}

	if rec.Service == "" {
		if m := serviceKV.FindStringSubmatch(rest); m != nil {
			rec.Service = m[1]
		}
	}

	rec.Message = strings.TrimSpace(rest)
	if rec.Message == "" {
		rec.Message = line
	}
}

// leadingLevel accepts LEVEL, [LEVEL], LEVEL: and level=LEVEL as the first token.
func leadingLevel(s string) (model.Level, string, bool) {
	tok, after := splitToken(s)
	if tok == "" {
		return "", s, false
	}
	if lvl, ok := model.ParseLevel(stripToken(tok)); ok {
		return lvl, after, true
	}
	if m := levelKV.FindStringSubmatch(tok); m != nil && strings.HasPrefix(tok, m[0]) {
		if lvl, ok := model.ParseLevel(m[1]); ok {
			return lvl, after, true
		}
	}
	return "", s, false
}

// leadingService accepts [svc], svc:, service=svc, or an identifier that
// contains '-', '_' or '.' directly after the level. The token must be
// followed by a message.
func leadingService(s string) (string, string, bool) {
	tok, after := splitToken(s)
	if tok == "" || after == "" {
		return "", s, false
	}

	var name string
	switch {
	case strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]"):
		name = tok[1 : len(tok)-1]
	case strings.HasSuffix(tok, ":"):
		name = tok[:len(tok)-1]
	default:
		if m := serviceKV.FindStringSubmatch(tok); m != nil && m[0] == tok {
			return m[1], after, true
		}
		if identLike.MatchString(tok) {
			return tok, after, true
		}
		return "", s, false
	}

	if !serviceName.MatchString(name) {
		return "", s, false
	}
	if _, isLevel := model.ParseLevel(name); isLevel {
		return "", s, false
	}
	return name, after, true
}

// bareLevels are the severity words recognized in any case anywhere in a
// line. Other aliases (ERR, ALERT, PANIC, ...) must be uppercase or
// decorated there, since their lowercase forms are ordinary English.
var bareLevels = map[string]bool{
	"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "WARNING": true,
	"ERROR": true, "FATAL": true, "CRITICAL": true,
}

// negations directly before a severity word cancel it ("no error occurred").
var negations = map[string]bool{
	"no": true, "not": true, "without": true, "zero": true, "0": true,
}

// scanLevel finds a severity anywhere in the line. level=... pairs win;
// otherwise the first severity word counts unless the word before it is a
// negation.
func scanLevel(s string) model.Level {
	if m := levelKV.FindStringSubmatch(s); m != nil {
		if lvl, ok := model.ParseLevel(m[1]); ok {
			return lvl
		}
	}
	prev := ""
	for _, tok := range strings.Fields(s) {
		stripped := stripToken(tok)
		lvl, ok := model.ParseLevel(stripped)
		negated := negations[strings.ToLower(prev)]
		prev = stripped
		if !ok || negated {
			continue
		}
		decorated := strings.HasPrefix(tok, "[") || strings.HasPrefix(tok, "<") || strings.HasSuffix(tok, ":") || strings.HasSuffix(tok, "]")
		if decorated || bareLevels[strings.ToUpper(stripped)] || stripped == strings.ToUpper(stripped) {
			return lvl
		}
	}
	return ""
}

func splitToken(s string) (string, string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i:], " \t")
}

func stripToken(tok string) string {
	return strings.Trim(tok, "[]<>():|-")
}
