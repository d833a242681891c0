// Package signature derives the clustering key for a log message.
//
// A signature is the message with its volatile parts (ids, numbers,
// timestamps, quoted and bracketed values) replaced by fixed placeholders,
// so that lines describing the same kind of event share one key.
package signature

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// EmptyMessage is the signature of a blank message.
const EmptyMessage = "empty_message"

// DefaultMaxLength bounds signature length in runes.
const DefaultMaxLength = 256

type replacement struct {
	pattern     *regexp.Regexp
	placeholder string
}

// replacements run in order on the lowercased message. Placeholders are
// uppercase so later patterns never match inside them.
var replacements = []replacement{
	// URLs
	{regexp.MustCompile(`\b[a-z][a-z0-9+.-]*://[^\s"'<>]+`), "<URL>"},
	// Timestamps (date with optional time, then bare clock times)
	{regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}(?:[t ]\d{2}:\d{2}(?::\d{2})?(?:[.,]\d+)?(?:z|[+-]\d{2}:?\d{2})?)?`), "<TIME>"},
	{regexp.MustCompile(`\b\d{1,2}:\d{2}:\d{2}(?:[.,]\d+)?\b`), "<TIME>"},
	// UUIDs
	{regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), "<UUID>"},
	// Email addresses
	{regexp.MustCompile(`[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`), "<EMAIL>"},
	// IP addresses with optional port
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d{1,5})?\b`), "<IP>"},
	// 0x-prefixed hex
	{regexp.MustCompile(`\b0x[0-9a-f]+\b`), "<HEX>"},
	// Quoted strings. Single quotes must not touch word characters so
	// contractions survive.
	{regexp.MustCompile(`"[^"\n]*"`), "<STR>"},
	{regexp.MustCompile(`\B'[^'\n]*'\B`), "<STR>"},
	// Bracketed or braced values carrying digits
	{regexp.MustCompile(`\[[^\[\]]*\d[^\[\]]*\]`), "<VAR>"},
	{regexp.MustCompile(`\{[^{}]*\d[^{}]*\}`), "<VAR>"},
	// Durations (e.g., 123ms, 1.5s)
	{regexp.MustCompile(`\b\d+(?:\.\d+)?(?:ns|us|µs|ms|s|sec|secs|seconds|m|min|mins|minutes|h|hrs|hours)\b`), "<DUR>"},
}

var (
	// Hex-like tokens need a digit and a hex letter to count as ids.
	hexTokenPattern = regexp.MustCompile(`\b[0-9a-f]{6,64}\b`)
	pathPattern     = regexp.MustCompile(`(^|[\s=:(])/[^\s:,;()"']+`)
	numberPattern   = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// Extractor normalizes messages into signatures.
type Extractor struct {
	// MaxLength truncates signatures to this many runes; zero disables.
	MaxLength int
}

// Default is the extractor used by the pipeline.
var Default = Extractor{MaxLength: DefaultMaxLength}

// Extract returns the signature of message using the default extractor.
func Extract(message string) string {
	return Default.Extract(message)
}

// Extract returns the signature of message. It is pure: identical input
// always yields identical output.
func (e Extractor) Extract(message string) string {
	s := strings.TrimSpace(message)
	if s == "" {
		return EmptyMessage
	}
	s = strings.ToLower(s)

	for _, r := range replacements {
		s = r.pattern.ReplaceAllString(s, r.placeholder)
	}
	s = hexTokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		if strings.ContainsAny(tok, "0123456789") && strings.ContainsAny(tok, "abcdef") {
			return "<HEX>"
		}
		return tok
	})
	s = pathPattern.ReplaceAllString(s, "${1}<PATH>")
	s = numberPattern.ReplaceAllString(s, "<NUM>")

	s = strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
	if s == "" {
		return EmptyMessage
	}
	if e.MaxLength > 0 && utf8.RuneCountInString(s) > e.MaxLength {
		s = string([]rune(s)[:e.MaxLength])
	}
	return s
}

var exceptionPattern = regexp.MustCompile(`\b[A-Za-z_][\w.]*(?:Exception|Error|Panic)\b`)

// Label returns a compact display label for a message: the exception or
// error type name when one is present, otherwise its first six words.
func Label(message string) string {
	if m := exceptionPattern.FindString(message); m != "" {
		if i := strings.LastIndex(m, "."); i >= 0 && i < len(m)-1 {
			return m[i+1:]
		}
		return m
	}
	words := strings.Fields(message)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}
