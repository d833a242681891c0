package explain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Gautam2086/SignalTrace/internal/model"
	"github.com/Gautam2086/SignalTrace/internal/signature"
)

const (
	maxFallbackCauses = 3
	maxFallbackSteps  = 5
	maxCitedPerCause  = 3
)

// FallbackCaveats are attached to every synthesized explanation.
var FallbackCaveats = []string{
	"This is an automated analysis generated from log statistics without an LLM.",
	"Manual review of the evidence lines is recommended before acting on it.",
}

type causeRule struct {
	keywords   []string
	hypothesis string
	step       string
}

// causeRules are checked in order; the first keyword match of each rule wins.
var causeRules = []causeRule{
	{[]string{"oom", "out of memory", "heap", "memory limit", "cannot allocate"},
		"Memory pressure: the process is running out of memory",
		"Check memory usage and limits of the affected service"},
	{[]string{"timeout", "timed out", "deadline exceeded"},
		"A downstream dependency is slow or unresponsive, causing timeouts",
		"Check latency and health of downstream dependencies"},
	{[]string{"connection refused", "connection reset", "no route to host", "network unreachable", "econnrefused", "connection"},
		"Network connectivity problem or an unavailable dependency",
		"Verify the target service is up and reachable from the caller"},
	{[]string{"disk full", "no space left", "i/o error", "read-only file system", "disk"},
		"Storage problem: disk full or failing I/O",
		"Check free disk space and volume health"},
	{[]string{"permission denied", "unauthorized", "forbidden", "access denied", "401", "403"},
		"Authentication or authorization failure",
		"Verify credentials, tokens and permissions used by the service"},
	{[]string{"null pointer", "nil pointer", "nullpointer", "segmentation fault", "panic", "undefined is not", "none type"},
		"Code defect: an unexpected null or invalid reference",
		"Inspect the stack trace and recent code changes"},
	{[]string{"rate limit", "throttl", "too many requests", "429"},
		"Requests are being rate limited by a dependency",
		"Review request rates and backoff behavior against the dependency's limits"},
	{[]string{"dns", "name resolution", "could not resolve"},
		"DNS resolution failure",
		"Check DNS configuration and resolver health"},
	{[]string{"certificate", "ssl", "tls", "x509"},
		"TLS or certificate problem",
		"Check certificate validity and trust chain"},
	{[]string{"database", "sql", "query failed", "deadlock", "db "},
		"Database error or contention",
		"Check database health, connection pool and slow queries"},
}

// Fallback synthesizes explanations from incident statistics alone. It has
// no external dependency and always succeeds.
type Fallback struct{}

// NewFallback returns the stats-only explainer.
func NewFallback() *Fallback {
	return &Fallback{}
}

// Mode implements Explainer.
func (f *Fallback) Mode() string {
	return "fallback"
}

// Explain implements Explainer.
func (f *Fallback) Explain(_ context.Context, inc *model.Incident) Result {
	return Result{
		Explanation:      Synthesize(inc),
		UsedLLM:          false,
		ValidationErrors: []string{},
		State:            StateFallback,
	}
}

// Synthesize builds the deterministic explanation for inc.
func Synthesize(inc *model.Incident) *model.Explanation {
	sev := inc.Severity.OrUnknown()
	ev := inc.Evidence
	if ev == nil {
		ev = &model.Evidence{}
	}

	exp := &model.Explanation{
		Title:        fallbackTitle(inc),
		WhatHappened: whatHappened(inc),
		Caveats:      append([]string(nil), FallbackCaveats...),
		Confidence:   "low",
	}

	haystack := strings.ToLower(inc.Title + " " + inc.Signature + " " + strings.Join(ev.TopMessages, " "))
	cited := make(map[int]bool)
	var keywordSteps []string
	for _, rule := range causeRules {
		if len(exp.LikelyCauses) >= maxFallbackCauses {
			break
		}
		kw, ok := firstMatch(haystack, rule.keywords)
		if !ok {
			continue
		}
		lines := linesMentioning(ev, kw)
		for _, n := range lines {
			cited[n] = true
		}
		exp.LikelyCauses = append(exp.LikelyCauses, model.Cause{Hypothesis: rule.hypothesis, EvidenceLineNumbers: lines})
		keywordSteps = append(keywordSteps, rule.step)
	}
	if len(exp.LikelyCauses) == 0 {
		lines := []int{}
		if len(ev.SampleLines) > 0 {
			lines = []int{ev.SampleLines[0].LineNumber}
			cited[lines[0]] = true
		}
		exp.LikelyCauses = []model.Cause{{Hypothesis: defaultHypothesis(sev), EvidenceLineNumbers: lines}}
	}

	exp.RecommendedNextSteps = nextSteps(inc, sev, ev, keywordSteps)

	exp.ReferencedLineNumbers = make([]int, 0, len(cited))
	for n := range cited {
		exp.ReferencedLineNumbers = append(exp.ReferencedLineNumbers, n)
	}
	sort.Ints(exp.ReferencedLineNumbers)
	return exp
}

func fallbackTitle(inc *model.Incident) string {
	var kind string
	switch inc.Severity.OrUnknown() {
	case model.LevelError:
		kind = "Error"
	case model.LevelWarn:
		kind = "Warning"
	default:
		kind = "Issue"
	}
	title := fmt.Sprintf("%s: %s", kind, clip(signature.Label(inc.Title), 60))
	if len(inc.Services) > 0 {
		title += " in " + inc.Services[0]
	}
	return title
}

func whatHappened(inc *model.Incident) string {
	var b strings.Builder

	occurrences := "occurrences"
	if inc.Count == 1 {
		occurrences = "occurrence"
	}
	services := "an unidentified service"
	if len(inc.Services) > 0 {
		services = strings.Join(inc.Services, ", ")
	}
	window := "at unknown times"
	if inc.FirstSeen != nil && inc.LastSeen != nil {
		window = fmt.Sprintf("between %s and %s", inc.FirstSeen.Format(time.RFC3339), inc.LastSeen.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Observed %d %s of %q across %s %s; severity %s.",
		inc.Count, occurrences, inc.Title, services, window, inc.Severity.OrUnknown())

	if inc.Stats.TimeSpanSeconds != nil && *inc.Stats.TimeSpanSeconds > 0 && inc.Stats.OccurrencesPerMinute != nil {
		fmt.Fprintf(&b, " The occurrences span %s, about %.2f per minute.",
			formatSpan(*inc.Stats.TimeSpanSeconds), *inc.Stats.OccurrencesPerMinute)
	}
	if h := inc.Stats.SeverityHistogram; len(h) > 1 {
		fmt.Fprintf(&b, " Severity breakdown: %s.", histogramText(h))
	}
	return b.String()
}

func defaultHypothesis(sev model.Level) string {
	switch sev {
	case model.LevelError:
		return "Application error requiring manual investigation"
	case model.LevelWarn:
		return "Degraded condition reported by the application"
	default:
		return "Routine application activity; no failure indicated by the logs"
	}
}

func nextSteps(inc *model.Incident, sev model.Level, ev *model.Evidence, keywordSteps []string) []string {
	svc := "the affected service"
	if len(inc.Services) > 0 {
		svc = inc.Services[0]
	}

	var steps []string
	switch sev {
	case model.LevelError:
		steps = append(steps, fmt.Sprintf("Escalate to the owner of %s and confirm user impact", svc))
		if inc.FirstSeen != nil {
			steps = append(steps, fmt.Sprintf("Check deploys and configuration changes to %s around %s", svc, inc.FirstSeen.Format(time.RFC3339)))
		}
	case model.LevelWarn:
		steps = append(steps, fmt.Sprintf("Monitor %s for escalation to errors", svc))
		steps = append(steps, "Review whether the warning threshold or condition is expected")
	default:
		steps = append(steps, "No immediate action required; review only if this volume is unexpected")
	}
	steps = append(steps, keywordSteps...)
	if len(ev.SampleLines) > 0 {
		steps = append(steps, fmt.Sprintf("Inspect the sampled evidence lines starting at line %d", ev.SampleLines[0].LineNumber))
	}
	if len(steps) > maxFallbackSteps {
		steps = steps[:maxFallbackSteps]
	}
	return steps
}

func firstMatch(haystack string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return kw, true
		}
	}
	return "", false
}

// linesMentioning returns up to maxCitedPerCause evidence lines whose text
// contains kw, or the first evidence line when none does.
func linesMentioning(ev *model.Evidence, kw string) []int {
	lines := []int{}
	for _, l := range ev.SampleLines {
		if len(lines) >= maxCitedPerCause {
			break
		}
		if strings.Contains(strings.ToLower(l.Message), kw) || strings.Contains(strings.ToLower(l.Raw), kw) {
			lines = append(lines, l.LineNumber)
		}
	}
	if len(lines) == 0 && len(ev.SampleLines) > 0 {
		lines = append(lines, ev.SampleLines[0].LineNumber)
	}
	return lines
}
