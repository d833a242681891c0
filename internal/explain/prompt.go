package explain

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Gautam2086/SignalTrace/internal/model"
	"github.com/Gautam2086/SignalTrace/internal/security"
)

// Prompt bounds.
const (
	promptLineLen     = 300
	promptTopMessages = 5
	repairEchoLen     = 2000
)

// SystemPrompt instructs the generator to answer with the explanation schema.
const SystemPrompt = `You are an experienced site reliability engineer triaging production logs.
You are given one incident: a cluster of log lines that share a normalized signature,
with statistics and a sample of evidence lines labelled with their line numbers.

Respond with a single JSON object and nothing else, using exactly this schema:
{
  "incident_title": "short title, at most 200 characters",
  "what_happened": "2-4 sentences describing what the logs show (required)",
  "likely_causes": [
    {"hypothesis": "a plausible cause", "evidence_line_numbers": [12, 40]}
  ],
  "recommended_next_steps": ["concrete action", "..."],
  "caveats": ["limitation of this analysis", "..."],
  "confidence": "low | medium | high",
  "referenced_line_numbers": [12, 40]
}

Rules:
- Cite only line numbers that appear in the evidence.
- Base every statement on the evidence and statistics provided; do not invent services or values.
- Keep lists to at most 5 items and each item under 300 characters.`

// BuildUserPrompt renders the bounded incident description sent to the
// generator. Evidence text is masked for credentials and truncated.
func BuildUserPrompt(inc *model.Incident) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Incident signature: %s\n", inc.Signature)
	fmt.Fprintf(&b, "Representative message: %s\n", clip(security.MaskSensitiveData(inc.Title), promptLineLen))
	fmt.Fprintf(&b, "Severity: %s\n", inc.Severity.OrUnknown())
	fmt.Fprintf(&b, "Occurrences: %d\n", inc.Count)
	fmt.Fprintf(&b, "Services: %s\n", servicesText(inc.Services))
	fmt.Fprintf(&b, "Time window: %s\n", windowText(inc.FirstSeen, inc.LastSeen))
	if inc.Stats.TimeSpanSeconds != nil {
		fmt.Fprintf(&b, "Time span: %s\n", formatSpan(*inc.Stats.TimeSpanSeconds))
	}
	if inc.Stats.OccurrencesPerMinute != nil {
		fmt.Fprintf(&b, "Rate: %.2f per minute\n", *inc.Stats.OccurrencesPerMinute)
	}
	fmt.Fprintf(&b, "Severity histogram: %s\n", histogramText(inc.Stats.SeverityHistogram))

	if inc.Evidence != nil {
		b.WriteString("\nEvidence lines (cite only these line numbers):\n")
		for _, l := range inc.Evidence.SampleLines {
			fmt.Fprintf(&b, "[Line %d] %s\n", l.LineNumber, clip(security.MaskSensitiveData(l.Raw), promptLineLen))
		}
		if len(inc.Evidence.TopMessages) > 1 {
			b.WriteString("\nDistinct messages in this cluster:\n")
			for i, m := range inc.Evidence.TopMessages {
				if i >= promptTopMessages {
					break
				}
				fmt.Fprintf(&b, "- %s\n", clip(security.MaskSensitiveData(m), promptLineLen))
			}
		}
	}

	b.WriteString("\nExplain this incident as the JSON object described in the instructions.")
	return b.String()
}

// BuildRepairPrompt asks the generator to correct an invalid answer.
func BuildRepairPrompt(user, previous string, problems []string) string {
	var b strings.Builder
	b.WriteString(user)
	b.WriteString("\n\nYour previous response was rejected because:\n")
	for _, p := range problems {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	b.WriteString("\nPrevious response:\n")
	b.WriteString(clip(previous, repairEchoLen))
	b.WriteString("\n\nReturn ONLY a corrected JSON object that follows the schema exactly.")
	return b.String()
}

func servicesText(services []string) string {
	if len(services) == 0 {
		return "unknown"
	}
	return strings.Join(services, ", ")
}

func windowText(first, last *time.Time) string {
	if first == nil || last == nil {
		return "unknown"
	}
	return first.Format(time.RFC3339) + " to " + last.Format(time.RFC3339)
}

func histogramText(h map[model.Level]int) string {
	if len(h) == 0 {
		return "none"
	}
	levels := make([]model.Level, 0, len(h))
	for l := range h {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Rank() > levels[j].Rank() })
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = fmt.Sprintf("%s=%d", l, h[l])
	}
	return strings.Join(parts, ", ")
}

func formatSpan(seconds float64) string {
	return (time.Duration(seconds * float64(time.Second))).Round(time.Second).String()
}

func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}
