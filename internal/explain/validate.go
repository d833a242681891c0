package explain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Gautam2086/SignalTrace/internal/model"
)

// Bounds on generator output.
const (
	maxSummaryLen     = 2000
	maxTitleLen       = 200
	maxItemLen        = 500
	maxListItems      = 10
	defaultConfidence = "medium"
)

var validConfidence = map[string]bool{"low": true, "medium": true, "high": true}

// Validate parses raw generator output and checks it against the
// explanation schema. validLines are the evidence line numbers the output
// may cite. It returns the explanation when there are no problems.
func Validate(raw string, validLines []int) (*model.Explanation, []string) {
	body, ok := extractJSON(raw)
	if !ok {
		return nil, []string{"response does not contain a JSON object"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, []string{fmt.Sprintf("response is not valid JSON: %v", err)}
	}

	allowed := make(map[int]bool, len(validLines))
	for _, n := range validLines {
		allowed[n] = true
	}

	var (
		problems []string
		exp      = &model.Explanation{}
		cited    = make(map[int]bool)
	)
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	checkLine := func(field string, n int) {
		if !allowed[n] {
			addf("%s cites line %d which is not in the evidence", field, n)
			return
		}
		cited[n] = true
	}

	// what_happened
	if rawSummary, ok := fields["what_happened"]; !ok {
		addf("what_happened is required")
	} else if s, ok := asString(rawSummary); !ok {
		addf("what_happened must be a string")
	} else if strings.TrimSpace(s) == "" {
		addf("what_happened must not be empty")
	} else if utf8.RuneCountInString(s) > maxSummaryLen {
		addf("what_happened exceeds %d characters", maxSummaryLen)
	} else {
		exp.WhatHappened = strings.TrimSpace(s)
	}

	// incident_title
	if rawTitle, ok := fields["incident_title"]; ok && !isNull(rawTitle) {
		if s, ok := asString(rawTitle); !ok {
			addf("incident_title must be a string")
		} else if utf8.RuneCountInString(s) > maxTitleLen {
			addf("incident_title exceeds %d characters", maxTitleLen)
		} else {
			exp.Title = strings.TrimSpace(s)
		}
	}

	// likely_causes
	exp.LikelyCauses = []model.Cause{}
	if rawCauses, ok := fields["likely_causes"]; ok && !isNull(rawCauses) {
		var items []json.RawMessage
		if err := json.Unmarshal(rawCauses, &items); err != nil {
			addf("likely_causes must be an array")
		} else if len(items) > maxListItems {
			addf("likely_causes has more than %d items", maxListItems)
		} else {
			for i, item := range items {
				cause, problem := parseCause(item)
				if problem != "" {
					addf("likely_causes[%d] %s", i, problem)
					continue
				}
				for _, n := range cause.EvidenceLineNumbers {
					checkLine(fmt.Sprintf("likely_causes[%d]", i), n)
				}
				exp.LikelyCauses = append(exp.LikelyCauses, cause)
			}
		}
	}

	exp.RecommendedNextSteps = stringList(fields, "recommended_next_steps", addf)
	exp.Caveats = stringList(fields, "caveats", addf)

	// confidence
	exp.Confidence = defaultConfidence
	if rawConf, ok := fields["confidence"]; ok && !isNull(rawConf) {
		s, ok := asString(rawConf)
		s = strings.ToLower(strings.TrimSpace(s))
		if !ok || !validConfidence[s] {
			addf("confidence must be one of low, medium, high")
		} else {
			exp.Confidence = s
		}
	}

	// referenced_line_numbers
	if rawRefs, ok := fields["referenced_line_numbers"]; ok && !isNull(rawRefs) {
		var refs []int
		if err := json.Unmarshal(rawRefs, &refs); err != nil {
			addf("referenced_line_numbers must be an array of integers")
		} else {
			for _, n := range refs {
				checkLine("referenced_line_numbers", n)
			}
		}
	}

	if len(problems) > 0 {
		return nil, problems
	}

	exp.ReferencedLineNumbers = make([]int, 0, len(cited))
	for n := range cited {
		exp.ReferencedLineNumbers = append(exp.ReferencedLineNumbers, n)
	}
	sort.Ints(exp.ReferencedLineNumbers)
	return exp, nil
}

// parseCause accepts a plain string or {hypothesis, evidence_line_numbers}.
func parseCause(item json.RawMessage) (model.Cause, string) {
	if s, ok := asString(item); ok {
		if strings.TrimSpace(s) == "" {
			return model.Cause{}, "must not be empty"
		}
		if utf8.RuneCountInString(s) > maxItemLen {
			return model.Cause{}, fmt.Sprintf("exceeds %d characters", maxItemLen)
		}
		return model.Cause{Hypothesis: strings.TrimSpace(s), EvidenceLineNumbers: []int{}}, ""
	}

	var obj struct {
		Hypothesis          *string         `json:"hypothesis"`
		EvidenceLineNumbers json.RawMessage `json:"evidence_line_numbers"`
	}
	if err := json.Unmarshal(item, &obj); err != nil {
		return model.Cause{}, "must be a string or an object with a hypothesis"
	}
	if obj.Hypothesis == nil || strings.TrimSpace(*obj.Hypothesis) == "" {
		return model.Cause{}, "hypothesis is required"
	}
	if utf8.RuneCountInString(*obj.Hypothesis) > maxItemLen {
		return model.Cause{}, fmt.Sprintf("hypothesis exceeds %d characters", maxItemLen)
	}
	cause := model.Cause{Hypothesis: strings.TrimSpace(*obj.Hypothesis), EvidenceLineNumbers: []int{}}
	if len(obj.EvidenceLineNumbers) > 0 && !isNull(obj.EvidenceLineNumbers) {
		if err := json.Unmarshal(obj.EvidenceLineNumbers, &cause.EvidenceLineNumbers); err != nil {
			return model.Cause{}, "evidence_line_numbers must be an array of integers"
		}
	}
	return cause, ""
}

func stringList(fields map[string]json.RawMessage, key string, addf func(string, ...interface{})) []string {
	out := []string{}
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		addf("%s must be an array of strings", key)
		return out
	}
	if len(items) > maxListItems {
		addf("%s has more than %d items", key, maxListItems)
		return out
	}
	for i, item := range items {
		s, ok := asString(item)
		switch {
		case !ok:
			addf("%s[%d] must be a string", key, i)
		case strings.TrimSpace(s) == "":
			addf("%s[%d] must not be empty", key, i)
		case utf8.RuneCountInString(s) > maxItemLen:
			addf("%s[%d] exceeds %d characters", key, i, maxItemLen)
		default:
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func asString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// extractJSON pulls the outermost JSON object out of plain or fenced text.
func extractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
