// Package security redacts credentials from log content and from the
// service's own diagnostics before they leave the process.
package security

import (
	"regexp"
	"strings"
)

// Redacted replaces masked values.
const Redacted = "***REDACTED***"

// MaskAPIKey masks an API key, showing only the first 4 and last 4 characters
func MaskAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}

// MaskSensitiveHeaders masks sensitive values in HTTP headers
func MaskSensitiveHeaders(headers map[string][]string) map[string]string {
	masked := make(map[string]string)
	sensitiveHeaders := map[string]bool{ // pragma: allowlist secret
		"authorization": true,
		"x-api-key":     true,
		"api-key":       true,
		"cookie":        true,
		"set-cookie":    true,
	}

	for key, values := range headers {
		if sensitiveHeaders[strings.ToLower(key)] {
			masked[key] = Redacted
		} else if len(values) > 0 {
			masked[key] = values[0]
			if len(values) > 1 {
				masked[key] += "..."
			}
		}
	}

	return masked
}

// keyedPatterns keep their first group (the key) and mask the second.
var keyedPatterns = []*regexp.Regexp{
	// API keys (various formats)
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|x-api-key)(["']?\s*[=:]\s*["']?)([a-zA-Z0-9_\-.]{8,})`),
	// Bearer and basic credentials
	regexp.MustCompile(`(?i)(bearer|basic)(\s+)([a-zA-Z0-9_\-.=+/]{12,})`),
	// Passwords in URLs or config
	regexp.MustCompile(`(?i)(password|passwd|pwd)(["']?\s*[=:]\s*["']?)([^"'\s&,;]+)`),
	// Secrets and tokens
	regexp.MustCompile(`(?i)(secret|token|access_key|private_key)(["']?\s*[=:]\s*["']?)([a-zA-Z0-9_\-./+]{8,})`),
}

// barePatterns are masked entirely.
var barePatterns = []*regexp.Regexp{
	// JWTs
	regexp.MustCompile(`\beyJ[a-zA-Z0-9_-]{5,}\.[a-zA-Z0-9_-]{5,}\.[a-zA-Z0-9_-]{5,}\b`),
	// Provider-style secret keys (sk-..., sk-ant-...)
	regexp.MustCompile(`\bsk-[a-zA-Z0-9_-]{16,}\b`),
	// AWS access key ids
	regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`),
	// Credentials embedded in URLs
	regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`),
}

// MaskSensitiveData masks credentials in a string using pattern matching
func MaskSensitiveData(data string) string {
	result := data

	for _, pattern := range keyedPatterns {
		result = pattern.ReplaceAllString(result, "${1}${2}"+Redacted)
	}
	for _, pattern := range barePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(match, "://") {
				return "://" + Redacted + "@"
			}
			return Redacted
		})
	}

	return result
}

// MaskURL masks sensitive query parameters in URLs
func MaskURL(rawURL string) string {
	sensitiveParams := []string{
		"api_key", "apikey", "api-key",
		"token", "access_token", "auth_token",
		"password", "secret", "key",
	}

	result := rawURL
	for _, param := range sensitiveParams {
		pattern := regexp.MustCompile(`(?i)([?&]` + regexp.QuoteMeta(param) + `=)([^&\s]+)`)
		result = pattern.ReplaceAllString(result, "${1}"+Redacted)
	}

	return result
}

// SanitizeError removes sensitive data from error messages
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return MaskSensitiveData(err.Error())
}
