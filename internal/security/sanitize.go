// Package security provides sensitive-data detection and redaction used by
// the audit pipeline and by error/log sanitization.
package security

import (
	"regexp"
	"strings"
)

// SensitivePattern pairs a regular expression with the text that replaces
// each match.
type SensitivePattern struct {
	Name    string
	Pattern *regexp.Regexp
	Mask    string
}

var (
	sensitivePatterns = []SensitivePattern{
		{
			Name:    "JWT Token",
			Pattern: regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`),
			Mask:    "[REDACTED_JWT]",
		},
		{
			Name:    "Private Key Header",
			Pattern: regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE\s+KEY-----[\s\S]*?-----END\s+(RSA\s+)?PRIVATE\s+KEY-----`),
			Mask:    "[REDACTED_PRIVATE_KEY]",
		},
		{
			Name:    "Bearer Token",
			Pattern: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.]{20,}`),
			Mask:    "Bearer [REDACTED_TOKEN]",
		},
		{
			Name:    "API Key",
			Pattern: regexp.MustCompile(`(?i)(api[_-]?key|apikey|access[_-]?key)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{16,})['"]?`),
			Mask:    "$1=[REDACTED_API_KEY]",
		},
		{
			Name:    "Password",
			Pattern: regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"]?([^'"\s]{6,})['"]?`),
			Mask:    "$1=[REDACTED_PASSWORD]",
		},
		{
			Name:    "Secret",
			Pattern: regexp.MustCompile(`(?i)(secret|client_secret)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{16,})['"]?`),
			Mask:    "$1=[REDACTED_SECRET]",
		},
		{
			Name:    "Authorization Header",
			Pattern: regexp.MustCompile(`(?i)authorization\s*:\s*['"]?([^'"\n]{20,})['"]?`),
			Mask:    "Authorization: [REDACTED_AUTH]",
		},
	}

	sensitiveHeaders = []string{
		"authorization",
		"x-api-key",
		"cookie",
		"set-cookie",
		"proxy-authorization",
	}

	// sensitiveKeys is the fixed key set audit-log sanitization matches
	// against; parameter names containing any of these (case-insensitive)
	// are fully masked rather than pattern-scanned.
	sensitiveKeys = []string{
		"password", "passwd", "pwd", "secret", "token", "key", "auth",
		"authorization", "credential", "private", "api_key", "apikey",
		"client_secret", "access_token", "refresh_token",
	}
)

// SanitizeString masks known sensitive substrings in free-form text.
func SanitizeString(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, p := range sensitivePatterns {
		result = p.Pattern.ReplaceAllString(result, p.Mask)
	}
	return result
}

// SanitizeError renders err's message with sensitive substrings masked.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeParams recursively redacts a JSON-RPC params payload for audit
// logging: any key in the fixed sensitive-key set is fully masked, string
// leaves are pattern-scanned, and nested maps/slices recurse.
func SanitizeParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if IsSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return SanitizeString(val)
	case map[string]interface{}:
		return SanitizeParams(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// SanitizeHeaders masks values of known sensitive HTTP headers before they
// reach a log line.
func SanitizeHeaders(headers map[string][]string) map[string][]string {
	if headers == nil {
		return nil
	}
	out := make(map[string][]string, len(headers))
	for k, values := range headers {
		lower := strings.ToLower(k)
		sensitive := false
		for _, h := range sensitiveHeaders {
			if lower == h || strings.Contains(lower, h) {
				sensitive = true
				break
			}
		}
		if sensitive {
			out[k] = []string{"[REDACTED]"}
			continue
		}
		masked := make([]string, len(values))
		for i, v := range values {
			masked[i] = SanitizeString(v)
		}
		out[k] = masked
	}
	return out
}

// IsSensitiveKey reports whether a parameter or field name suggests it
// carries a credential and should be masked outright rather than scanned.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
