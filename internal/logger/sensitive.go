package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

type redaction struct {
	pattern *regexp.Regexp
	replace string
}

// sensitivePatterns match secrets embedded in free text
var sensitivePatterns = []redaction{
	// credentials in URLs, e.g. a Sentry DSN https://<key>@o1.ingest.sentry.io/2
	{regexp.MustCompile(`(?i)([a-z][a-z0-9+.\-]*://)([^/@\s]+)@`), "${1}" + redacted + "@"},
	{regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`), "${1}" + redacted},
	{regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|passw(?:or)?d)[\s:=]+)([^;,\s]{5,})`), "${1}" + redacted},
}

// SensitiveKeys are config keys whose values are never printed
var SensitiveKeys = []string{"dsn", "password", "secret", "token", "api_key"}

// RedactSensitiveData replaces secrets in input with [REDACTED]
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, r := range sensitivePatterns {
		input = r.pattern.ReplaceAllString(input, r.replace)
	}
	return input
}

// IsSensitiveKey reports whether a config key holds a secret
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range SensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
