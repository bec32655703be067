package logging

import (
	"regexp"
	"strings"
)

// Field names whose values are redacted wholesale.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"credential",
	"email",
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// RedactEmail masks the local part of an email address, keeping the domain so
// logs stay correlatable.
func RedactEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return email
	}
	return email[:1] + "***" + email[at:]
}

// Redact masks every email address embedded in a string.
func Redact(s string) string {
	return emailPattern.ReplaceAllStringFunc(s, RedactEmail)
}

// RedactMap redacts sensitive fields in a map, recursing into nested maps.
func RedactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveField(k) {
			result[k] = RedactedValue
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			result[k] = RedactMap(val)
		case string:
			result[k] = Redact(val)
		default:
			result[k] = v
		}
	}
	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}
