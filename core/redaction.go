package core

import "strings"

const RedactedValue = "[REDACTED]"

// RedactFields copies fields replacing values whose key names token material.
// Nested maps are walked.
func RedactFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	target := make(map[string]any, len(fields))
	for key, value := range fields {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			target[key] = RedactFields(nested)
			continue
		}
		target[key] = value
	}
	return target
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	for _, token := range []string{
		"secret",
		"token",
		"authorization",
		"password",
		"code",
		"state",
		"ciphertext",
		"key",
	} {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func isTraceabilityKey(key string) bool {
	switch key {
	case "provider_id",
		"owner",
		"event_type",
		"status",
		"status_code",
		"error_code",
		"token_type",
		"request_id",
		"trace_id",
		"credential_state",
		"trigger":
		return true
	default:
		return false
	}
}
