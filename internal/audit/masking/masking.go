package masking

import "strings"

const maskToken = "****"

var sensitiveKeys = []string{"token", "secret", "password", "email", "authorization"}

// MaskSecret redacts a secret while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskSensitive returns a copy of input where string values under sensitive
// keys are masked. Nested maps and lists are walked.
func MaskSensitive(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		out[trimmedKey] = maskValue(value, isSensitive(trimmedKey))
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func maskValue(value any, sensitive bool) any {
	switch cast := value.(type) {
	case string:
		if sensitive {
			return MaskSecret(cast)
		}
		return cast
	case map[string]any:
		return MaskSensitive(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item, sensitive))
		}
		return out
	default:
		return value
	}
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, candidate := range sensitiveKeys {
		if strings.Contains(lower, candidate) {
			return true
		}
	}
	return false
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
