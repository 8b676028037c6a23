package policy

import "strings"

// RedactedPlaceholder replaces the value of any matched secret key.
const RedactedPlaceholder = "[REDACTED]"

// secretKeyPatterns are substrings checked case-insensitively against map
// keys.
var secretKeyPatterns = []string{
	"api_key", "apikey", "password", "passwd", "secret",
	"token", "bearer", "authorization", "credential", "private_key", "privatekey",
}

const pemPrivateKeyHeader = "-----BEGIN"

// Redact walks v (the decoded form of a logged JSON value: maps, slices,
// and scalars) and replaces any value reachable through a secret-looking
// key, or any string value itself shaped like a PEM private key block,
// with RedactedPlaceholder. It is recursive across objects and arrays and
// idempotent: Redact(Redact(x)) == Redact(x),
// since a value already equal to the placeholder is left unchanged and a
// key once redacted stays redacted.
func Redact(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSecretKey(k) {
				out[k] = RedactedPlaceholder
				continue
			}
			out[k] = Redact(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Redact(inner)
		}
		return out
	case string:
		if strings.Contains(val, pemPrivateKeyHeader) {
			return RedactedPlaceholder
		}
		return val
	default:
		return val
	}
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range secretKeyPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
