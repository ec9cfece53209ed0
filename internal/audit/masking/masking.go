// Package masking redacts payment references and other sensitive values
// before they reach the audit trail.
package masking

import "strings"

const maskToken = "****"

// sensitiveKeys are metadata keys whose values never land in the audit log
// in clear text.
var sensitiveKeys = map[string]struct{}{
	"reference":      {},
	"account_number": {},
	"iban":           {},
	"card_number":    {},
	"email":          {},
	"phone":          {},
	"token":          {},
}

// MaskReference keeps a reference's scheme prefix and last four characters,
// e.g. "TRX-88123" becomes "TRX-****8123".
func MaskReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, rest := splitPrefix(trimmed)
	if len(rest) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + rest[len(rest)-4:]
}

// MaskSensitive returns a copy of metadata with sensitive keys masked at any
// depth. Other values pass through unchanged.
func MaskSensitive(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}

	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if IsSensitiveKey(key) {
			out[key] = maskAll(value)
			continue
		}
		out[key] = walk(value)
	}
	return out
}

func IsSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

func walk(value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return MaskSensitive(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, walk(item))
		}
		return out
	default:
		return value
	}
}

func maskAll(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskReference(cast)
	case *string:
		if cast == nil {
			return nil
		}
		return MaskReference(*cast)
	case nil:
		return nil
	default:
		return maskToken
	}
}

func splitPrefix(value string) (string, string) {
	idx := strings.LastIndexAny(value, "-_")
	if idx <= 0 || idx == len(value)-1 {
		return "", value
	}
	return value[:idx+1], value[idx+1:]
}
