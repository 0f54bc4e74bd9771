package masking

import "strings"

const maskToken = "****"

// Snapshot keys whose values never land in the audit trail in clear
// text. Documents are CPF/CNPJ numbers, wallets are payout handles.
var sensitiveKeys = map[string]struct{}{
	"document":  {},
	"wallet_id": {},
}

// MaskDocument redacts an identifier while keeping the last four
// characters for auditing.
func MaskDocument(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskSnapshot returns a copy of the snapshot with sensitive values
// masked. Nested maps and slices are walked; other values pass through.
func MaskSnapshot(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if _, sensitive := sensitiveKeys[key]; sensitive {
			return MaskDocument(cast)
		}
		return cast
	case map[string]any:
		return MaskSnapshot(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue("", item))
		}
		return out
	default:
		return value
	}
}
