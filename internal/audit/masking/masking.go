package masking

import "strings"

const maskToken = "****"

// MaskSecret hides a payment reference, keeping its type prefix and last four characters.
// "pm_card_4242424242" becomes "pm_card_****4242".
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

// MaskKeys returns a copy of input with the named keys masked.
func MaskKeys(input map[string]any, keys ...string) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	for _, key := range keys {
		if s, ok := out[key].(string); ok {
			out[key] = MaskSecret(s)
		}
	}
	return out
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
