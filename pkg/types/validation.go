package types

import "strings"

// NormalizeWords trims every entry, drops empty or whitespace-only ones,
// and caps the result at MaxResponseWords. A 16th valid word is silently
// dropped rather than rejected.
func NormalizeWords(words []string) []string {
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		normalized = append(normalized, w)
		if len(normalized) == MaxResponseWords {
			break
		}
	}
	return normalized
}

// IsValidUsername checks display-name length limits. Content moderation is
// out of scope, so any non-empty string up to 50 characters passes.
func IsValidUsername(username string) bool {
	username = strings.TrimSpace(username)
	return len(username) >= 1 && len(username) <= 50
}
