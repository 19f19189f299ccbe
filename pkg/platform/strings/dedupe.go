// Package strings provides string list normalization for request bodies.
package strings

import (
	"strings"
)

// NormalizeList trims each element, drops empties and removes case-insensitive
// duplicates, keeping the first spelling seen. Order is preserved. ok is false
// when any trimmed element is longer than maxLen runes; maxLen <= 0 disables the check.
//
//	NormalizeList([]string{" Photos ", "photos", "", "Travel"}, 50)
//	// Returns: []string{"Photos", "Travel"}, true
func NormalizeList(values []string, maxLen int) (_ []string, ok bool) {
	if len(values) == 0 {
		return values, true
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	ok = true

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if maxLen > 0 && len([]rune(trimmed)) > maxLen {
			ok = false
		}
		key := strings.ToLower(trimmed)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, trimmed)
	}

	return result, ok
}
