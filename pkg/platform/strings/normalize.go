// Package strings normalizes string lists arriving over the wire.
package strings

import (
	"strings"
)

// NormalizeList trims, lowercases, and deduplicates a list of
// identifiers, dropping elements that are empty after trimming.
// Order of first appearance is preserved, so "Chip_Read, chip_read"
// collapses to a single "chip_read".
func NormalizeList(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		norm := strings.ToLower(strings.TrimSpace(v))
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}
