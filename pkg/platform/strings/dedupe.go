// Package strings holds small slice-of-string helpers used by request validation.
package strings

import "strings"

// DedupeAndTrim trims each value, drops blanks and keeps the first occurrence
// of each remaining value, in input order.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
