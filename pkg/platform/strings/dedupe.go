// Package strings holds list normalization shared by config parsing and
// query-string handling.
package strings

import "strings"

// DedupeAndTrim trims every value and drops empties and repeats, keeping
// first-seen order.
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

// SplitList splits each value on commas, so "a,b" and repeated parameters
// are treated alike, then applies DedupeAndTrim.
func SplitList(values ...string) []string {
	var parts []string
	for _, v := range values {
		parts = append(parts, strings.Split(v, ",")...)
	}
	out := DedupeAndTrim(parts)
	if len(out) == 0 {
		return nil
	}
	return out
}
