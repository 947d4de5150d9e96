package storage

import "strings"

// Normalize applies the single filter-comparison policy used on both stored
// and query values: lowercase, collapsed whitespace, " - " folded to "-",
// "&" folded to "and".
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, " - ", "-")
	s = strings.ReplaceAll(s, "&", "and")
	// "&" expansion can reintroduce touching spaces ("a &b" -> "a andb" is
	// fine, but "a & b" -> "a and b" already is); collapse once more.
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeSet normalizes every value and drops empties and duplicates,
// preserving first-seen order.
func NormalizeSet(vals []string) []string {
	seen := make(map[string]struct{}, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		n := Normalize(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
