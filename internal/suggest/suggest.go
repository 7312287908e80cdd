// Package suggest finds close matches for mistyped names using Levenshtein
// distance.
package suggest

import (
	"slices"
	"strings"
)

// levenshtein calculates the edit distance between two strings
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(
				prev[j]+1,      // deletion
				cur[j-1]+1,     // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Closest returns up to three candidates close to unknown, best first.
// Leading dashes and case are ignored.
func Closest(unknown string, candidates []string) []string {
	norm := func(s string) string { return strings.ToLower(strings.TrimLeft(s, "-")) }
	target := norm(unknown)
	maxDist := max(2, len(target)/2)

	type scored struct {
		name string
		dist int
	}
	var matches []scored
	for _, c := range candidates {
		if d := levenshtein(target, norm(c)); d <= maxDist {
			matches = append(matches, scored{c, d})
		}
	}
	slices.SortStableFunc(matches, func(a, b scored) int { return a.dist - b.dist })

	var result []string
	for i := 0; i < len(matches) && i < 3; i++ {
		result = append(result, matches[i].name)
	}
	return result
}
