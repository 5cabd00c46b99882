// Package match provides fuzzy field-name matching used to build
// "did you mean" suggestions when a query key fails to resolve.
package match

import (
	"sort"
	"strings"
)

// Levenshtein computes the edit distance between two strings: the minimum
// number of single-character insertions, deletions, or substitutions needed
// to transform one into the other.
//
// Space complexity: O(min(len(a), len(b))).
func Levenshtein(a, b string) int {
	if a == b {
		return 0
	}

	if len(a) == 0 {
		return len(b)
	}

	if len(b) == 0 {
		return len(a)
	}

	// Keep a as the shorter string so the rows stay small
	if len(a) > len(b) {
		a, b = b, a
	}

	prev := make([]int, len(a)+1)
	curr := make([]int, len(a)+1)

	for i := range prev {
		prev[i] = i
	}

	for j := 1; j <= len(b); j++ {
		curr[0] = j

		for i := 1; i <= len(a); i++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}

			curr[i] = min3(
				prev[i]+1,      // deletion
				curr[i-1]+1,    // insertion
				prev[i-1]+cost, // substitution
			)
		}

		prev, curr = curr, prev
	}

	return prev[len(a)]
}

// Suggest returns up to limit candidate names within a distance budget of the
// misspelled name, closest first. The budget scales with the name's length so
// short names don't match everything.
func Suggest(name string, candidates []string, limit int) []string {
	if name == "" || len(candidates) == 0 || limit <= 0 {
		return nil
	}

	budget := len(name)/3 + 1

	type scored struct {
		name string
		dist int
	}

	var hits []scored

	lower := strings.ToLower(name)

	for _, c := range candidates {
		d := Levenshtein(lower, strings.ToLower(c))
		if d <= budget {
			hits = append(hits, scored{name: c, dist: d})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	if len(hits) > limit {
		hits = hits[:limit]
	}

	result := make([]string, len(hits))
	for i, h := range hits {
		result[i] = h.name
	}

	return result
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
