package ui

import (
	"sort"
	"strings"
)

// FindSimilar returns up to limit candidates within an edit distance of a
// third of the target length (at least 2), closest first. Matching ignores case.
func FindSimilar(target string, candidates []string, limit int) []string {
	maxDist := len(target) / 3
	if maxDist < 2 {
		maxDist = 2
	}
	type scored struct {
		value string
		dist  int
	}
	var matches []scored
	t := strings.ToLower(target)
	for _, c := range candidates {
		if d := Levenshtein(t, strings.ToLower(c)); d <= maxDist {
			matches = append(matches, scored{c, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })

	out := make([]string, 0, limit)
	for i := 0; i < len(matches) && i < limit; i++ {
		out = append(out, matches[i].value)
	}
	return out
}

// Levenshtein returns the edit distance between two strings
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
