package nl2sql

import "strings"

// SequenceRatio is the classic longest-matching-block similarity: twice the
// total matched length over the combined length, in [0, 1].
func SequenceRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matched := matchingLength(a, b)
	return 2 * float64(matched) / float64(len(a)+len(b))
}

// matchingLength finds the longest common substring and recurses on the
// unmatched prefixes and suffixes.
func matchingLength(a, b string) int {
	start1, start2, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingLength(a[:start1], b[:start2])
	total += matchingLength(a[start1+size:], b[start2+size:])
	return total
}

func longestCommonSubstring(a, b string) (int, int, int) {
	bestA, bestB, bestLen := 0, 0, 0
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > bestLen {
					bestLen = curr[j]
					bestA = i - bestLen
					bestB = j - bestLen
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return bestA, bestB, bestLen
}

var structuralKeywords = []string{"FROM", "JOIN", "WHERE", "GROUP BY", "ORDER BY", "SUM", "COUNT"}

// StructuralSimilarity compares which structural features two statements
// share, as a Jaccard score over a fixed keyword set.
func StructuralSimilarity(sql1, sql2 string) float64 {
	s1 := extractStructure(sql1)
	s2 := extractStructure(sql2)
	return jaccard(s1, s2)
}

func extractStructure(sql string) map[string]struct{} {
	upper := strings.ToUpper(sql)
	components := map[string]struct{}{}
	for _, kw := range structuralKeywords {
		if strings.Contains(upper, kw) {
			components[kw] = struct{}{}
		}
	}
	return components
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
