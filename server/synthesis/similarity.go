package synthesis

import "strings"

// TokenJaccard returns the Jaccard similarity of the two texts' token sets.
// Tokens shorter than three runes are ignored so stopwords do not inflate
// similarity.
func TokenJaccard(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	intersection := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,!?;:'\"()[]“”‘’")
		if len([]rune(token)) < 3 {
			continue
		}
		set[token] = struct{}{}
	}
	return set
}
