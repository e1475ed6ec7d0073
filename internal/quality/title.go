package quality

import (
	"strings"
	"unicode"
)

var titleStopwords = map[string]bool{
	// ru
	"и": true, "в": true, "на": true, "с": true, "по": true, "за": true,
	"из": true, "о": true, "об": true, "не": true, "что": true, "как": true,
	"для": true, "это": true, "от": true, "до": true, "при": true, "у": true,
	// en
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"to": true, "and": true, "for": true, "at": true, "is": true, "with": true,
}

// NormalizeTitle strips punctuation, lower-cases and drops short/stop
// words, returning the significant word set as a sorted-insert slice.
func NormalizeTitle(title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if len([]rune(w)) < 2 || titleStopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// TitleSimilar reports whether two titles describe the same story:
// exact normalized match, substring containment for long titles, or
// Jaccard similarity of significant word sets at or above threshold.
func TitleSimilar(a, b string, jaccardThreshold float64) bool {
	wa := NormalizeTitle(a)
	wb := NormalizeTitle(b)
	if len(wa) == 0 || len(wb) == 0 {
		return false
	}

	na := strings.Join(wa, " ")
	nb := strings.Join(wb, " ")
	if na == nb {
		return true
	}

	// Containment only counts for long titles; short ones contain each
	// other too easily.
	if len(wa) >= 5 && len(wb) >= 5 {
		if strings.Contains(na, nb) || strings.Contains(nb, na) {
			return true
		}
	}

	return jaccard(wa, wb) >= jaccardThreshold
}

func jaccard(a, b []string) float64 {
	sa := make(map[string]struct{}, len(a))
	for _, w := range a {
		sa[w] = struct{}{}
	}
	sb := make(map[string]struct{}, len(b))
	for _, w := range b {
		sb[w] = struct{}{}
	}
	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
