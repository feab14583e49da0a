package transcript

import (
	"strings"
	"unicode"
)

// refinementThreshold is the minimum shared-prefix ratio for two texts
// to count as the same utterance being rewritten. Chosen empirically:
// live captions rewrite the tail of a sentence, so genuine refinements
// share most of their prefix, while distinct utterances rarely do.
const refinementThreshold = 0.8

// normalizeCaption lowercases, collapses runs of whitespace, and strips
// trailing punctuation so cosmetic redraws compare equal.
func normalizeCaption(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), ".,!?;:")
}

// isRefinement reports whether next looks like a redraw of prev: equal
// after normalization, an extension, a truncation, or sharing a long
// common prefix.
func isRefinement(prev, next string) bool {
	p := normalizeCaption(prev)
	n := normalizeCaption(next)
	if p == "" || n == "" {
		return p == n
	}
	if p == n {
		return true
	}
	if strings.HasPrefix(n, p) || strings.HasPrefix(p, n) {
		return true
	}
	shorter := len(p)
	if len(n) < shorter {
		shorter = len(n)
	}
	common := 0
	for common < shorter && p[common] == n[common] {
		common++
	}
	return float64(common)/float64(shorter) >= refinementThreshold
}
