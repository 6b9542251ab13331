package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// normalizeText lowercases, strips everything outside [a-z0-9 whitespace],
// collapses runs of whitespace, and trims.
func normalizeText(text string) string {
	text = strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// tokenize normalizes text and splits it into tokens, dropping tokens of
// length <= 2 (articles, pronouns, noise).
func tokenize(text string) []string {
	var tokens []string
	for _, t := range strings.Fields(normalizeText(text)) {
		if len(t) > 2 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// jaccard computes |A∩B| / |A∪B| over two token lists.
// Returns 0 if either set is empty.
func jaccard(a, b []string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for t := range setA {
		if setB[t] {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// contentHash returns a stable hash of the normalized text, used for
// exact-duplicate detection independent of wording noise.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(normalizeText(text)))
	return hex.EncodeToString(sum[:16])
}
