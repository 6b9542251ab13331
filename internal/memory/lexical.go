package memory

import "strings"

// LexicalRanker scores candidates against a query using term and
// substring matching. It is a replaceable module: a BM25 or full-text
// backend can implement the same contract.
type LexicalRanker interface {
	// Rank returns a score in [0,1] per memory id. Missing ids score 0.
	Rank(query string, candidates []Memory) map[string]float64
}

// TermRanker is the default lexical ranker: matched-term ratio with a
// bonus when the whole query appears as a substring.
type TermRanker struct{}

func (TermRanker) Rank(query string, candidates []Memory) map[string]float64 {
	queryTokens := tokenize(query)
	normQuery := normalizeText(query)
	scores := make(map[string]float64, len(candidates))

	for _, m := range candidates {
		text := normalizeText(m.Title + " " + m.Content + " " + strings.Join(m.Tags, " "))
		if text == "" {
			scores[m.ID] = 0
			continue
		}

		score := 0.0
		if len(queryTokens) > 0 {
			hits := 0
			for _, t := range queryTokens {
				if strings.Contains(text, t) {
					hits++
				}
			}
			score = float64(hits) / float64(len(queryTokens))
		}
		if normQuery != "" && strings.Contains(text, normQuery) {
			score += 0.2
		}
		scores[m.ID] = clamp01(score)
	}
	return scores
}
