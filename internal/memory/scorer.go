package memory

import (
	"sort"
	"strings"
)

// ScoreWeights are the blend weights for the four relevance signals.
// Each weight is clamped to [0,1] independently; callers pick weights
// that sum near 1.0 but no normalization is enforced.
type ScoreWeights struct {
	Lexical float64
	Dense   float64
	Graph   float64
	Rerank  float64
}

// DefaultWeights are the retrieval defaults.
var DefaultWeights = ScoreWeights{Lexical: 0.35, Dense: 0.4, Graph: 0.15, Rerank: 0.1}

func (w ScoreWeights) clamped() ScoreWeights {
	return ScoreWeights{
		Lexical: clamp01(w.Lexical),
		Dense:   clamp01(w.Dense),
		Graph:   clamp01(w.Graph),
		Rerank:  clamp01(w.Rerank),
	}
}

// minRelevance is the floor below which results are dropped before the
// limit is applied.
const minRelevance = 0.05

// scoreMemories blends lexical, dense (token-overlap), graph, and
// rerank (exact-match) signals into one relevance score per candidate
// and returns the ranked, thresholded, size-limited list.
func scoreMemories(ranker LexicalRanker, candidates []Memory, query string, weights ScoreWeights, limit int) []ScoredMemory {
	if strings.TrimSpace(query) == "" || len(candidates) == 0 {
		return []ScoredMemory{}
	}
	weights = weights.clamped()
	queryTokens := tokenize(query)

	lexical := ranker.Rank(query, candidates)

	var scored []ScoredMemory
	for _, m := range candidates {
		memTokens := tokenize(m.Title + " " + m.Content)

		dense := jaccard(queryTokens, memTokens)
		coverage := queryCoverage(queryTokens, memTokens)
		graph := graphSignal(m)
		rerank := rerankSignal(m, query)

		raw := lexical[m.ID]*weights.Lexical +
			dense*weights.Dense +
			graph*weights.Graph +
			rerank*weights.Rerank

		// Coverage boosts confidence in the blend rather than adding
		// a fifth term.
		coverageFactor := 0.7 + 0.3*coverage
		final := clamp01(raw * coverageFactor * m.Confidence)

		if final > minRelevance {
			scored = append(scored, ScoredMemory{Memory: m, RelevanceScore: final})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	if scored == nil {
		scored = []ScoredMemory{}
	}
	return scored
}

// queryCoverage is the fraction of query tokens present in the memory.
func queryCoverage(queryTokens, memTokens []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	set := tokenSet(memTokens)
	hits := 0
	for _, t := range queryTokens {
		if set[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// graphSignal rewards well-connected memories: links to other memories
// saturate at 5, session links at 8 with a lower ceiling.
func graphSignal(m Memory) float64 {
	related := float64(len(m.RelatedMemoryIDs)) / 5
	if related > 1 {
		related = 1
	}
	sessions := float64(len(m.RelatedSessionIDs)) / 8
	if sessions > 1 {
		sessions = 1
	}
	if v := 0.6 * sessions; v > related {
		return v
	}
	return related
}

// rerankSignal is the exact/substring heuristic ladder.
func rerankSignal(m Memory, query string) float64 {
	normQuery := normalizeText(query)
	normTitle := normalizeText(m.Title)
	normContent := normalizeText(m.Content)

	switch {
	case normTitle != "" && normTitle == normQuery:
		return 1.0
	case normTitle != "" && strings.Contains(normTitle, normQuery) && normQuery != "":
		return 0.9
	case normQuery != "" && strings.Contains(normContent, normQuery):
		return 0.75
	}
	lowerQuery := strings.ToLower(query)
	for _, tag := range m.Tags {
		if tag != "" && strings.Contains(lowerQuery, strings.ToLower(tag)) {
			return 0.55
		}
	}
	return 0.2
}
