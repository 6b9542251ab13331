package memory

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeepQueryOptions are the caller-facing retrieval knobs. Zero values
// fall back to defaults; everything is clamped before scoring.
type DeepQueryOptions struct {
	Limit         int      `json:"limit,omitempty"`
	LexicalWeight *float64 `json:"lexical_weight,omitempty"`
	DenseWeight   *float64 `json:"dense_weight,omitempty"`
	GraphWeight   *float64 `json:"graph_weight,omitempty"`
	RerankWeight  *float64 `json:"rerank_weight,omitempty"`
}

func resolveQueryOptions(opts DeepQueryOptions) QueryOptions {
	resolved := QueryOptions{
		Limit:         8,
		LexicalWeight: DefaultWeights.Lexical,
		DenseWeight:   DefaultWeights.Dense,
		GraphWeight:   DefaultWeights.Graph,
		RerankWeight:  DefaultWeights.Rerank,
	}
	if opts.Limit > 0 {
		resolved.Limit = opts.Limit
	} else if opts.Limit < 0 {
		resolved.Limit = 1
	}
	if resolved.Limit > 50 {
		resolved.Limit = 50
	}
	if opts.LexicalWeight != nil {
		resolved.LexicalWeight = clamp01(*opts.LexicalWeight)
	}
	if opts.DenseWeight != nil {
		resolved.DenseWeight = clamp01(*opts.DenseWeight)
	}
	if opts.GraphWeight != nil {
		resolved.GraphWeight = clamp01(*opts.GraphWeight)
	}
	if opts.RerankWeight != nil {
		resolved.RerankWeight = clamp01(*opts.RerankWeight)
	}
	return resolved
}

// DeepQuery runs the hybrid scorer over the project's candidate atoms
// and returns the ranked result envelope with per-atom evidence. The
// result is logged through the query log before returning.
func (e *Engine) DeepQuery(sessionID, query string, opts DeepQueryOptions) (*MemoryQueryResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	started := time.Now()
	resolved := resolveQueryOptions(opts)

	candidates, err := e.candidateAtoms(query)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]MemoryAtom, len(candidates))
	memories := make([]Memory, 0, len(candidates))
	for _, a := range candidates {
		byID[a.ID] = a
		memories = append(memories, atomToMemory(a))
	}

	weights := ScoreWeights{
		Lexical: resolved.LexicalWeight,
		Dense:   resolved.DenseWeight,
		Graph:   resolved.GraphWeight,
		Rerank:  resolved.RerankWeight,
	}
	scored := scoreMemories(e.lexical, memories, query, weights, resolved.Limit)

	result := &MemoryQueryResult{
		QueryID:         uuid.NewString(),
		SessionID:       sessionID,
		Query:           query,
		Options:         resolved,
		Evidence:        make([]QueryEvidence, 0, len(scored)),
		Atoms:           make([]MemoryAtom, 0, len(scored)),
		TotalCandidates: len(candidates),
		CreatedAt:       time.Now().UnixMilli(),
	}
	for _, s := range scored {
		atom, ok := byID[s.ID]
		if !ok {
			continue
		}
		result.Atoms = append(result.Atoms, atom)
		result.Evidence = append(result.Evidence, QueryEvidence{
			AtomID:  s.ID,
			Score:   s.RelevanceScore,
			Reasons: evidenceReasons(s.Memory),
		})
	}
	result.LatencyMs = time.Since(started).Milliseconds()

	if err := e.queries.LogQuery(result, e.projectID); err != nil {
		log.Printf("memory: log query %s: %v", result.QueryID, err)
	}
	return result, nil
}

// candidateAtoms loads the retrieval candidate set: the repository's
// search pre-filter when the query is non-blank (falling back to the
// full listing when it matches nothing), minus restricted and expired
// atoms.
func (e *Engine) candidateAtoms(query string) ([]MemoryAtom, error) {
	var atoms []MemoryAtom
	var err error
	if strings.TrimSpace(query) != "" {
		atoms, err = e.repo.Search(e.projectID, query, 200)
		if err != nil {
			return nil, fmt.Errorf("search candidates: %w", err)
		}
	}
	if len(atoms) == 0 {
		atoms, err = e.repo.ListByProject(e.projectID, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
	}

	now := time.Now().UnixMilli()
	var eligible []MemoryAtom
	for _, a := range atoms {
		if a.Sensitivity == SensitivityRestricted {
			continue
		}
		if a.ExpiresAt > 0 && a.ExpiresAt < now {
			continue
		}
		eligible = append(eligible, a)
	}
	return eligible, nil
}

func evidenceReasons(m Memory) []string {
	reasons := []string{
		"group:" + m.Group,
		fmt.Sprintf("confidence:%.2f", m.Confidence),
	}
	for i, tag := range m.Tags {
		if i == 3 {
			break
		}
		reasons = append(reasons, "tag:"+tag)
	}
	return reasons
}

// GetRelevantMemories is the convenience retrieval surface: default
// weights, ranked memories only.
func (e *Engine) GetRelevantMemories(query string, limit int) ([]ScoredMemory, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	result, err := e.DeepQuery("", query, DeepQueryOptions{Limit: limit})
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredMemory, 0, len(result.Atoms))
	for i, atom := range result.Atoms {
		scored = append(scored, ScoredMemory{
			Memory:         atomToMemory(atom),
			RelevanceScore: result.Evidence[i].Score,
		})
	}
	return scored, nil
}
