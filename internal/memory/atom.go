// Package memory implements the associative memory engine: create-time
// deduplication, hybrid relevance scoring, consolidation, and feedback.
package memory

// Atom types. "semantic" is the catch-all for derived knowledge.
const (
	AtomInstructions = "instructions"
	AtomPreference   = "preference"
	AtomContext      = "context"
	AtomSemantic     = "semantic"
)

// Memory groups — the logical view over atom types.
const (
	GroupInstructions = "instructions"
	GroupPreferences  = "preferences"
	GroupContext      = "context"
	GroupLearnings    = "learnings"
)

// DefaultGroups lists the four built-in groups. Anything else is a
// custom group tracked in the per-project registry.
var DefaultGroups = []string{GroupInstructions, GroupPreferences, GroupContext, GroupLearnings}

// Sensitivity levels.
const (
	SensitivityNormal     = "normal"
	SensitivityRestricted = "restricted"
)

// Memory sources.
const (
	SourceAuto   = "auto"
	SourceManual = "manual"
)

// Provenance records who created an atom and why.
type Provenance struct {
	Source    string   `json:"source"` // "user" or "assistant"
	SourceRef string   `json:"source_ref,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	CreatedBy string   `json:"created_by"`
}

// MemoryAtom is the durable storage unit for one fact, instruction, or
// preference. Timestamps are epoch milliseconds; ExpiresAt of 0 means never.
type MemoryAtom struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	SessionID   string     `json:"session_id,omitempty"`
	RunID       string     `json:"run_id,omitempty"`
	AtomType    string     `json:"atom_type"`
	Content     string     `json:"content"`
	Summary     string     `json:"summary,omitempty"`
	Keywords    []string   `json:"keywords,omitempty"`
	Provenance  Provenance `json:"provenance"`
	Confidence  float64    `json:"confidence"`
	Sensitivity string     `json:"sensitivity"`
	Pinned      bool       `json:"pinned"`
	CreatedAt   int64      `json:"created_at"`
	UpdatedAt   int64      `json:"updated_at"`
	ExpiresAt   int64      `json:"expires_at,omitempty"`
}

// Memory is the engine's enriched logical view over an atom plus its
// decoded metadata. Timestamps are ISO-8601 strings.
type Memory struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Content           string   `json:"content"`
	Group             string   `json:"group"`
	Tags              []string `json:"tags,omitempty"`
	Source            string   `json:"source"` // "auto" or "manual"
	Confidence        float64  `json:"confidence"`
	Pinned            bool     `json:"pinned"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
	AccessCount       int      `json:"access_count"`
	LastAccessedAt    string   `json:"last_accessed_at,omitempty"`
	RelatedSessionIDs []string `json:"related_session_ids,omitempty"`
	RelatedMemoryIDs  []string `json:"related_memory_ids,omitempty"`
}

// ScoredMemory is a Memory plus its blended relevance score in [0,1].
type ScoredMemory struct {
	Memory
	RelevanceScore float64 `json:"relevance_score"`
}

// MemoryFeedback is one recorded user action against a retrieved atom.
type MemoryFeedback struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	QueryID   string `json:"query_id"`
	AtomID    string `json:"atom_id"`
	Feedback  string `json:"feedback"` // pin, unpin, hide, or free-form
	Note      string `json:"note,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Feedback kinds with engine side effects. Anything else is recorded only.
const (
	FeedbackPin   = "pin"
	FeedbackUnpin = "unpin"
	FeedbackHide  = "hide"
)

// QueryEvidence justifies one ranked result in a query response.
type QueryEvidence struct {
	AtomID  string   `json:"atom_id"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// QueryOptions are the resolved retrieval knobs for a deep query.
type QueryOptions struct {
	Limit         int     `json:"limit"`
	LexicalWeight float64 `json:"lexical_weight"`
	DenseWeight   float64 `json:"dense_weight"`
	GraphWeight   float64 `json:"graph_weight"`
	RerankWeight  float64 `json:"rerank_weight"`
}

// MemoryQueryResult is the envelope returned by DeepQuery.
type MemoryQueryResult struct {
	QueryID         string          `json:"query_id"`
	SessionID       string          `json:"session_id,omitempty"`
	Query           string          `json:"query"`
	Options         QueryOptions    `json:"options"`
	Evidence        []QueryEvidence `json:"evidence"`
	Atoms           []MemoryAtom    `json:"atoms"`
	TotalCandidates int             `json:"total_candidates"`
	LatencyMs       int64           `json:"latency_ms"`
	CreatedAt       int64           `json:"created_at"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
