package memory_test

import (
	"strings"
	"testing"
	"time"

	"engram/internal/memory"
)

func seedMemories(t *testing.T, eng *memory.Engine) {
	t.Helper()
	inputs := []memory.CreateInput{
		{Content: "Run lint and typecheck before merging any branch.", Group: memory.GroupLearnings, Tags: []string{"lint", "ci"}},
		{Content: "User prefers tabs over spaces in this project.", Group: memory.GroupPreferences},
		{Content: "The staging database lives on the internal network.", Group: memory.GroupContext},
	}
	for _, in := range inputs {
		if _, err := eng.Create(in); err != nil {
			t.Fatalf("seed memory: %v", err)
		}
	}
}

func TestDeepQueryEnvelope(t *testing.T) {
	_, eng := newTestEngine(t)
	seedMemories(t, eng)

	result, err := eng.DeepQuery("sess-1", "lint and typecheck before merge", memory.DeepQueryOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if result.QueryID == "" {
		t.Error("missing query id")
	}
	if result.SessionID != "sess-1" {
		t.Errorf("session id = %q", result.SessionID)
	}
	if result.Options.Limit != 8 {
		t.Errorf("default limit = %d, want 8", result.Options.Limit)
	}
	if len(result.Atoms) == 0 {
		t.Fatal("expected at least one ranked atom")
	}
	if len(result.Atoms) != len(result.Evidence) {
		t.Fatalf("atoms/evidence mismatch: %d vs %d", len(result.Atoms), len(result.Evidence))
	}
	if result.TotalCandidates == 0 {
		t.Error("candidate count not reported")
	}
	if result.LatencyMs < 0 {
		t.Errorf("latency = %d", result.LatencyMs)
	}

	// The lint memory should rank first, with evidence naming its group,
	// confidence, and tags.
	top := result.Evidence[0]
	if !strings.Contains(result.Atoms[0].Content, "lint") {
		t.Errorf("top atom = %q, want the lint memory", result.Atoms[0].Content)
	}
	joined := strings.Join(top.Reasons, "|")
	if !strings.Contains(joined, "group:learnings") {
		t.Errorf("evidence missing group reason: %v", top.Reasons)
	}
	if !strings.Contains(joined, "confidence:") {
		t.Errorf("evidence missing confidence reason: %v", top.Reasons)
	}
	if !strings.Contains(joined, "tag:lint") {
		t.Errorf("evidence missing tag reason: %v", top.Reasons)
	}
	if top.Score <= 0 || top.Score > 1 {
		t.Errorf("evidence score = %.4f, outside (0, 1]", top.Score)
	}
}

func TestDeepQueryIsLogged(t *testing.T) {
	db, eng := newTestEngine(t)
	seedMemories(t, eng)

	result, err := eng.DeepQuery("", "lint before merge", memory.DeepQueryOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var stored string
	err = db.QueryRow("SELECT result FROM memory_queries WHERE query_id = ?", result.QueryID).Scan(&stored)
	if err != nil {
		t.Fatalf("query log row: %v", err)
	}
	if !strings.Contains(stored, result.QueryID) {
		t.Error("logged result does not round-trip the query id")
	}
}

func TestDeepQueryOptionClamping(t *testing.T) {
	_, eng := newTestEngine(t)
	seedMemories(t, eng)

	over := 3.0
	result, err := eng.DeepQuery("", "lint", memory.DeepQueryOptions{
		Limit:         500,
		LexicalWeight: &over,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Options.Limit != 50 {
		t.Errorf("limit = %d, want clamped to 50", result.Options.Limit)
	}
	if result.Options.LexicalWeight != 1 {
		t.Errorf("lexical weight = %.2f, want clamped to 1", result.Options.LexicalWeight)
	}

	// Negative limits clamp to 1; zero means unset and takes the default.
	result, err = eng.DeepQuery("", "lint", memory.DeepQueryOptions{Limit: -5})
	if err != nil {
		t.Fatal(err)
	}
	if result.Options.Limit != 1 {
		t.Errorf("negative limit = %d, want clamped to 1", result.Options.Limit)
	}
	result, err = eng.DeepQuery("", "lint", memory.DeepQueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Options.Limit != 8 {
		t.Errorf("unset limit = %d, want default 8", result.Options.Limit)
	}
}

func TestHiddenAtomsExcludedFromRetrieval(t *testing.T) {
	_, eng := newTestEngine(t)

	created, err := eng.Create(memory.CreateInput{
		Content: "Run lint and typecheck before merging any branch.",
		Group:   memory.GroupLearnings,
	})
	if err != nil {
		t.Fatal(err)
	}

	before, err := eng.GetRelevantMemories("lint and typecheck before merge", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) == 0 {
		t.Fatal("memory should be retrievable before hiding")
	}

	if _, err := eng.ApplyFeedback(memory.FeedbackInput{AtomID: created.ID, Feedback: memory.FeedbackHide}); err != nil {
		t.Fatal(err)
	}

	after, err := eng.GetRelevantMemories("lint and typecheck before merge", 5)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range after {
		if m.ID == created.ID {
			t.Error("hidden atom still retrievable")
		}
	}
}

func TestExpiredAtomsExcludedFromRetrieval(t *testing.T) {
	db, eng := newTestEngine(t)
	now := time.Now().UnixMilli()

	expired := memory.MemoryAtom{
		ID:          "exp-1",
		ProjectID:   eng.ProjectID(),
		AtomType:    memory.AtomContext,
		Content:     "Temporary token for lint service rotation.",
		Confidence:  0.9,
		Sensitivity: memory.SensitivityNormal,
		CreatedAt:   now - 1000,
		UpdatedAt:   now - 1000,
		ExpiresAt:   now - 1,
	}
	if err := db.Upsert(&expired); err != nil {
		t.Fatal(err)
	}

	result, err := eng.DeepQuery("", "lint token rotation", memory.DeepQueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range result.Atoms {
		if a.ID == "exp-1" {
			t.Error("expired atom still retrievable")
		}
	}
	if result.TotalCandidates != 0 {
		t.Errorf("candidates = %d, want expired atom excluded from the pool", result.TotalCandidates)
	}
}

func TestGetRelevantMemoriesSorted(t *testing.T) {
	_, eng := newTestEngine(t)
	seedMemories(t, eng)

	scored, err := eng.GetRelevantMemories("lint and typecheck before merge", 5)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(scored); i++ {
		if scored[i-1].RelevanceScore < scored[i].RelevanceScore {
			t.Errorf("results not sorted at %d", i)
		}
	}
}

// A paraphrased query that shares no exact sentence with the stored
// memory must still retrieve it through the token pre-filter.
func TestDeepQueryParaphrase(t *testing.T) {
	_, eng := newTestEngine(t)
	seedMemories(t, eng)

	result, err := eng.DeepQuery("", "what checks run before we merge", memory.DeepQueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, a := range result.Atoms {
		if strings.Contains(a.Content, "lint and typecheck") {
			found = true
		}
	}
	if !found {
		t.Error("paraphrased query failed to retrieve the lint memory")
	}
}
