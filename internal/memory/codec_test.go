package memory

import (
	"testing"
	"time"
)

func TestMetaRoundTrip(t *testing.T) {
	meta := atomMeta{
		Group:             "debugging",
		Source:            SourceManual,
		AccessCount:       7,
		LastAccessedAt:    "2026-08-20T10:00:00Z",
		RelatedSessionIDs: []string{"sess-1", "sess-2"},
		RelatedMemoryIDs:  []string{"mem-9"},
		ContentHash:       contentHash("some content"),
		CreatedAt:         "2026-08-01T00:00:00Z",
		UpdatedAt:         "2026-08-20T10:00:00Z",
	}

	decoded := decodeMeta(encodeMeta(meta))
	if decoded.Group != meta.Group || decoded.Source != meta.Source {
		t.Errorf("group/source lost: %+v", decoded)
	}
	if decoded.AccessCount != 7 || decoded.LastAccessedAt != meta.LastAccessedAt {
		t.Errorf("access bookkeeping lost: %+v", decoded)
	}
	if len(decoded.RelatedSessionIDs) != 2 || len(decoded.RelatedMemoryIDs) != 1 {
		t.Errorf("related ids lost: %+v", decoded)
	}
	if decoded.ContentHash != meta.ContentHash {
		t.Error("content hash lost")
	}
}

func TestDecodeMetaNeverFails(t *testing.T) {
	cases := []string{
		"",
		"plain reference string",
		"mm1:",
		"mm1:!!!not-base64!!!",
		"mm1:bm90IGpzb24=", // valid base64, not JSON
	}
	for _, c := range cases {
		meta := decodeMeta(c) // must not panic
		if meta.AccessCount != 0 {
			t.Errorf("decodeMeta(%q) produced non-zero metadata", c)
		}
	}

	// A plain string survives as an opaque reference.
	if got := decodeMeta("ticket-123").Ref; got != "ticket-123" {
		t.Errorf("plain ref = %q, want ticket-123", got)
	}
}

func TestGroupMapping(t *testing.T) {
	cases := []struct {
		atomType string
		group    string
	}{
		{AtomInstructions, GroupInstructions},
		{AtomPreference, GroupPreferences},
		{AtomContext, GroupContext},
		{AtomSemantic, GroupLearnings},
		{"something-unknown", GroupLearnings},
	}
	for _, c := range cases {
		if got := groupForAtomType(c.atomType); got != c.group {
			t.Errorf("groupForAtomType(%s) = %s, want %s", c.atomType, got, c.group)
		}
	}

	// Unknown groups land in the semantic bucket.
	if got := atomTypeForGroup("debugging"); got != AtomSemantic {
		t.Errorf("atomTypeForGroup(debugging) = %s, want semantic", got)
	}
	if got := atomTypeForGroup(GroupPreferences); got != AtomPreference {
		t.Errorf("atomTypeForGroup(preferences) = %s, want preference", got)
	}
}

func TestMemoryAtomRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	m := Memory{
		ID:                "mem-1",
		Title:             "Lint before merge",
		Content:           "Always run lint and typecheck before merging.",
		Group:             "debugging", // custom group
		Tags:              []string{"lint", "ci"},
		Source:            SourceManual,
		Confidence:        0.92,
		Pinned:            true,
		CreatedAt:         now.Format(time.RFC3339),
		UpdatedAt:         now.Format(time.RFC3339),
		AccessCount:       3,
		LastAccessedAt:    now.Format(time.RFC3339),
		RelatedSessionIDs: []string{"sess-1"},
		RelatedMemoryIDs:  []string{"mem-2", "mem-3"},
	}

	got := atomToMemory(memoryToAtom(m, "proj-test"))

	if got.ID != m.ID || got.Title != m.Title || got.Content != m.Content {
		t.Errorf("identity fields lost: %+v", got)
	}
	if got.Group != "debugging" {
		t.Errorf("custom group = %q, want debugging", got.Group)
	}
	if got.Source != SourceManual || got.Confidence != 0.92 || !got.Pinned {
		t.Errorf("source/confidence/pinned lost: %+v", got)
	}
	if got.AccessCount != 3 || got.LastAccessedAt != m.LastAccessedAt {
		t.Errorf("access bookkeeping lost: %+v", got)
	}
	if len(got.RelatedSessionIDs) != 1 || len(got.RelatedMemoryIDs) != 2 {
		t.Errorf("related ids lost: %+v", got)
	}
	if got.CreatedAt != m.CreatedAt || got.UpdatedAt != m.UpdatedAt {
		t.Errorf("timestamps = %s/%s, want %s/%s", got.CreatedAt, got.UpdatedAt, m.CreatedAt, m.UpdatedAt)
	}
}
