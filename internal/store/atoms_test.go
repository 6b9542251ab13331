package store

import (
	"testing"

	"engram/internal/memory"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testAtom(id, projectID, content string) memory.MemoryAtom {
	return memory.MemoryAtom{
		ID:          id,
		ProjectID:   projectID,
		AtomType:    memory.AtomSemantic,
		Content:     content,
		Confidence:  0.7,
		Sensitivity: memory.SensitivityNormal,
		CreatedAt:   1000,
		UpdatedAt:   1000,
		Provenance: memory.Provenance{
			Source:    "assistant",
			CreatedBy: "engram",
		},
	}
}

func TestUpsertAndFind(t *testing.T) {
	db := testDB(t)

	atom := testAtom("a1", "proj-x", "Run lint before merge.")
	atom.Summary = "Lint policy"
	atom.Keywords = []string{"lint", "ci"}
	atom.Provenance.Tags = []string{"memory:learnings"}
	atom.Pinned = true

	if err := db.Upsert(&atom); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := db.FindByID("a1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got == nil {
		t.Fatal("atom not found after upsert")
	}
	if got.Content != atom.Content || got.Summary != "Lint policy" {
		t.Errorf("content/summary mismatch: %+v", got)
	}
	if len(got.Keywords) != 2 || got.Keywords[0] != "lint" {
		t.Errorf("Keywords = %v", got.Keywords)
	}
	if len(got.Provenance.Tags) != 1 || got.Provenance.Tags[0] != "memory:learnings" {
		t.Errorf("Provenance.Tags = %v", got.Provenance.Tags)
	}
	if !got.Pinned {
		t.Error("pinned not round-tripped")
	}

	// Upsert on an existing id replaces the row.
	atom.Content = "Run lint and typecheck before merge."
	atom.UpdatedAt = 2000
	if err := db.Upsert(&atom); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	got, _ = db.FindByID("a1")
	if got.Content != "Run lint and typecheck before merge." || got.UpdatedAt != 2000 {
		t.Errorf("upsert did not replace: %+v", got)
	}

	count, err := db.CountByProject("proj-x")
	if err != nil {
		t.Fatalf("CountByProject: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestUpdateExistingRowOnly(t *testing.T) {
	db := testDB(t)

	atom := testAtom("a1", "proj-x", "original wording")
	if err := db.Upsert(&atom); err != nil {
		t.Fatal(err)
	}

	atom.Content = "revised wording"
	atom.Pinned = true
	atom.UpdatedAt = 2000
	existed, err := db.Update(&atom)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !existed {
		t.Error("Update = false for an existing row")
	}
	got, _ := db.FindByID("a1")
	if got.Content != "revised wording" || !got.Pinned || got.UpdatedAt != 2000 {
		t.Errorf("update not applied: %+v", got)
	}

	// Updating a missing row never inserts it.
	ghost := testAtom("ghost", "proj-x", "should not appear")
	existed, err = db.Update(&ghost)
	if err != nil {
		t.Fatalf("Update missing: %v", err)
	}
	if existed {
		t.Error("Update = true for a missing row")
	}
	count, _ := db.CountByProject("proj-x")
	if count != 1 {
		t.Errorf("count = %d, want 1 (no row created)", count)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	db := testDB(t)

	got, err := db.FindByID("nope")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing atom, got %+v", got)
	}
}

func TestListByProjectOrderAndLimit(t *testing.T) {
	db := testDB(t)

	for i, id := range []string{"a1", "a2", "a3"} {
		atom := testAtom(id, "proj-x", "content "+id)
		atom.UpdatedAt = int64(1000 + i)
		if err := db.Upsert(&atom); err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}
	other := testAtom("b1", "proj-y", "other project")
	if err := db.Upsert(&other); err != nil {
		t.Fatal(err)
	}

	atoms, err := db.ListByProject("proj-x", 0, 0)
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	if len(atoms) != 3 {
		t.Fatalf("len = %d, want 3", len(atoms))
	}
	// Newest first.
	if atoms[0].ID != "a3" || atoms[2].ID != "a1" {
		t.Errorf("order = %s..%s, want a3..a1", atoms[0].ID, atoms[2].ID)
	}

	limited, err := db.ListByProject("proj-x", 2, 1)
	if err != nil {
		t.Fatalf("ListByProject limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "a2" {
		t.Errorf("limit/offset wrong: %v", limited)
	}
}

func TestDeleteAtom(t *testing.T) {
	db := testDB(t)

	atom := testAtom("a1", "proj-x", "to be deleted")
	if err := db.Upsert(&atom); err != nil {
		t.Fatal(err)
	}

	deleted, err := db.Delete("a1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Error("Delete = false, want true")
	}

	deleted, err = db.Delete("a1")
	if err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if deleted {
		t.Error("second Delete = true, want false")
	}
}

func TestSearchMatchesAnyToken(t *testing.T) {
	db := testDB(t)

	lint := testAtom("a1", "proj-x", "Run lint before merging any branch.")
	lint.Keywords = []string{"cicd"}
	themes := testAtom("a2", "proj-x", "User prefers dark themes.")
	themes.Summary = "Editor preference"
	if err := db.Upsert(&lint); err != nil {
		t.Fatal(err)
	}
	if err := db.Upsert(&themes); err != nil {
		t.Fatal(err)
	}

	// Content match; case-insensitive.
	atoms, err := db.Search("proj-x", "LINT", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(atoms) != 1 || atoms[0].ID != "a1" {
		t.Errorf("content search = %v, want a1", atoms)
	}

	// Keyword match.
	atoms, _ = db.Search("proj-x", "our cicd pipeline", 10)
	found := false
	for _, a := range atoms {
		if a.ID == "a1" {
			found = true
		}
	}
	if !found {
		t.Error("keyword token did not match")
	}

	// Summary match.
	atoms, _ = db.Search("proj-x", "preference", 10)
	if len(atoms) != 1 || atoms[0].ID != "a2" {
		t.Errorf("summary search = %v, want a2", atoms)
	}

	// Short-token-only queries fall back to the full listing.
	atoms, _ = db.Search("proj-x", "a of", 10)
	if len(atoms) != 2 {
		t.Errorf("fallback listing = %d atoms, want 2", len(atoms))
	}
}

func TestScanToleratesCorruptJSON(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`
		INSERT INTO mem_atoms (id, project_id, atom_type, content, keywords, prov_tags, created_at, updated_at)
		VALUES ('a1', 'proj-x', 'semantic', 'fact', 'not-json', '{broken', 1000, 1000)
	`)
	if err != nil {
		t.Fatal(err)
	}

	got, err := db.FindByID("a1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Keywords != nil || got.Provenance.Tags != nil {
		t.Errorf("corrupt JSON should scan as nil, got %v / %v", got.Keywords, got.Provenance.Tags)
	}
}

func TestSettings(t *testing.T) {
	db := testDB(t)

	// Missing keys read as empty, not error.
	v, err := db.Get("missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if v != "" {
		t.Errorf("missing key = %q, want empty", v)
	}

	if err := db.Set("k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Set("k", "v2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, err = db.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "v2" {
		t.Errorf("Get = %q, want v2", v)
	}
}

func TestRunLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.StartRun("run-1", "proj-x", "balanced", 1000); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := db.CompleteRun("run-1", `{"merged_count":2}`, 2000); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	if err := db.StartRun("run-2", "proj-x", "aggressive", 3000); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := db.FailRun("run-2", "cancelled", 4000); err != nil {
		t.Fatalf("FailRun: %v", err)
	}

	runs, err := db.RecentRuns("proj-x", 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	// Newest first.
	if runs[0].RunID != "run-2" || runs[0].Status != "failed" || runs[0].Error != "cancelled" {
		t.Errorf("runs[0] = %+v", runs[0])
	}
	if runs[1].RunID != "run-1" || runs[1].Status != "completed" || runs[1].Stats == "" {
		t.Errorf("runs[1] = %+v", runs[1])
	}
	if runs[0].CompletedAt == nil || *runs[0].CompletedAt != 4000 {
		t.Errorf("runs[0].CompletedAt = %v, want 4000", runs[0].CompletedAt)
	}
}
