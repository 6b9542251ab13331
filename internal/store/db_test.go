package store

import (
	"testing"
)

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 5 {
		t.Errorf("SchemaVersion = %d, want 5", v)
	}
}

func TestTablesExist(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	tables := []string{"schema_versions", "mem_atoms", "settings", "consolidation_runs", "memory_queries", "memory_feedback"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMemAtomsConstraints(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	// Valid insert
	_, err = db.Exec(`
		INSERT INTO mem_atoms (id, project_id, atom_type, content, created_at, updated_at)
		VALUES ('a1', 'proj-x', 'semantic', 'some fact', 1000, 1000)
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	// Invalid atom_type
	_, err = db.Exec(`
		INSERT INTO mem_atoms (id, project_id, atom_type, content, created_at, updated_at)
		VALUES ('a2', 'proj-x', 'invalid', 'some fact', 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid atom_type, got nil")
	}

	// Invalid sensitivity
	_, err = db.Exec(`
		INSERT INTO mem_atoms (id, project_id, atom_type, content, sensitivity, created_at, updated_at)
		VALUES ('a3', 'proj-x', 'semantic', 'some fact', 'invalid', 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid sensitivity, got nil")
	}
}

func TestConsolidationRunsConstraints(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	// Valid insert
	_, err = db.Exec(`
		INSERT INTO consolidation_runs (run_id, project_id, strategy, status, started_at)
		VALUES ('run-001', 'proj-x', 'balanced', 'running', 1000)
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	// Invalid status
	_, err = db.Exec(`
		INSERT INTO consolidation_runs (run_id, project_id, strategy, status, started_at)
		VALUES ('run-002', 'proj-x', 'balanced', 'invalid', 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid status, got nil")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	// Running migrate again should be a no-op
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 5 {
		t.Errorf("SchemaVersion after re-migrate = %d, want 5", v)
	}
}

func TestWALMode(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	var mode string
	err = db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	// In-memory databases may use "memory" mode instead of WAL
	if mode != "wal" && mode != "memory" {
		t.Errorf("journal_mode = %q, want wal or memory", mode)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	var fk int
	err = db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	if err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}
