package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "mem_atoms: durable memory atoms",
		SQL: `
CREATE TABLE mem_atoms (
    id           TEXT PRIMARY KEY,
    project_id   TEXT NOT NULL,
    session_id   TEXT,
    run_id       TEXT,
    atom_type    TEXT NOT NULL CHECK (atom_type IN ('instructions', 'preference', 'context', 'semantic')),
    content      TEXT NOT NULL,
    summary      TEXT,
    keywords     TEXT,

    -- Provenance
    prov_source  TEXT NOT NULL DEFAULT 'assistant',
    prov_ref     TEXT,
    prov_tags    TEXT,
    created_by   TEXT NOT NULL DEFAULT '',

    confidence   REAL NOT NULL DEFAULT 1.0,
    sensitivity  TEXT NOT NULL DEFAULT 'normal' CHECK (sensitivity IN ('normal', 'restricted')),
    pinned       INTEGER NOT NULL DEFAULT 0,

    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL,
    expires_at   INTEGER
);

CREATE INDEX idx_atoms_project ON mem_atoms(project_id);
CREATE INDEX idx_atoms_type    ON mem_atoms(project_id, atom_type);
CREATE INDEX idx_atoms_updated ON mem_atoms(updated_at DESC);
`,
	},
	{
		Version:     2,
		Description: "settings: per-project key/value state",
		SQL: `
CREATE TABLE settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "consolidation_runs: run history",
		SQL: `
CREATE TABLE consolidation_runs (
    run_id       TEXT PRIMARY KEY,
    project_id   TEXT NOT NULL,
    strategy     TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed', 'failed')),
    stats        TEXT,
    error        TEXT,
    started_at   INTEGER NOT NULL,
    completed_at INTEGER
);

CREATE INDEX idx_runs_project ON consolidation_runs(project_id, started_at DESC);
`,
	},
	{
		Version:     4,
		Description: "memory_queries: retrieval audit log",
		SQL: `
CREATE TABLE memory_queries (
    query_id   TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    session_id TEXT,
    query      TEXT NOT NULL,
    result     TEXT NOT NULL,
    latency_ms INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_queries_project ON memory_queries(project_id, created_at DESC);
`,
	},
	{
		Version:     5,
		Description: "memory_feedback: user actions on retrieved atoms",
		SQL: `
CREATE TABLE memory_feedback (
    id         TEXT PRIMARY KEY,
    session_id TEXT,
    query_id   TEXT,
    atom_id    TEXT NOT NULL,
    feedback   TEXT NOT NULL,
    note       TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_feedback_atom ON memory_feedback(atom_id, created_at DESC);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
