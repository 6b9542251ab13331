package store

import (
	"database/sql"
	"fmt"
)

// ConsolidationRun is one row of consolidation run history.
type ConsolidationRun struct {
	RunID       string
	ProjectID   string
	Strategy    string
	Status      string // running, completed, failed
	Stats       string // serialized ConsolidationResult
	Error       string
	StartedAt   int64
	CompletedAt *int64
}

// StartRun inserts a run row with status=running.
func (db *DB) StartRun(runID, projectID, strategy string, startedAt int64) error {
	_, err := db.Exec(`
		INSERT INTO consolidation_runs (run_id, project_id, strategy, status, started_at)
		VALUES (?, ?, ?, 'running', ?)
	`, runID, projectID, strategy, startedAt)
	if err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	return nil
}

// CompleteRun marks a run completed with its serialized stats.
func (db *DB) CompleteRun(runID, stats string, completedAt int64) error {
	_, err := db.Exec(`
		UPDATE consolidation_runs SET status = 'completed', stats = ?, completed_at = ?
		WHERE run_id = ?
	`, stats, completedAt, runID)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}
	return nil
}

// FailRun marks a run failed with the error text.
func (db *DB) FailRun(runID, errText string, completedAt int64) error {
	_, err := db.Exec(`
		UPDATE consolidation_runs SET status = 'failed', error = ?, completed_at = ?
		WHERE run_id = ?
	`, errText, completedAt, runID)
	if err != nil {
		return fmt.Errorf("fail run %s: %w", runID, err)
	}
	return nil
}

// RecentRuns returns the latest runs for a project, newest first.
func (db *DB) RecentRuns(projectID string, limit int) ([]ConsolidationRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Query(`
		SELECT run_id, project_id, strategy, status, stats, error, started_at, completed_at
		FROM consolidation_runs WHERE project_id = ?
		ORDER BY started_at DESC LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var runs []ConsolidationRun
	for rows.Next() {
		var r ConsolidationRun
		var stats, errText sql.NullString
		var completedAt sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.ProjectID, &r.Strategy, &r.Status,
			&stats, &errText, &r.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Stats = stats.String
		r.Error = errText.String
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Int64
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
