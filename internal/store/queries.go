package store

import (
	"encoding/json"
	"fmt"

	"engram/internal/memory"
)

// LogQuery records a retrieval result for the audit/run-history view.
func (db *DB) LogQuery(result *memory.MemoryQueryResult, projectID string) error {
	serialized, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal query result: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO memory_queries (query_id, project_id, session_id, query, result, latency_ms, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?)
	`, result.QueryID, projectID, result.SessionID, result.Query,
		string(serialized), result.LatencyMs, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("log query %s: %w", result.QueryID, err)
	}
	return nil
}

// AddFeedback appends a feedback event.
func (db *DB) AddFeedback(fb *memory.MemoryFeedback) error {
	_, err := db.Exec(`
		INSERT INTO memory_feedback (id, session_id, query_id, atom_id, feedback, note, created_at)
		VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, NULLIF(?, ''), ?)
	`, fb.ID, fb.SessionID, fb.QueryID, fb.AtomID, fb.Feedback, fb.Note, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("add feedback %s: %w", fb.ID, err)
	}
	return nil
}

// FeedbackForAtom returns feedback events for an atom, newest first.
func (db *DB) FeedbackForAtom(atomID string, limit int) ([]memory.MemoryFeedback, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, COALESCE(session_id, ''), COALESCE(query_id, ''), atom_id, feedback, COALESCE(note, ''), created_at
		FROM memory_feedback WHERE atom_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, atomID, limit)
	if err != nil {
		return nil, fmt.Errorf("feedback for atom: %w", err)
	}
	defer rows.Close()

	var events []memory.MemoryFeedback
	for rows.Next() {
		var fb memory.MemoryFeedback
		if err := rows.Scan(&fb.ID, &fb.SessionID, &fb.QueryID, &fb.AtomID,
			&fb.Feedback, &fb.Note, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		events = append(events, fb)
	}
	return events, rows.Err()
}
