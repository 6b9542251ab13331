package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"engram/internal/memory"
)

const atomColumns = `id, project_id, session_id, run_id, atom_type, content, summary, keywords,
	prov_source, prov_ref, prov_tags, created_by,
	confidence, sensitivity, pinned, created_at, updated_at, expires_at`

// ListByProject returns atoms for a project ordered by updated_at DESC.
// limit <= 0 means no limit.
func (db *DB) ListByProject(projectID string, limit, offset int) ([]memory.MemoryAtom, error) {
	q := fmt.Sprintf(`SELECT %s FROM mem_atoms WHERE project_id = ? ORDER BY updated_at DESC`, atomColumns)
	args := []any{projectID}
	if limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list atoms: %w", err)
	}
	defer rows.Close()
	return scanAtoms(rows)
}

// FindByID returns an atom by id, or nil if not found.
func (db *DB) FindByID(id string) (*memory.MemoryAtom, error) {
	row := db.QueryRow(fmt.Sprintf(`SELECT %s FROM mem_atoms WHERE id = ?`, atomColumns), id)
	atom, err := scanAtom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find atom %s: %w", id, err)
	}
	return atom, nil
}

// Upsert inserts or replaces an atom by id.
func (db *DB) Upsert(atom *memory.MemoryAtom) error {
	keywords, err := json.Marshal(atom.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	provTags, err := json.Marshal(atom.Provenance.Tags)
	if err != nil {
		return fmt.Errorf("marshal provenance tags: %w", err)
	}

	var expiresAt any
	if atom.ExpiresAt > 0 {
		expiresAt = atom.ExpiresAt
	}

	_, err = db.Exec(`
		INSERT INTO mem_atoms (`+atomColumns+`)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			session_id = excluded.session_id,
			run_id = excluded.run_id,
			atom_type = excluded.atom_type,
			content = excluded.content,
			summary = excluded.summary,
			keywords = excluded.keywords,
			prov_source = excluded.prov_source,
			prov_ref = excluded.prov_ref,
			prov_tags = excluded.prov_tags,
			created_by = excluded.created_by,
			confidence = excluded.confidence,
			sensitivity = excluded.sensitivity,
			pinned = excluded.pinned,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`, atom.ID, atom.ProjectID, atom.SessionID, atom.RunID, atom.AtomType,
		atom.Content, atom.Summary, string(keywords),
		atom.Provenance.Source, atom.Provenance.SourceRef, string(provTags), atom.Provenance.CreatedBy,
		atom.Confidence, atom.Sensitivity, boolInt(atom.Pinned),
		atom.CreatedAt, atom.UpdatedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("upsert atom %s: %w", atom.ID, err)
	}
	return nil
}

// Update writes an existing atom's row in place, reporting whether it
// existed. Unlike Upsert it never inserts.
func (db *DB) Update(atom *memory.MemoryAtom) (bool, error) {
	keywords, err := json.Marshal(atom.Keywords)
	if err != nil {
		return false, fmt.Errorf("marshal keywords: %w", err)
	}
	provTags, err := json.Marshal(atom.Provenance.Tags)
	if err != nil {
		return false, fmt.Errorf("marshal provenance tags: %w", err)
	}

	var expiresAt any
	if atom.ExpiresAt > 0 {
		expiresAt = atom.ExpiresAt
	}

	result, err := db.Exec(`
		UPDATE mem_atoms SET
			session_id = NULLIF(?, ''),
			run_id = NULLIF(?, ''),
			atom_type = ?,
			content = ?,
			summary = ?,
			keywords = ?,
			prov_source = ?,
			prov_ref = ?,
			prov_tags = ?,
			created_by = ?,
			confidence = ?,
			sensitivity = ?,
			pinned = ?,
			updated_at = ?,
			expires_at = ?
		WHERE id = ?
	`, atom.SessionID, atom.RunID, atom.AtomType,
		atom.Content, atom.Summary, string(keywords),
		atom.Provenance.Source, atom.Provenance.SourceRef, string(provTags), atom.Provenance.CreatedBy,
		atom.Confidence, atom.Sensitivity, boolInt(atom.Pinned),
		atom.UpdatedAt, expiresAt, atom.ID)
	if err != nil {
		return false, fmt.Errorf("update atom %s: %w", atom.ID, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Delete removes an atom, reporting whether a row existed.
func (db *DB) Delete(id string) (bool, error) {
	result, err := db.Exec("DELETE FROM mem_atoms WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete atom %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Search returns atoms whose content, summary, or keywords match any token
// of the query (case-insensitive LIKE). Used as a candidate pre-filter, so
// it favors recall over precision; the scorer does the real ranking.
func (db *DB) Search(projectID, query string, limit int) ([]memory.MemoryAtom, error) {
	tokens := searchTokens(query)
	if len(tokens) == 0 {
		return db.ListByProject(projectID, limit, 0)
	}

	var clauses []string
	args := []any{projectID}
	for _, t := range tokens {
		clauses = append(clauses, "(content LIKE ? OR summary LIKE ? OR keywords LIKE ?)")
		pat := "%" + t + "%"
		args = append(args, pat, pat, pat)
	}

	q := fmt.Sprintf(`SELECT %s FROM mem_atoms WHERE project_id = ? AND (%s) ORDER BY updated_at DESC`,
		atomColumns, strings.Join(clauses, " OR "))
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("search atoms: %w", err)
	}
	defer rows.Close()
	return scanAtoms(rows)
}

// CountByProject returns the number of atoms stored for a project.
func (db *DB) CountByProject(projectID string) (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM mem_atoms WHERE project_id = ?", projectID).Scan(&count)
	return count, err
}

// searchTokens extracts lowercase alphanumeric tokens of length > 2,
// capped at 8 to bound the LIKE clause fan-out.
func searchTokens(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	var tokens []string
	for _, f := range fields {
		if len(f) > 2 {
			tokens = append(tokens, f)
		}
		if len(tokens) == 8 {
			break
		}
	}
	return tokens
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAtom(row rowScanner) (*memory.MemoryAtom, error) {
	var a memory.MemoryAtom
	var sessionID, runID, summary, keywords, provRef, provTags, createdBy sql.NullString
	var pinned int
	var expiresAt sql.NullInt64

	err := row.Scan(&a.ID, &a.ProjectID, &sessionID, &runID, &a.AtomType,
		&a.Content, &summary, &keywords,
		&a.Provenance.Source, &provRef, &provTags, &createdBy,
		&a.Confidence, &a.Sensitivity, &pinned,
		&a.CreatedAt, &a.UpdatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	a.SessionID = sessionID.String
	a.RunID = runID.String
	a.Summary = summary.String
	a.Provenance.SourceRef = provRef.String
	a.Provenance.CreatedBy = createdBy.String
	a.Pinned = pinned != 0
	if expiresAt.Valid {
		a.ExpiresAt = expiresAt.Int64
	}

	if keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &a.Keywords); err != nil {
			a.Keywords = nil // tolerate corrupt rows
		}
	}
	if provTags.String != "" {
		if err := json.Unmarshal([]byte(provTags.String), &a.Provenance.Tags); err != nil {
			a.Provenance.Tags = nil
		}
	}
	return &a, nil
}

func scanAtoms(rows *sql.Rows) ([]memory.MemoryAtom, error) {
	var atoms []memory.MemoryAtom
	for rows.Next() {
		a, err := scanAtom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan atom: %w", err)
		}
		atoms = append(atoms, *a)
	}
	return atoms, rows.Err()
}
