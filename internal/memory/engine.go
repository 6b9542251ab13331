package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// nearDuplicateThreshold is the jaccard similarity above which a new
// memory is merged into an existing one instead of inserted.
const nearDuplicateThreshold = 0.9

// Engine is the per-project memory engine. All atom writes (create,
// update, feedback, access bookkeeping, consolidate) are serialized
// through a single mutex — consolidation is a read-then-write pass over
// the full atom set and must not race with any other writer.
type Engine struct {
	repo     AtomRepository
	settings SettingsStore
	queries  QueryLog
	runs     RunLog
	lexical  LexicalRanker

	projectID string
	workDir   string

	mu          sync.Mutex
	initialized bool
	state       projectState
}

// projectState is the typed per-project state kept in the settings
// store under a single key, replacing ad hoc string-prefixed entries.
type projectState struct {
	CustomGroups      []string `json:"custom_groups,omitempty"`
	LegacyImported    bool     `json:"legacy_imported,omitempty"`
	LastConsolidation int64    `json:"last_consolidation_ms,omitempty"`
}

// ProjectIDForPath derives a stable project id from a working-directory
// path. The same directory always maps to the same project.
func ProjectIDForPath(path string) string {
	clean := filepath.ToSlash(filepath.Clean(path))
	sum := sha256.Sum256([]byte(clean))
	return "proj-" + hex.EncodeToString(sum[:8])
}

// New creates an Engine for the project identified by workDir.
// Call Init before use.
func New(repo AtomRepository, settings SettingsStore, queries QueryLog, runs RunLog, workDir string) *Engine {
	return &Engine{
		repo:      repo,
		settings:  settings,
		queries:   queries,
		runs:      runs,
		lexical:   TermRanker{},
		projectID: ProjectIDForPath(workDir),
		workDir:   workDir,
	}
}

// SetLexicalRanker swaps the lexical scoring module.
func (e *Engine) SetLexicalRanker(r LexicalRanker) {
	if r != nil {
		e.lexical = r
	}
}

// ProjectID returns the engine's derived project id.
func (e *Engine) ProjectID() string { return e.projectID }

// Init loads the project state. Every public method fails until Init
// has succeeded.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.loadState(); err != nil {
		return fmt.Errorf("load project state: %w", err)
	}
	if !e.state.LegacyImported {
		// First run for this project. Legacy file import happens outside
		// this core; we only record that setup ran.
		e.state.LegacyImported = true
		if err := e.saveState(); err != nil {
			return fmt.Errorf("save project state: %w", err)
		}
	}
	e.initialized = true
	return nil
}

func (e *Engine) stateKey() string {
	return "engram.project." + e.projectID
}

func (e *Engine) loadState() error {
	raw, err := e.settings.Get(e.stateKey())
	if err != nil {
		return err
	}
	if raw == "" {
		e.state = projectState{}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &e.state); err != nil {
		// Corrupt state is recoverable: start fresh rather than wedge.
		log.Printf("memory: corrupt project state for %s, resetting: %v", e.projectID, err)
		e.state = projectState{}
	}
	return nil
}

func (e *Engine) saveState() error {
	raw, err := json.Marshal(e.state)
	if err != nil {
		return err
	}
	return e.settings.Set(e.stateKey(), string(raw))
}

func (e *Engine) ready() error {
	if !e.initialized {
		return fmt.Errorf("memory engine not initialized")
	}
	return nil
}

// CreateInput describes a memory to store.
type CreateInput struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Group      string   `json:"group"`
	Tags       []string `json:"tags,omitempty"`
	Source     string   `json:"source"` // "auto" or "manual"
	Confidence *float64 `json:"confidence,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
}

// Create stores a new memory, or merges it into an existing
// near-duplicate. At most one atom exists per (project, near-duplicate
// content) pair.
func (e *Engine) Create(input CreateInput) (*Memory, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, fmt.Errorf("memory content is required")
	}
	if input.Group == "" {
		input.Group = GroupLearnings
	}
	if input.Source == "" {
		input.Source = SourceAuto
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	atoms, err := e.repo.ListByProject(e.projectID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list atoms: %w", err)
	}

	if dup := findDuplicate(atoms, input); dup != nil {
		return e.mergeIntoExisting(dup, input)
	}

	now := time.Now().UnixMilli()
	confidence := 1.0
	if input.Source == SourceAuto {
		confidence = 0.7
	}
	if input.Confidence != nil {
		confidence = clamp01(*input.Confidence)
	}

	m := Memory{
		ID:         uuid.NewString(),
		Title:      input.Title,
		Content:    input.Content,
		Group:      input.Group,
		Tags:       dedupeStrings(input.Tags),
		Source:     input.Source,
		Confidence: confidence,
		CreatedAt:  isoMillis(now),
		UpdatedAt:  isoMillis(now),
	}
	if input.SessionID != "" {
		m.RelatedSessionIDs = []string{input.SessionID}
	}

	atom := memoryToAtom(m, e.projectID)
	atom.SessionID = input.SessionID
	if err := e.repo.Upsert(&atom); err != nil {
		return nil, fmt.Errorf("store atom: %w", err)
	}

	if err := e.registerGroupLocked(input.Group); err != nil {
		return nil, err
	}

	result := atomToMemory(atom)
	return &result, nil
}

// findDuplicate locates an existing atom the input should merge into:
// first by exact content hash anywhere in the project, then by token
// similarity within the same group. The scan is O(n) per create, which
// is fine at the hundreds-of-atoms scale this engine targets; a token
// index can back this same contract later.
func findDuplicate(atoms []MemoryAtom, input CreateInput) *MemoryAtom {
	hash := contentHash(input.Content)
	for i := range atoms {
		meta := decodeMeta(atoms[i].Provenance.SourceRef)
		stored := meta.ContentHash
		if stored == "" {
			stored = contentHash(atoms[i].Content)
		}
		if stored == hash {
			return &atoms[i]
		}
	}

	inputTokens := tokenize(input.Content)
	for i := range atoms {
		m := atomToMemory(atoms[i])
		if m.Group != input.Group {
			continue
		}
		if jaccard(inputTokens, tokenize(atoms[i].Content)) >= nearDuplicateThreshold {
			return &atoms[i]
		}
	}
	return nil
}

// mergeIntoExisting folds a duplicate create into the atom it matched.
func (e *Engine) mergeIntoExisting(atom *MemoryAtom, input CreateInput) (*Memory, error) {
	existing := atomToMemory(*atom)

	atom.Keywords = dedupeStrings(append(atom.Keywords, input.Tags...))

	// Prefer the more detailed wording.
	if normalizeText(input.Content) != normalizeText(atom.Content) &&
		len(input.Content) > len(atom.Content) {
		atom.Content = input.Content
	}

	// Manual confirmation upgrades auto-derived titles.
	if existing.Source == SourceAuto && input.Source == SourceManual && input.Title != "" {
		atom.Summary = input.Title
	}

	if input.Confidence != nil && clamp01(*input.Confidence) > atom.Confidence {
		atom.Confidence = clamp01(*input.Confidence)
	}

	now := time.Now().UnixMilli()
	atom.UpdatedAt = now
	withMeta(atom, func(meta *atomMeta) {
		meta.ContentHash = contentHash(atom.Content)
		meta.UpdatedAt = isoMillis(now)
		if input.SessionID != "" {
			meta.RelatedSessionIDs = dedupeStrings(append(meta.RelatedSessionIDs, input.SessionID))
		}
	})

	if err := e.repo.Upsert(atom); err != nil {
		return nil, fmt.Errorf("merge atom %s: %w", atom.ID, err)
	}

	result := atomToMemory(*atom)
	return &result, nil
}

// Read returns a memory by id, or nil if not found. Reading bumps the
// access counters best-effort; a lost counter update is acceptable, but
// the write targets only the existing row so a removed atom is never
// recreated.
func (e *Engine) Read(id string) (*Memory, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	atom, err := e.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if atom == nil {
		return nil, nil
	}

	withMeta(atom, func(meta *atomMeta) {
		meta.AccessCount++
		meta.LastAccessedAt = isoMillis(time.Now().UnixMilli())
	})
	if _, err := e.repo.Update(atom); err != nil {
		log.Printf("memory: access bookkeeping for %s: %v", id, err)
	}

	m := atomToMemory(*atom)
	return &m, nil
}

// UpdateInput holds the mutable fields of a memory. Nil pointers leave
// the field unchanged.
type UpdateInput struct {
	Title      *string  `json:"title,omitempty"`
	Content    *string  `json:"content,omitempty"`
	Group      *string  `json:"group,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Pinned     *bool    `json:"pinned,omitempty"`
}

// Update applies changes to a memory. Returns nil if the id is unknown.
func (e *Engine) Update(id string, input UpdateInput) (*Memory, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	atom, err := e.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if atom == nil {
		return nil, nil
	}

	if input.Title != nil {
		atom.Summary = *input.Title
	}
	if input.Content != nil && strings.TrimSpace(*input.Content) != "" {
		atom.Content = *input.Content
	}
	if input.Tags != nil {
		atom.Keywords = dedupeStrings(input.Tags)
	}
	if input.Confidence != nil {
		atom.Confidence = clamp01(*input.Confidence)
	}
	if input.Pinned != nil {
		atom.Pinned = *input.Pinned
	}

	now := time.Now().UnixMilli()
	atom.UpdatedAt = now
	withMeta(atom, func(meta *atomMeta) {
		meta.ContentHash = contentHash(atom.Content)
		meta.UpdatedAt = isoMillis(now)
		if input.Group != nil && *input.Group != "" {
			meta.Group = *input.Group
		}
	})
	if input.Group != nil && *input.Group != "" {
		atom.AtomType = atomTypeForGroup(*input.Group)
		if err := e.registerGroupLocked(*input.Group); err != nil {
			return nil, err
		}
	}

	if err := e.repo.Upsert(atom); err != nil {
		return nil, fmt.Errorf("update atom %s: %w", id, err)
	}

	m := atomToMemory(*atom)
	return &m, nil
}

// Delete removes a memory, reporting whether it existed.
func (e *Engine) Delete(id string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.repo.Delete(id)
}

// CreateGroup registers a custom group name.
func (e *Engine) CreateGroup(name string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("group name is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registerGroupLocked(name)
}

// DeleteGroup unregisters a custom group and moves its memories to the
// learnings group. Default groups cannot be deleted.
func (e *Engine) DeleteGroup(name string) error {
	if err := e.ready(); err != nil {
		return err
	}
	for _, g := range DefaultGroups {
		if g == name {
			return fmt.Errorf("cannot delete default group %q", name)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	atoms, err := e.repo.ListByProject(e.projectID, 0, 0)
	if err != nil {
		return fmt.Errorf("list atoms: %w", err)
	}
	for i := range atoms {
		if atomToMemory(atoms[i]).Group != name {
			continue
		}
		withMeta(&atoms[i], func(meta *atomMeta) {
			meta.Group = GroupLearnings
		})
		atoms[i].AtomType = AtomSemantic
		atoms[i].UpdatedAt = time.Now().UnixMilli()
		if err := e.repo.Upsert(&atoms[i]); err != nil {
			return fmt.Errorf("reassign atom %s: %w", atoms[i].ID, err)
		}
	}

	var kept []string
	for _, g := range e.state.CustomGroups {
		if g != name {
			kept = append(kept, g)
		}
	}
	e.state.CustomGroups = kept
	return e.saveState()
}

// ListGroups returns the default groups followed by the sorted custom
// registry.
func (e *Engine) ListGroups() ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	custom := append([]string(nil), e.state.CustomGroups...)
	e.mu.Unlock()

	groups := append([]string(nil), DefaultGroups...)
	return append(groups, custom...), nil
}

// GetMemoriesByGroup returns all memories in one group.
func (e *Engine) GetMemoriesByGroup(group string) ([]Memory, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	atoms, err := e.repo.ListByProject(e.projectID, 0, 0)
	if err != nil {
		return nil, err
	}
	var memories []Memory
	for _, a := range atoms {
		if m := atomToMemory(a); m.Group == group {
			memories = append(memories, m)
		}
	}
	return memories, nil
}

// Search returns memories matching a free-text query via the
// repository's substring search. For ranked retrieval use DeepQuery.
func (e *Engine) Search(query string, limit int) ([]Memory, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	atoms, err := e.repo.Search(e.projectID, query, limit)
	if err != nil {
		return nil, err
	}
	memories := make([]Memory, 0, len(atoms))
	for _, a := range atoms {
		memories = append(memories, atomToMemory(a))
	}
	return memories, nil
}

// GetAll returns every memory in the project.
func (e *Engine) GetAll() ([]Memory, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	atoms, err := e.repo.ListByProject(e.projectID, 0, 0)
	if err != nil {
		return nil, err
	}
	memories := make([]Memory, 0, len(atoms))
	for _, a := range atoms {
		memories = append(memories, atomToMemory(a))
	}
	return memories, nil
}

// registerGroupLocked adds a non-default group to the sorted registry.
// Callers must hold e.mu.
func (e *Engine) registerGroupLocked(name string) error {
	for _, g := range DefaultGroups {
		if g == name {
			return nil
		}
	}
	for _, g := range e.state.CustomGroups {
		if g == name {
			return nil
		}
	}
	e.state.CustomGroups = append(e.state.CustomGroups, name)
	sort.Strings(e.state.CustomGroups)
	return e.saveState()
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
