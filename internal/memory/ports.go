package memory

// The engine consumes its collaborators through narrow ports. The sqlite
// adapters in internal/store implement all four; tests may substitute
// their own.

// AtomRepository is the durable store for memory atoms.
type AtomRepository interface {
	// ListByProject returns atoms for a project. limit <= 0 means no limit.
	ListByProject(projectID string, limit, offset int) ([]MemoryAtom, error)
	// FindByID returns the atom, or nil if not found.
	FindByID(id string) (*MemoryAtom, error)
	// Upsert inserts or replaces an atom by id.
	Upsert(atom *MemoryAtom) error
	// Update writes an existing atom's row in place, reporting whether
	// it existed. Never inserts, so a writer racing a delete cannot
	// bring the row back.
	Update(atom *MemoryAtom) (bool, error)
	// Delete removes an atom, reporting whether a row existed.
	Delete(id string) (bool, error)
	// Search returns atoms matching the free-text query, used as a
	// candidate pre-filter for retrieval.
	Search(projectID, query string, limit int) ([]MemoryAtom, error)
}

// SettingsStore is a small per-key string store. Get returns "" with a
// nil error for missing keys.
type SettingsStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// QueryLog records retrieval results and feedback events.
type QueryLog interface {
	LogQuery(result *MemoryQueryResult, projectID string) error
	AddFeedback(fb *MemoryFeedback) error
}

// RunLog records consolidation run lifecycle for the run-history view.
type RunLog interface {
	StartRun(runID, projectID, strategy string, startedAt int64) error
	CompleteRun(runID, stats string, completedAt int64) error
	FailRun(runID, errText string, completedAt int64) error
}
