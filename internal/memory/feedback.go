package memory

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// FeedbackInput is a user action against a retrieved atom.
type FeedbackInput struct {
	SessionID string `json:"session_id,omitempty"`
	QueryID   string `json:"query_id,omitempty"`
	AtomID    string `json:"atom_id"`
	Feedback  string `json:"feedback"`
	Note      string `json:"note,omitempty"`
}

// ApplyFeedback records a feedback event and applies its side effect:
// pin sets pinned, unpin clears it, hide marks the atom restricted.
// Other kinds are recorded with no atom mutation. Feedback on an
// unknown atom is still logged.
func (e *Engine) ApplyFeedback(input FeedbackInput) (*MemoryFeedback, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if input.AtomID == "" || input.Feedback == "" {
		return nil, fmt.Errorf("atom id and feedback kind are required")
	}

	fb := &MemoryFeedback{
		ID:        uuid.NewString(),
		SessionID: input.SessionID,
		QueryID:   input.QueryID,
		AtomID:    input.AtomID,
		Feedback:  input.Feedback,
		Note:      input.Note,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := e.queries.AddFeedback(fb); err != nil {
		return nil, fmt.Errorf("record feedback: %w", err)
	}

	// Atom mutation is serialized with the other write paths.
	e.mu.Lock()
	defer e.mu.Unlock()

	atom, err := e.repo.FindByID(input.AtomID)
	if err != nil {
		return nil, err
	}
	if atom == nil {
		log.Printf("memory: feedback %s on unknown atom %s", input.Feedback, input.AtomID)
		return fb, nil
	}

	changed := false
	switch input.Feedback {
	case FeedbackPin:
		changed = !atom.Pinned
		atom.Pinned = true
	case FeedbackUnpin:
		changed = atom.Pinned
		atom.Pinned = false
	case FeedbackHide:
		changed = atom.Sensitivity != SensitivityRestricted
		atom.Sensitivity = SensitivityRestricted
	}
	if !changed {
		return fb, nil
	}

	now := time.Now().UnixMilli()
	atom.UpdatedAt = now
	withMeta(atom, func(meta *atomMeta) {
		meta.UpdatedAt = isoMillis(now)
	})
	existed, err := e.repo.Update(atom)
	if err != nil {
		return nil, fmt.Errorf("apply feedback to atom %s: %w", atom.ID, err)
	}
	if !existed {
		log.Printf("memory: feedback %s on removed atom %s", input.Feedback, atom.ID)
	}
	return fb, nil
}
