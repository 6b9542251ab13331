package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Consolidation strategies.
const (
	StrategyAggressive   = "aggressive"
	StrategyBalanced     = "balanced"
	StrategyConservative = "conservative"
)

// ConsolidationPolicy controls the merge and decay passes. Zero-valued
// fields fall back to defaults; out-of-range values are clamped, never
// rejected — the engine always produces a runnable policy.
type ConsolidationPolicy struct {
	Strategy            string  `json:"strategy"`
	RedundancyThreshold float64 `json:"redundancy_threshold"` // [0.6, 0.99]
	DecayFactor         float64 `json:"decay_factor"`         // [0.5, 0.999]
	MinConfidence       float64 `json:"min_confidence"`       // [0.05, 0.95]
	StaleAfterHours     float64 `json:"stale_after_hours"`    // [1, 8760]
}

func resolvePolicy(p *ConsolidationPolicy) ConsolidationPolicy {
	out := ConsolidationPolicy{
		Strategy:            StrategyBalanced,
		RedundancyThreshold: 0.9,
		DecayFactor:         0.92,
		MinConfidence:       0.15,
		StaleAfterHours:     336,
	}
	if p == nil {
		return out
	}
	switch p.Strategy {
	case StrategyAggressive, StrategyBalanced, StrategyConservative:
		out.Strategy = p.Strategy
	}
	if p.RedundancyThreshold != 0 {
		out.RedundancyThreshold = clampRange(p.RedundancyThreshold, 0.6, 0.99)
	}
	if p.DecayFactor != 0 {
		out.DecayFactor = clampRange(p.DecayFactor, 0.5, 0.999)
	}
	if p.MinConfidence != 0 {
		out.MinConfidence = clampRange(p.MinConfidence, 0.05, 0.95)
	}
	if p.StaleAfterHours != 0 {
		out.StaleAfterHours = clampRange(p.StaleAfterHours, 1, 8760)
	}
	return out
}

// ConsolidationResult summarizes one consolidation run.
type ConsolidationResult struct {
	RunID                string  `json:"run_id"`
	Strategy             string  `json:"strategy"`
	StartedAt            int64   `json:"started_at"`
	CompletedAt          int64   `json:"completed_at"`
	BeforeCount          int     `json:"before_count"`
	AfterCount           int     `json:"after_count"`
	MergedCount          int     `json:"merged_count"`
	RemovedCount         int     `json:"removed_count"`
	DecayedCount         int     `json:"decayed_count"`
	PreservedPinnedCount int     `json:"preserved_pinned_count"`
	RedundancyReduction  float64 `json:"redundancy_reduction"`
	RecallRetention      float64 `json:"recall_retention"`
}

// ConsolidateMemory runs a full merge + decay pass over the project's
// atoms. The run is recorded in the run log; failures are marked there
// and returned. Each atom write is durable before the next is
// attempted, so a failed run never corrupts committed merges.
//
// The pass is O(n²) worst case (every atom against accepted survivors
// of its type), so ctx is checked between atoms and a cancelled run
// stops cleanly.
func (e *Engine) ConsolidateMemory(ctx context.Context, policy *ConsolidationPolicy) (*ConsolidationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	resolved := resolvePolicy(policy)
	runID := uuid.NewString()
	startedAt := time.Now().UnixMilli()

	if err := e.runs.StartRun(runID, e.projectID, resolved.Strategy, startedAt); err != nil {
		log.Printf("memory: record consolidation start: %v", err)
	}

	result, err := e.consolidate(ctx, runID, startedAt, resolved)
	completedAt := time.Now().UnixMilli()
	if err != nil {
		if logErr := e.runs.FailRun(runID, err.Error(), completedAt); logErr != nil {
			log.Printf("memory: record consolidation failure: %v", logErr)
		}
		return nil, err
	}

	result.CompletedAt = completedAt
	stats, _ := json.Marshal(result)
	if err := e.runs.CompleteRun(runID, string(stats), completedAt); err != nil {
		log.Printf("memory: record consolidation completion: %v", err)
	}

	e.state.LastConsolidation = completedAt
	if err := e.saveState(); err != nil {
		log.Printf("memory: save last consolidation time: %v", err)
	}
	return result, nil
}

func (e *Engine) consolidate(ctx context.Context, runID string, startedAt int64, policy ConsolidationPolicy) (*ConsolidationResult, error) {
	atoms, err := e.repo.ListByProject(e.projectID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list atoms: %w", err)
	}

	result := &ConsolidationResult{
		RunID:       runID,
		Strategy:    policy.Strategy,
		StartedAt:   startedAt,
		BeforeCount: len(atoms),
	}

	// Priority order decides which atom in a duplicate cluster survives:
	// pinned first, then higher confidence, then most recently updated.
	sortByPriority(atoms)

	survivors, err := e.mergePass(ctx, atoms, policy, result)
	if err != nil {
		return nil, err
	}

	if err := e.decayPass(ctx, survivors, policy, result); err != nil {
		return nil, err
	}

	for _, a := range survivors {
		if a.Pinned {
			result.PreservedPinnedCount++
		}
	}
	result.AfterCount = result.BeforeCount - result.RemovedCount
	if result.BeforeCount > 0 {
		result.RedundancyReduction = float64(result.RemovedCount) / float64(result.BeforeCount)
		lost := result.RemovedCount - result.MergedCount
		if lost < 0 {
			lost = 0
		}
		result.RecallRetention = 1 - float64(lost)/float64(result.BeforeCount)
	} else {
		result.RecallRetention = 1
	}
	return result, nil
}

func sortByPriority(atoms []MemoryAtom) {
	sort.SliceStable(atoms, func(i, j int) bool {
		return priorityLess(atoms[i], atoms[j])
	})
}

// priorityLess reports whether a outranks b: pinned desc, confidence
// desc, updatedAt desc.
func priorityLess(a, b MemoryAtom) bool {
	if a.Pinned != b.Pinned {
		return a.Pinned
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.UpdatedAt > b.UpdatedAt
}

// mergePass folds near-duplicate atoms into their highest-priority
// survivor. Two pinned atoms are never compared, and a pinned atom is
// never merged away.
func (e *Engine) mergePass(ctx context.Context, atoms []MemoryAtom, policy ConsolidationPolicy, result *ConsolidationResult) ([]*MemoryAtom, error) {
	var survivors []*MemoryAtom

	for i := range atoms {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("consolidation cancelled: %w", err)
		}
		atom := &atoms[i]

		var duplicateOf *MemoryAtom
		for _, s := range survivors {
			if s.AtomType != atom.AtomType {
				continue
			}
			if s.Pinned && atom.Pinned {
				continue // never merge two pinned atoms
			}
			if atomSimilarity(s, atom) >= policy.RedundancyThreshold {
				duplicateOf = s
				break
			}
		}
		if duplicateOf == nil {
			survivors = append(survivors, atom)
			continue
		}

		primary, secondary := duplicateOf, atom
		if priorityLess(*atom, *duplicateOf) {
			primary, secondary = atom, duplicateOf
		}
		if secondary.Pinned {
			// Pinned atoms are never deleted; keep both.
			survivors = append(survivors, atom)
			continue
		}

		mergeAtoms(primary, secondary)
		if err := e.repo.Upsert(primary); err != nil {
			return nil, fmt.Errorf("persist merged atom %s: %w", primary.ID, err)
		}
		if _, err := e.repo.Delete(secondary.ID); err != nil {
			return nil, fmt.Errorf("delete absorbed atom %s: %w", secondary.ID, err)
		}
		if secondary == duplicateOf {
			// The previous survivor was absorbed; the current atom
			// takes its place.
			for j, s := range survivors {
				if s == duplicateOf {
					survivors[j] = atom
					break
				}
			}
		}
		result.MergedCount++
		result.RemovedCount++
	}
	return survivors, nil
}

// atomSimilarity is 1.0 for exactly equal normalized content, else the
// jaccard overlap of content tokens.
func atomSimilarity(a, b *MemoryAtom) float64 {
	if normalizeText(a.Content) == normalizeText(b.Content) {
		return 1.0
	}
	return jaccard(tokenize(a.Content), tokenize(b.Content))
}

// mergeAtoms folds secondary's fields into primary.
func mergeAtoms(primary, secondary *MemoryAtom) {
	primary.Keywords = dedupeStrings(append(primary.Keywords, secondary.Keywords...))
	primary.Provenance.Tags = dedupeStrings(append(
		append(primary.Provenance.Tags, secondary.Provenance.Tags...),
		"consolidated:merged"))
	if len(secondary.Summary) > len(primary.Summary) {
		primary.Summary = secondary.Summary
	}
	if secondary.Confidence > primary.Confidence {
		primary.Confidence = secondary.Confidence
	}

	secondaryMeta := decodeMeta(secondary.Provenance.SourceRef)
	now := time.Now().UnixMilli()
	primary.UpdatedAt = now
	withMeta(primary, func(meta *atomMeta) {
		meta.RelatedSessionIDs = dedupeStrings(append(meta.RelatedSessionIDs, secondaryMeta.RelatedSessionIDs...))
		meta.RelatedMemoryIDs = dedupeStrings(append(meta.RelatedMemoryIDs, secondaryMeta.RelatedMemoryIDs...))
		if meta.AccessCount < secondaryMeta.AccessCount {
			meta.AccessCount = secondaryMeta.AccessCount
		}
		meta.UpdatedAt = isoMillis(now)
	})
}

// decayPass lowers confidence on stale, unpinned survivors. A decay is
// persisted only when it strictly lowers confidence, and it refreshes
// updatedAt, so an immediate second run decays nothing.
func (e *Engine) decayPass(ctx context.Context, survivors []*MemoryAtom, policy ConsolidationPolicy, result *ConsolidationResult) error {
	staleBefore := time.Now().UnixMilli() - int64(policy.StaleAfterHours*3600_000)

	for _, atom := range survivors {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("consolidation cancelled: %w", err)
		}
		if atom.Pinned || atom.UpdatedAt >= staleBefore {
			continue
		}

		next := atom.Confidence * policy.DecayFactor
		if next < policy.MinConfidence {
			next = policy.MinConfidence
		}
		if next >= atom.Confidence {
			continue // floor reached, no write
		}

		atom.Confidence = next
		now := time.Now().UnixMilli()
		atom.UpdatedAt = now
		withMeta(atom, func(meta *atomMeta) {
			meta.UpdatedAt = isoMillis(now)
		})
		if err := e.repo.Upsert(atom); err != nil {
			return fmt.Errorf("persist decayed atom %s: %w", atom.ID, err)
		}
		result.DecayedCount++
	}
	return nil
}

// PeriodicOptions controls scheduled consolidation.
type PeriodicOptions struct {
	Enabled         bool
	IntervalMinutes int
	Force           bool
	Policy          *ConsolidationPolicy
}

// MaybeRunPeriodicConsolidation runs consolidation if it is enabled and
// due (or forced). Returns nil without error when skipped.
func (e *Engine) MaybeRunPeriodicConsolidation(ctx context.Context, opts PeriodicOptions) (*ConsolidationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !opts.Enabled && !opts.Force {
		return nil, nil
	}
	if !opts.Force {
		interval := int64(opts.IntervalMinutes) * 60_000
		if interval <= 0 {
			interval = 24 * 60 * 60_000
		}
		e.mu.Lock()
		last := e.state.LastConsolidation
		e.mu.Unlock()
		if last > 0 && time.Now().UnixMilli()-last < interval {
			return nil, nil
		}
	}
	return e.ConsolidateMemory(ctx, opts.Policy)
}
