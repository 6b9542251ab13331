package memory

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// The atom schema is narrower than the Memory view, so engine-private
// metadata rides inside provenance.SourceRef as a versioned opaque blob.
// Anything that is not a recognized blob is treated as a plain reference
// string and round-tripped untouched.
const metaPrefix = "mm1:"

// atomMeta is the engine-private metadata layered onto an atom.
type atomMeta struct {
	Group             string   `json:"group,omitempty"`
	Source            string   `json:"source,omitempty"`
	AccessCount       int      `json:"access_count,omitempty"`
	LastAccessedAt    string   `json:"last_accessed_at,omitempty"`
	RelatedSessionIDs []string `json:"related_session_ids,omitempty"`
	RelatedMemoryIDs  []string `json:"related_memory_ids,omitempty"`
	ContentHash       string   `json:"content_hash,omitempty"`
	CreatedAt         string   `json:"created_at,omitempty"`
	UpdatedAt         string   `json:"updated_at,omitempty"`
	Ref               string   `json:"ref,omitempty"` // original sourceRef, if any
}

// encodeMeta serializes metadata into the opaque sourceRef form.
func encodeMeta(meta atomMeta) string {
	raw, err := json.Marshal(meta)
	if err != nil {
		return metaPrefix
	}
	return metaPrefix + base64.StdEncoding.EncodeToString(raw)
}

// decodeMeta parses an opaque sourceRef. It never fails: malformed or
// legacy input yields an empty metadata object carrying the raw value
// as a plain reference.
func decodeMeta(sourceRef string) atomMeta {
	if !strings.HasPrefix(sourceRef, metaPrefix) {
		return atomMeta{Ref: sourceRef}
	}
	raw, err := base64.StdEncoding.DecodeString(sourceRef[len(metaPrefix):])
	if err != nil {
		return atomMeta{}
	}
	var meta atomMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return atomMeta{}
	}
	return meta
}

// groupForAtomType maps a storage atom type to its logical group.
func groupForAtomType(atomType string) string {
	switch atomType {
	case AtomInstructions:
		return GroupInstructions
	case AtomPreference:
		return GroupPreferences
	case AtomContext:
		return GroupContext
	default:
		return GroupLearnings
	}
}

// atomTypeForGroup maps a logical group back to a storage atom type.
// Custom groups land in the semantic bucket; the group name itself is
// preserved in the metadata blob.
func atomTypeForGroup(group string) string {
	switch group {
	case GroupInstructions:
		return AtomInstructions
	case GroupPreferences:
		return AtomPreference
	case GroupContext:
		return AtomContext
	default:
		return AtomSemantic
	}
}

func isoMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func millisISO(iso string, fallback int64) int64 {
	if iso == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return fallback
	}
	return t.UnixMilli()
}

// atomToMemory reconstructs the Memory view from an atom and its decoded
// metadata. Corrupt metadata degrades to best-effort defaults.
func atomToMemory(atom MemoryAtom) Memory {
	meta := decodeMeta(atom.Provenance.SourceRef)

	group := meta.Group
	if group == "" {
		group = groupForAtomType(atom.AtomType)
	}
	source := meta.Source
	if source == "" {
		source = SourceAuto
	}

	createdAt := meta.CreatedAt
	if createdAt == "" {
		createdAt = isoMillis(atom.CreatedAt)
	}
	updatedAt := meta.UpdatedAt
	if updatedAt == "" {
		updatedAt = isoMillis(atom.UpdatedAt)
	}

	return Memory{
		ID:                atom.ID,
		Title:             atom.Summary,
		Content:           atom.Content,
		Group:             group,
		Tags:              append([]string(nil), atom.Keywords...),
		Source:            source,
		Confidence:        atom.Confidence,
		Pinned:            atom.Pinned,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
		AccessCount:       meta.AccessCount,
		LastAccessedAt:    meta.LastAccessedAt,
		RelatedSessionIDs: append([]string(nil), meta.RelatedSessionIDs...),
		RelatedMemoryIDs:  append([]string(nil), meta.RelatedMemoryIDs...),
	}
}

// memoryToAtom projects a Memory onto the narrower atom schema, packing
// the remainder into the metadata blob.
func memoryToAtom(m Memory, projectID string) MemoryAtom {
	now := time.Now().UnixMilli()
	createdAt := millisISO(m.CreatedAt, now)
	updatedAt := millisISO(m.UpdatedAt, now)

	meta := atomMeta{
		Group:             m.Group,
		Source:            m.Source,
		AccessCount:       m.AccessCount,
		LastAccessedAt:    m.LastAccessedAt,
		RelatedSessionIDs: m.RelatedSessionIDs,
		RelatedMemoryIDs:  m.RelatedMemoryIDs,
		ContentHash:       contentHash(m.Content),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	if meta.CreatedAt == "" {
		meta.CreatedAt = isoMillis(createdAt)
	}
	if meta.UpdatedAt == "" {
		meta.UpdatedAt = isoMillis(updatedAt)
	}

	provSource := "assistant"
	if m.Source == SourceManual {
		provSource = "user"
	}

	return MemoryAtom{
		ID:        m.ID,
		ProjectID: projectID,
		AtomType:  atomTypeForGroup(m.Group),
		Content:   m.Content,
		Summary:   m.Title,
		Keywords:  append([]string(nil), m.Tags...),
		Provenance: Provenance{
			Source:    provSource,
			SourceRef: encodeMeta(meta),
			Tags:      []string{"memory:" + m.Group},
			CreatedBy: "engram",
		},
		Confidence:  clamp01(m.Confidence),
		Sensitivity: SensitivityNormal,
		Pinned:      m.Pinned,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

// withMeta re-encodes updated metadata onto an atom in place.
func withMeta(atom *MemoryAtom, mutate func(*atomMeta)) {
	meta := decodeMeta(atom.Provenance.SourceRef)
	mutate(&meta)
	atom.Provenance.SourceRef = encodeMeta(meta)
}
