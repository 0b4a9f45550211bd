package types

// Metadata is the structured sidecar on a memory record. The storage layer
// serialises it as JSON and never interprets it; only the extractor and the
// evaluator read or write its fields.
//
// Category-specific detail lives in optional variant structs so callers get
// compile-time field names, while Extra keeps the bag extensible for
// author-defined annotations.
type Metadata struct {
	Episodic  *EpisodicDetail  `json:"episodic,omitempty"`
	Emotional *EmotionalDetail `json:"emotional,omitempty"`
	Semantic  *SemanticDetail  `json:"semantic,omitempty"`

	// Entities are the named entities this memory references.
	Entities []EntityRef `json:"entities,omitempty"`

	// Source records where the memory came from.
	Source *Provenance `json:"source,omitempty"`

	// Notes is free-form author commentary.
	Notes string `json:"notes,omitempty"`

	// Consolidation is set on a survivor when near-duplicates were merged
	// into it.
	Consolidation *ConsolidationInfo `json:"consolidation,omitempty"`

	// Conflict is set by conflict detection when this memory contradicts
	// another retrieved memory. It is surfaced to the caller, never used to
	// drop a result.
	Conflict *ConflictInfo `json:"conflict,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// EpisodicDetail carries dialogue context for conversation-derived memories.
type EpisodicDetail struct {
	UserExcerpt      string `json:"user_excerpt,omitempty"`
	CharacterExcerpt string `json:"character_excerpt,omitempty"`
}

// EmotionalDetail carries the emotions attached to a memory and, for
// event-derived memories, the triggering reason.
type EmotionalDetail struct {
	Emotions []string `json:"emotions,omitempty"`
	Trigger  string   `json:"trigger,omitempty"`
}

// SemanticDetail carries the knowledge topic for semantic memories.
type SemanticDetail struct {
	Knowledge string `json:"knowledge,omitempty"`
}

// EntityRef names an entity mentioned by a memory and its relation to the
// owning character.
type EntityRef struct {
	Name     string `json:"name"`
	Relation string `json:"relation,omitempty"`
}

// Provenance records the origin of a memory.
type Provenance struct {
	// Kind is one of "conversation", "event" or "author".
	Kind string `json:"kind"`

	// Ref is the id of the originating conversation or timeline event,
	// empty for author-created memories.
	Ref string `json:"ref,omitempty"`
}

// ConsolidationInfo records which near-duplicate memories were merged into a
// survivor.
type ConsolidationInfo struct {
	MergedIDs []string `json:"merged_ids"`
	Count     int      `json:"count"`
}

// ConflictInfo flags a contradiction between two retrieved memories.
type ConflictInfo struct {
	WithID     string  `json:"with_id"`
	Similarity float64 `json:"similarity"`
	Reason     string  `json:"reason"`
}

// EnsureMetadata returns the record's metadata, allocating it when absent.
func (m *MemoryRecord) EnsureMetadata() *Metadata {
	if m.Metadata == nil {
		m.Metadata = &Metadata{}
	}
	return m.Metadata
}
