package domain

import "time"

// EvidenceKind records which retrieval path produced an evidence item
type EvidenceKind string

const (
	EvidenceKindVector EvidenceKind = "vector"
	EvidenceKindGraph  EvidenceKind = "graph"
)

// EvidenceItem is a scored, decayed view of a chunk built at query time.
// It is never persisted on its own; decision records embed copies.
type EvidenceItem struct {
	SourceID       string       `json:"source_id"`
	EntityID       string       `json:"entity_id,omitempty"`
	ContentSnippet string       `json:"content_snippet"`
	RawScore       float64      `json:"raw_score"`
	DecayFactor    float64      `json:"decay_factor"`
	FinalScore     float64      `json:"final_score"`
	Kind           EvidenceKind `json:"kind"`
	Conflicting    bool         `json:"conflicting"`
	Fact           *Fact        `json:"fact,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	Embedding      []float32    `json:"-"`
}

// Candidate is a raw search hit before decay, thresholding and selection.
type Candidate struct {
	Chunk    Chunk
	EntityID string
	RawScore float64
	Kind     EvidenceKind
}
