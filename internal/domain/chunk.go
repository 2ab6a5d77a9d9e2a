package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SourceType identifies where a chunk's content came from
type SourceType string

const (
	SourceTypeDocument           SourceType = "document"
	SourceTypeConversation       SourceType = "conversation"
	SourceTypeGovernanceFeedback SourceType = "governance_feedback"
	SourceTypeConsolidation      SourceType = "consolidation"
)

// Scope restricts reads and writes to one owner inside an organization.
// An empty OwnerID matches every owner of the org.
type Scope struct {
	OrgID   string
	OwnerID string
}

// Matches reports whether a chunk stored under s is visible to filter.
func (s Scope) Matches(filter Scope) bool {
	if filter.OrgID != "" && s.OrgID != filter.OrgID {
		return false
	}
	if filter.OwnerID != "" && s.OwnerID != filter.OwnerID {
		return false
	}
	return true
}

// Fact is a structured subject/predicate/value assertion carried by a chunk,
// e.g. ("primary database", "version", "16").
type Fact struct {
	Subject   string
	Predicate string
	Value     string
}

// Key returns the normalized (subject, predicate) pair used to detect conflicts.
func (f Fact) Key() string {
	return normalizeKey(f.Subject) + "\x00" + normalizeKey(f.Predicate)
}

// IsZero reports whether no assertion is set.
func (f *Fact) IsZero() bool {
	return f == nil || (f.Subject == "" && f.Predicate == "" && f.Value == "")
}

// Chunk is an immutable unit of stored memory. Consolidation never edits a
// chunk; it writes a replacement and marks the old one superseded.
type Chunk struct {
	ID           string
	Content      string
	ContentHash  string
	Embedding    []float32
	SourceType   SourceType
	Provenance   string
	Scope        Scope
	Volatile     bool
	ValidUntil   *time.Time
	Fact         *Fact
	SupersededBy string
	SupersededAt *time.Time
	CreatedAt    time.Time
}

// FactMetadata is the metadata accepted by the ingestion boundary.
type FactMetadata struct {
	Provenance string
	SourceType SourceType
	Scope      Scope
	Volatile   bool
	ValidUntil *time.Time
	Fact       *Fact
	Supersedes []string
}

// NewChunk creates a new Chunk instance
func NewChunk(id, content string, embedding []float32, meta FactMetadata, createdAt time.Time) *Chunk {
	sourceType := meta.SourceType
	if sourceType == "" {
		sourceType = SourceTypeDocument
	}
	return &Chunk{
		ID:          id,
		Content:     content,
		ContentHash: ContentHash(content),
		Embedding:   embedding,
		SourceType:  sourceType,
		Provenance:  meta.Provenance,
		Scope:       meta.Scope,
		Volatile:    meta.Volatile,
		ValidUntil:  meta.ValidUntil,
		Fact:        meta.Fact,
		CreatedAt:   createdAt,
	}
}

// ValidateChunk validates a Chunk instance
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}

	if c.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}

	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("chunk Content is required")
	}

	if !isValidSourceType(c.SourceType) {
		return fmt.Errorf("chunk SourceType is invalid: %s", c.SourceType)
	}

	if !c.Fact.IsZero() && (c.Fact.Subject == "" || c.Fact.Predicate == "") {
		return fmt.Errorf("chunk Fact requires subject and predicate")
	}

	return nil
}

// IsExpired reports whether the chunk's validity window closed before at.
func (c *Chunk) IsExpired(at time.Time) bool {
	return c.ValidUntil != nil && !c.ValidUntil.After(at)
}

// IsSupersededAt reports whether the chunk had been replaced as of at.
func (c *Chunk) IsSupersededAt(at time.Time) bool {
	return c.SupersededBy != "" && c.SupersededAt != nil && !c.SupersededAt.After(at)
}

// VisibleAt reports whether a point-in-time read at `at` may see the chunk.
func (c *Chunk) VisibleAt(at time.Time) bool {
	return !c.CreatedAt.After(at) && !c.IsSupersededAt(at)
}

// Entity is a node in the knowledge graph.
type Entity struct {
	ID        string
	Name      string
	Scope     Scope
	CreatedAt time.Time
}

// Edge is a typed relation between two entities, asserted by one chunk.
type Edge struct {
	ID           string
	FromEntityID string
	ToEntityID   string
	Relation     string
	Confidence   float64
	ChunkID      string
	CreatedAt    time.Time
}

// NormalizeContent lower-cases and collapses whitespace so near-identical
// writes hash to the same value.
func NormalizeContent(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// ContentHash returns the hex sha256 of the normalized content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

func normalizeKey(s string) string {
	return NormalizeContent(s)
}

func isValidSourceType(t SourceType) bool {
	switch t {
	case SourceTypeDocument, SourceTypeConversation, SourceTypeGovernanceFeedback, SourceTypeConsolidation:
		return true
	default:
		return false
	}
}
