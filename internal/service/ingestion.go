package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// IngestionService writes new chunks and the graph edges their facts assert.
type IngestionService struct {
	embedding EmbeddingServiceInterface
	tx        TxRunner
	uuidGen   UUIDGenerator
	now       func() time.Time
}

// NewIngestionService creates a new IngestionService instance
func NewIngestionService(embedding EmbeddingServiceInterface, tx TxRunner) *IngestionService {
	return NewIngestionServiceWithDeps(embedding, tx, &DefaultUUIDGenerator{}, time.Now)
}

// NewIngestionServiceWithDeps creates an IngestionService with injected ids and clock (for testing)
func NewIngestionServiceWithDeps(embedding EmbeddingServiceInterface, tx TxRunner, uuidGen UUIDGenerator, now func() time.Time) *IngestionService {
	return &IngestionService{embedding: embedding, tx: tx, uuidGen: uuidGen, now: now}
}

// IngestFact stores content as a new chunk and returns its id. Chunks named
// in meta.Supersedes are marked superseded by it in the same transaction.
func (s *IngestionService) IngestFact(ctx context.Context, content string, meta domain.FactMetadata) (string, error) {
	chunk, err := s.Prepare(ctx, content, meta)
	if err != nil {
		return "", err
	}

	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		return s.Store(ctx, repos, chunk, meta.Supersedes)
	})
	if err != nil {
		return "", err
	}
	return chunk.ID, nil
}

// Prepare validates and embeds content without touching storage, so the
// embedding call stays outside any transaction.
func (s *IngestionService) Prepare(ctx context.Context, content string, meta domain.FactMetadata) (*domain.Chunk, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.Wrap(domain.ErrMissingRequiredField, fmt.Errorf("content"))
	}
	if meta.SourceType != "" {
		switch meta.SourceType {
		case domain.SourceTypeDocument, domain.SourceTypeConversation,
			domain.SourceTypeGovernanceFeedback, domain.SourceTypeConsolidation:
		default:
			return nil, domain.Wrap(domain.ErrInvalidSourceType, fmt.Errorf("%q", meta.SourceType))
		}
	}

	embedding, err := s.embedding.GenerateEmbedding(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed chunk: %w", err)
	}

	chunk := domain.NewChunk(s.uuidGen.NewString(), content, embedding, meta, s.now().UTC())
	if err := domain.ValidateChunk(chunk); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid chunk", err)
	}
	return chunk, nil
}

// Store writes a prepared chunk through transaction-bound repositories.
func (s *IngestionService) Store(ctx context.Context, repos TxRepositories, chunk *domain.Chunk, supersedes []string) error {
	if err := repos.Chunks().Create(ctx, chunk); err != nil {
		return fmt.Errorf("create chunk: %w", err)
	}
	if err := recordFact(ctx, repos.Graph(), s.uuidGen, chunk); err != nil {
		return err
	}
	for _, id := range supersedes {
		if id == "" || id == chunk.ID {
			continue
		}
		if err := repos.Chunks().MarkSuperseded(ctx, id, chunk.ID, chunk.CreatedAt); err != nil {
			return fmt.Errorf("supersede %s: %w", id, err)
		}
	}
	return nil
}

// recordFact links the fact's subject and value entities with an edge whose
// provenance is the chunk. Chunks without a fact leave the graph untouched.
func recordFact(ctx context.Context, graph GraphRepositoryInterface, uuidGen UUIDGenerator, chunk *domain.Chunk) error {
	if chunk.Fact.IsZero() || strings.TrimSpace(chunk.Fact.Value) == "" {
		return nil
	}

	subject, err := graph.UpsertEntity(ctx, &domain.Entity{
		ID:        uuidGen.NewString(),
		Name:      strings.TrimSpace(chunk.Fact.Subject),
		Scope:     chunk.Scope,
		CreatedAt: chunk.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("upsert subject entity: %w", err)
	}
	value, err := graph.UpsertEntity(ctx, &domain.Entity{
		ID:        uuidGen.NewString(),
		Name:      strings.TrimSpace(chunk.Fact.Value),
		Scope:     chunk.Scope,
		CreatedAt: chunk.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("upsert value entity: %w", err)
	}

	err = graph.CreateEdge(ctx, &domain.Edge{
		ID:           uuidGen.NewString(),
		FromEntityID: subject.ID,
		ToEntityID:   value.ID,
		Relation:     domain.NormalizeContent(chunk.Fact.Predicate),
		Confidence:   1,
		ChunkID:      chunk.ID,
		CreatedAt:    chunk.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("create edge: %w", err)
	}
	return nil
}
