package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

// NeighborHopWeight discounts graph hits reached through one neighbouring
// entity rather than an entity named in the query.
const NeighborHopWeight = 0.8

// SearchRequest is one read against the evidence store. AsOf pins a
// point-in-time view: chunks created later, or superseded by then, are skipped.
type SearchRequest struct {
	Query string
	Scope domain.Scope
	K     int
	AsOf  time.Time
}

// EvidenceRepositoryInterface is the storage side of retrieval.
type EvidenceRepositoryInterface interface {
	SearchByEmbedding(ctx context.Context, embedding []float32, req SearchRequest) ([]domain.Candidate, error)
	SearchGraph(ctx context.Context, req SearchRequest) ([]domain.Candidate, error)
}

// EmbeddingServiceInterface defines the interface for embedding generation
type EmbeddingServiceInterface interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// EvidenceSource exposes vector and graph search over stored chunks.
type EvidenceSource interface {
	VectorSearch(ctx context.Context, req SearchRequest) ([]domain.Candidate, error)
	GraphSearch(ctx context.Context, req SearchRequest) ([]domain.Candidate, error)
}

// EvidenceAdapter embeds the query and delegates to the repository.
type EvidenceAdapter struct {
	embedding EmbeddingServiceInterface
	repo      EvidenceRepositoryInterface
}

func NewEvidenceAdapter(embedding EmbeddingServiceInterface, repo EvidenceRepositoryInterface) *EvidenceAdapter {
	return &EvidenceAdapter{embedding: embedding, repo: repo}
}

func (a *EvidenceAdapter) VectorSearch(ctx context.Context, req SearchRequest) ([]domain.Candidate, error) {
	embedding, err := a.embedding.GenerateEmbedding(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	return a.repo.SearchByEmbedding(ctx, embedding, req)
}

func (a *EvidenceAdapter) GraphSearch(ctx context.Context, req SearchRequest) ([]domain.Candidate, error) {
	return a.repo.SearchGraph(ctx, req)
}
