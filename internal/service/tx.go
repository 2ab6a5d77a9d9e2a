package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

// ChunkRepositoryInterface stores immutable memory chunks.
type ChunkRepositoryInterface interface {
	Create(ctx context.Context, c *domain.Chunk) error
	GetByID(ctx context.Context, id string) (*domain.Chunk, error)
	// MarkSuperseded is a no-op for a chunk that is already superseded.
	MarkSuperseded(ctx context.Context, id, supersededBy string, at time.Time) error
	// ListActive returns copies of chunks visible and unexpired at asOf.
	ListActive(ctx context.Context, scope domain.Scope, asOf time.Time) ([]*domain.Chunk, error)
}

// GraphRepositoryInterface stores the entity graph built from facts.
type GraphRepositoryInterface interface {
	// UpsertEntity returns the stored entity with the same scope and
	// case-insensitive name, creating it when absent.
	UpsertEntity(ctx context.Context, e *domain.Entity) (*domain.Entity, error)
	CreateEdge(ctx context.Context, e *domain.Edge) error
}

// DecisionRepositoryInterface stores decision records and their audit trails.
type DecisionRepositoryInterface interface {
	Create(ctx context.Context, rec *domain.DecisionRecord) error
	GetByID(ctx context.Context, id string) (*domain.DecisionRecord, error)
	// GetByIDForUpdate locks the record until the enclosing transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.DecisionRecord, error)
	UpdateStatus(ctx context.Context, id string, status domain.DecisionStatus, verdict *domain.Verdict, updatedAt time.Time) error
	AppendAudit(ctx context.Context, id string, entries []domain.AuditEntry) error
}

// TxRepositories provides transaction-bound repositories.
type TxRepositories interface {
	Chunks() ChunkRepositoryInterface
	Graph() GraphRepositoryInterface
	Decisions() DecisionRepositoryInterface
}

// TxRunner executes a function within a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
