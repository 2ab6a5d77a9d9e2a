package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

type GraphRepository struct {
	db dbtx
}

func NewGraphRepository(pool *pgxpool.Pool) *GraphRepository {
	return &GraphRepository{db: pool}
}

func NewGraphRepositoryWithTx(tx pgx.Tx) *GraphRepository {
	return &GraphRepository{db: tx}
}

// UpsertEntity returns the stored entity with the same scope and
// case-insensitive name, creating it when absent.
func (r *GraphRepository) UpsertEntity(ctx context.Context, e *domain.Entity) (*domain.Entity, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return nil, domain.Wrap(domain.ErrMissingRequiredField, errors.New("entity name"))
	}

	var out domain.Entity
	err := r.db.QueryRow(ctx,
		`INSERT INTO entities (id, org_id, owner_id, name, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (org_id, owner_id, (lower(name))) DO UPDATE SET name = entities.name
		 RETURNING id, org_id, owner_id, name, created_at`,
		e.ID, e.Scope.OrgID, e.Scope.OwnerID, name, e.CreatedAt.UTC(),
	).Scan(&out.ID, &out.Scope.OrgID, &out.Scope.OwnerID, &out.Name, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert entity: %w", err)
	}
	return &out, nil
}

func (r *GraphRepository) CreateEdge(ctx context.Context, e *domain.Edge) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO edges (id, from_entity_id, to_entity_id, relation, confidence, chunk_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.FromEntityID, e.ToEntityID, e.Relation, e.Confidence, e.ChunkID, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	return nil
}
