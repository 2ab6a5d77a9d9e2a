package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

const chunkColumns = `c.id, c.org_id, c.owner_id, c.content, c.content_hash, c.embedding, c.source_type, c.provenance,
	c.volatile, c.valid_until, c.fact_subject, c.fact_predicate, c.fact_value, c.superseded_by, c.superseded_at, c.created_at`

// activeChunkFilter keeps chunks of scope ($1 org, $2 owner) that are
// created, not superseded and not expired as of $3.
const activeChunkFilter = `($1 = '' OR c.org_id = $1)
	AND ($2 = '' OR c.owner_id = $2)
	AND c.created_at <= $3
	AND (c.superseded_at IS NULL OR c.superseded_at > $3)
	AND (c.valid_until IS NULL OR c.valid_until > $3)`

type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

func (r *ChunkRepository) Create(ctx context.Context, c *domain.Chunk) error {
	if err := domain.ValidateChunk(c); err != nil {
		return err
	}
	if len(c.Embedding) == 0 {
		return domain.Wrap(domain.ErrMissingRequiredField, errors.New("chunk embedding"))
	}

	var subject, predicate, value *string
	if !c.Fact.IsZero() {
		subject, predicate, value = &c.Fact.Subject, &c.Fact.Predicate, &c.Fact.Value
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO chunks (id, org_id, owner_id, content, content_hash, embedding, source_type, provenance,
		                     volatile, valid_until, fact_subject, fact_predicate, fact_value, superseded_by, superseded_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ID, c.Scope.OrgID, c.Scope.OwnerID, c.Content, c.ContentHash, pgvector.NewVector(c.Embedding), c.SourceType, c.Provenance,
		c.Volatile, utcPtr(c.ValidUntil), subject, predicate, value, nullableString(c.SupersededBy), utcPtr(c.SupersededAt), c.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrChunkAlreadyExists
		}
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

func (r *ChunkRepository) GetByID(ctx context.Context, id string) (*domain.Chunk, error) {
	c, err := scanChunk(r.db.QueryRow(ctx, `SELECT `+chunkColumns+` FROM chunks c WHERE c.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChunkNotFound
		}
		return nil, err
	}
	return c, nil
}

// MarkSuperseded is a no-op for a chunk that already has a replacement.
func (r *ChunkRepository) MarkSuperseded(ctx context.Context, id, supersededBy string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE chunks SET superseded_by = $2, superseded_at = $3 WHERE id = $1 AND superseded_by IS NULL`,
		id, supersededBy, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("supersede chunk: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chunks WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrChunkNotFound
	}
	return nil
}

func (r *ChunkRepository) ListActive(ctx context.Context, scope domain.Scope, asOf time.Time) ([]*domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks c
		 WHERE `+activeChunkFilter+`
		 ORDER BY c.created_at, c.id`,
		scope.OrgID, scope.OwnerID, asOf.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChunk(row pgx.Row, extra ...any) (*domain.Chunk, error) {
	var c domain.Chunk
	var emb pgvector.Vector
	var subject, predicate, value, supersededBy *string

	dest := []any{
		&c.ID, &c.Scope.OrgID, &c.Scope.OwnerID, &c.Content, &c.ContentHash, &emb, &c.SourceType, &c.Provenance,
		&c.Volatile, &c.ValidUntil, &subject, &predicate, &value, &supersededBy, &c.SupersededAt, &c.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	c.Embedding = emb.Slice()
	c.SupersededBy = derefString(supersededBy)
	if subject != nil || predicate != nil || value != nil {
		c.Fact = &domain.Fact{Subject: derefString(subject), Predicate: derefString(predicate), Value: derefString(value)}
	}
	return &c, nil
}
