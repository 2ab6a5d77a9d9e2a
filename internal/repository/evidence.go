package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/service"
)

// EvidenceRepository runs point-in-time vector and graph searches.
type EvidenceRepository struct {
	db dbtx
}

func NewEvidenceRepository(pool *pgxpool.Pool) *EvidenceRepository {
	return &EvidenceRepository{db: pool}
}

func NewEvidenceRepositoryWithTx(tx pgx.Tx) *EvidenceRepository {
	return &EvidenceRepository{db: tx}
}

// SearchByEmbedding ranks chunks by cosine similarity. Chunks embedded with a
// different dimension are skipped rather than failing the query.
func (r *EvidenceRepository) SearchByEmbedding(ctx context.Context, embedding []float32, req service.SearchRequest) ([]domain.Candidate, error) {
	if len(embedding) == 0 || req.K <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+`, 1 - (c.embedding <=> $4) AS score
		 FROM chunks c
		 WHERE `+activeChunkFilter+`
		   AND vector_dims(c.embedding) = vector_dims($4)
		 ORDER BY c.embedding <=> $4, c.created_at DESC, c.id
		 LIMIT $5`,
		req.Scope.OrgID, req.Scope.OwnerID, req.AsOf.UTC(), pgvector.NewVector(embedding), req.K,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var score float64
		c, err := scanChunk(rows, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Candidate{Chunk: *c, RawScore: score, Kind: domain.EvidenceKindVector})
	}
	return out, rows.Err()
}

// SearchGraph matches entities whose name occurs in the query text. Edges on a
// matched entity score their confidence; edges one hop further out score
// NeighborHopWeight times their confidence. Each chunk keeps its best hit.
func (r *EvidenceRepository) SearchGraph(ctx context.Context, req service.SearchRequest) ([]domain.Candidate, error) {
	if req.Query == "" || req.K <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx,
		`WITH matched AS (
		     SELECT id FROM entities
		     WHERE ($1 = '' OR org_id = $1) AND ($2 = '' OR owner_id = $2)
		       AND position(lower(name) IN lower($4)) > 0
		 ),
		 touching AS (
		     SELECT e.* FROM edges e
		     WHERE e.from_entity_id IN (SELECT id FROM matched) OR e.to_entity_id IN (SELECT id FROM matched)
		 ),
		 direct AS (
		     SELECT chunk_id,
		            CASE WHEN from_entity_id IN (SELECT id FROM matched) THEN from_entity_id ELSE to_entity_id END AS entity_id,
		            confidence AS score
		     FROM touching
		 ),
		 neighbors AS (
		     SELECT to_entity_id AS id FROM touching WHERE to_entity_id NOT IN (SELECT id FROM matched)
		     UNION
		     SELECT from_entity_id FROM touching WHERE from_entity_id NOT IN (SELECT id FROM matched)
		 ),
		 hop AS (
		     SELECT e.chunk_id,
		            CASE WHEN e.from_entity_id IN (SELECT id FROM neighbors) THEN e.from_entity_id ELSE e.to_entity_id END AS entity_id,
		            e.confidence * $6 AS score
		     FROM edges e
		     WHERE (e.from_entity_id IN (SELECT id FROM neighbors) OR e.to_entity_id IN (SELECT id FROM neighbors))
		       AND e.from_entity_id NOT IN (SELECT id FROM matched)
		       AND e.to_entity_id NOT IN (SELECT id FROM matched)
		 ),
		 hits AS (
		     SELECT h.chunk_id, h.entity_id, h.score
		     FROM (SELECT * FROM direct UNION ALL SELECT * FROM hop) h
		     JOIN chunks c ON c.id = h.chunk_id
		     WHERE `+activeChunkFilter+`
		 ),
		 best AS (
		     SELECT DISTINCT ON (chunk_id) chunk_id, entity_id, score
		     FROM hits
		     ORDER BY chunk_id, score DESC, entity_id
		 )
		 SELECT `+chunkColumns+`, b.entity_id, b.score
		 FROM best b JOIN chunks c ON c.id = b.chunk_id
		 ORDER BY b.score DESC, c.created_at DESC, c.id
		 LIMIT $5`,
		req.Scope.OrgID, req.Scope.OwnerID, req.AsOf.UTC(), req.Query, req.K, service.NeighborHopWeight,
	)
	if err != nil {
		return nil, fmt.Errorf("graph search: %w", err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var entityID string
		var score float64
		c, err := scanChunk(rows, &entityID, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Candidate{Chunk: *c, EntityID: entityID, RawScore: score, Kind: domain.EvidenceKindGraph})
	}
	return out, rows.Err()
}

var _ service.EvidenceRepositoryInterface = (*EvidenceRepository)(nil)
