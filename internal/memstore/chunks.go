package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

// ChunkRepository stores chunks and indexes their embeddings.
type ChunkRepository struct {
	s *Store
	j *journal
}

func (r *ChunkRepository) Create(ctx context.Context, c *domain.Chunk) error {
	if err := domain.ValidateChunk(c); err != nil {
		return err
	}
	col, err := r.s.collection(c.Scope.OrgID)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	if _, ok := r.s.chunks[c.ID]; ok {
		r.s.mu.Unlock()
		return domain.ErrChunkAlreadyExists
	}
	r.s.chunks[c.ID] = cloneChunk(c)
	r.s.mu.Unlock()

	if len(c.Embedding) > 0 {
		err := col.AddDocument(ctx, chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Embedding: append([]float32(nil), c.Embedding...),
			Metadata: map[string]string{
				"owner_id":    c.Scope.OwnerID,
				"source_type": string(c.SourceType),
			},
		})
		if err != nil {
			r.s.removeChunk(ctx, c.ID, nil)
			return domain.Wrap(domain.ErrStorageOperationFail, fmt.Errorf("index chunk %s: %w", c.ID, err))
		}
	}

	id := c.ID
	r.j.push(func() { r.s.removeChunk(context.Background(), id, col) })
	return nil
}

func (s *Store) removeChunk(ctx context.Context, id string, col *chromem.Collection) {
	s.mu.Lock()
	delete(s.chunks, id)
	s.mu.Unlock()
	if col != nil {
		_ = col.Delete(ctx, nil, nil, id)
	}
}

func (r *ChunkRepository) GetByID(ctx context.Context, id string) (*domain.Chunk, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.chunks[id]
	if !ok {
		return nil, domain.ErrChunkNotFound
	}
	return cloneChunk(c), nil
}

func (r *ChunkRepository) MarkSuperseded(ctx context.Context, id, supersededBy string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.chunks[id]
	if !ok {
		return domain.ErrChunkNotFound
	}
	if c.SupersededBy != "" {
		return nil
	}
	c.SupersededBy = supersededBy
	c.SupersededAt = &at

	r.j.push(func() {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		if c, ok := r.s.chunks[id]; ok {
			c.SupersededBy = ""
			c.SupersededAt = nil
		}
	})
	return nil
}

func (r *ChunkRepository) ListActive(ctx context.Context, scope domain.Scope, asOf time.Time) ([]*domain.Chunk, error) {
	r.s.mu.RLock()
	out := make([]*domain.Chunk, 0, len(r.s.chunks))
	for _, c := range r.s.chunks {
		if activeAt(c, scope, asOf) {
			out = append(out, cloneChunk(c))
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func activeAt(c *domain.Chunk, scope domain.Scope, asOf time.Time) bool {
	return c.Scope.Matches(scope) && c.VisibleAt(asOf) && !c.IsExpired(asOf)
}
