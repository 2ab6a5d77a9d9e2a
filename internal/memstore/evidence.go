package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/service"
)

// EvidenceRepository answers point-in-time vector and graph searches.
type EvidenceRepository struct {
	s *Store
}

// SearchByEmbedding scores every chunk of the readable collections by cosine
// similarity, then drops chunks outside the request's snapshot and scope.
func (r *EvidenceRepository) SearchByEmbedding(ctx context.Context, embedding []float32, req service.SearchRequest) ([]domain.Candidate, error) {
	var where map[string]string
	if req.Scope.OwnerID != "" {
		where = map[string]string{"owner_id": req.Scope.OwnerID}
	}

	var out []domain.Candidate
	for _, col := range r.s.searchCollections(req.Scope.OrgID) {
		n := col.Count()
		if n == 0 {
			continue
		}
		results, err := col.QueryEmbedding(ctx, embedding, n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", col.Name, err)
		}

		r.s.mu.RLock()
		for _, res := range results {
			c, ok := r.s.chunks[res.ID]
			if !ok || !activeAt(c, req.Scope, req.AsOf) {
				continue
			}
			out = append(out, domain.Candidate{
				Chunk:    *cloneChunk(c),
				RawScore: float64(res.Similarity),
				Kind:     domain.EvidenceKindVector,
			})
		}
		r.s.mu.RUnlock()
	}

	return topCandidates(out, req.K), nil
}

// SearchGraph matches entities whose name appears in the query. Edges on a
// matched entity score their confidence; edges one hop further score
// NeighborHopWeight times their confidence.
func (r *EvidenceRepository) SearchGraph(ctx context.Context, req service.SearchRequest) ([]domain.Candidate, error) {
	query := strings.ToLower(req.Query)

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := make(map[string]bool)
	for id, e := range r.s.entities {
		name := strings.ToLower(e.Name)
		if e.Scope.Matches(req.Scope) && name != "" && strings.Contains(query, name) {
			matched[id] = true
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	best := make(map[string]domain.Candidate)
	consider := func(edge *domain.Edge, entityID string, score float64) {
		c, ok := r.s.chunks[edge.ChunkID]
		if !ok || !activeAt(c, req.Scope, req.AsOf) {
			return
		}
		if prev, ok := best[c.ID]; ok && prev.RawScore >= score {
			return
		}
		best[c.ID] = domain.Candidate{
			Chunk:    *cloneChunk(c),
			EntityID: entityID,
			RawScore: score,
			Kind:     domain.EvidenceKindGraph,
		}
	}

	neighbors := make(map[string]bool)
	for _, edge := range r.s.edges {
		switch {
		case matched[edge.FromEntityID]:
			consider(edge, edge.FromEntityID, edge.Confidence)
			if !matched[edge.ToEntityID] {
				neighbors[edge.ToEntityID] = true
			}
		case matched[edge.ToEntityID]:
			consider(edge, edge.ToEntityID, edge.Confidence)
			neighbors[edge.FromEntityID] = true
		}
	}
	for _, edge := range r.s.edges {
		if matched[edge.FromEntityID] || matched[edge.ToEntityID] {
			continue
		}
		switch {
		case neighbors[edge.FromEntityID]:
			consider(edge, edge.FromEntityID, service.NeighborHopWeight*edge.Confidence)
		case neighbors[edge.ToEntityID]:
			consider(edge, edge.ToEntityID, service.NeighborHopWeight*edge.Confidence)
		}
	}

	out := make([]domain.Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	return topCandidates(out, req.K), nil
}

// topCandidates orders by score desc, newer first on ties, and keeps k.
func topCandidates(cands []domain.Candidate, k int) []domain.Candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].RawScore != cands[j].RawScore {
			return cands[i].RawScore > cands[j].RawScore
		}
		if !cands[i].Chunk.CreatedAt.Equal(cands[j].Chunk.CreatedAt) {
			return cands[i].Chunk.CreatedAt.After(cands[j].Chunk.CreatedAt)
		}
		return cands[i].Chunk.ID < cands[j].Chunk.ID
	})
	if k > 0 && len(cands) > k {
		cands = cands[:k]
	}
	return cands
}
