package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/telemetry"
)

const (
	defaultRankerCap               = 5
	defaultRankerCandidates        = 20
	defaultRankerThreshold         = 0.75
	defaultRankerDecayLambda       = 0.05
	defaultRankerDiversity         = 0.3
	defaultRankerSimilarityCeiling = 0.95
)

// RankerConfig tunes HybridRanker.
type RankerConfig struct {
	Cap               int
	Candidates        int
	Threshold         float64
	DecayLambda       float64
	Diversity         float64
	SimilarityCeiling float64
}

func DefaultRankerConfig() RankerConfig {
	return RankerConfig{
		Cap:               defaultRankerCap,
		Candidates:        defaultRankerCandidates,
		Threshold:         defaultRankerThreshold,
		DecayLambda:       defaultRankerDecayLambda,
		Diversity:         defaultRankerDiversity,
		SimilarityCeiling: defaultRankerSimilarityCeiling,
	}
}

// Ranker turns a standalone query into bounded, scored evidence.
type Ranker interface {
	Rank(ctx context.Context, query string, scope domain.Scope) ([]domain.EvidenceItem, error)
}

// HybridRanker merges vector and graph hits, applies decay, thresholding,
// conflict tagging and MMR selection.
type HybridRanker struct {
	source EvidenceSource
	cfg    RankerConfig
	now    func() time.Time
}

func NewHybridRanker(source EvidenceSource, cfg RankerConfig) *HybridRanker {
	return NewHybridRankerWithClock(source, cfg, time.Now)
}

// NewHybridRankerWithClock creates a ranker with an injected clock (for testing)
func NewHybridRankerWithClock(source EvidenceSource, cfg RankerConfig, now func() time.Time) *HybridRanker {
	if cfg.Cap <= 0 {
		cfg.Cap = defaultRankerCap
	}
	if cfg.Candidates < cfg.Cap {
		cfg.Candidates = cfg.Cap
	}
	return &HybridRanker{source: source, cfg: cfg, now: now}
}

// Rank never errors on a threshold miss; it returns an empty slice. Store
// failures surface as ErrRetrievalUnavailable.
func (r *HybridRanker) Rank(ctx context.Context, query string, scope domain.Scope) ([]domain.EvidenceItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "HybridRanker.Rank", telemetry.SpanAttributes{
		OrgID:   scope.OrgID,
		OwnerID: scope.OwnerID,
		Stage:   "rank",
	})
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.EvidenceItem{}, nil
	}

	req := SearchRequest{Query: query, Scope: scope, K: r.cfg.Candidates, AsOf: r.now()}

	var vector, graph []domain.Candidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if vector, err = r.source.VectorSearch(gctx, req); err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if graph, err = r.source.GraphSearch(gctx, req); err != nil {
			return fmt.Errorf("graph search: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		span.SetError(err)
		return nil, domain.Wrap(domain.ErrRetrievalUnavailable, err)
	}

	merged := mergeCandidates(vector, graph)
	items := r.score(merged, req.AsOf)
	selected := selectMMR(items, r.cfg.Cap, r.cfg.Diversity, r.cfg.SimilarityCeiling)
	// tag after selection so a conflict needs both sides in the returned set
	tagConflicts(selected)

	span.SetData("candidates", len(merged))
	span.SetData("selected", len(selected))
	return selected, nil
}

// mergeCandidates dedupes by chunk id, keeping the higher raw score and the
// kind of the path that produced it. First-seen order is preserved.
func mergeCandidates(lists ...[]domain.Candidate) []domain.Candidate {
	index := make(map[string]int)
	var out []domain.Candidate
	for _, list := range lists {
		for _, c := range list {
			if i, ok := index[c.Chunk.ID]; ok {
				if c.RawScore > out[i].RawScore {
					out[i] = c
				}
				continue
			}
			index[c.Chunk.ID] = len(out)
			out = append(out, c)
		}
	}
	return out
}

func (r *HybridRanker) score(candidates []domain.Candidate, asOf time.Time) []domain.EvidenceItem {
	items := make([]domain.EvidenceItem, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if !c.Chunk.VisibleAt(asOf) || c.Chunk.IsExpired(asOf) {
			continue
		}
		raw := clamp01(c.RawScore)
		decay := DecayFactor(&c.Chunk, asOf, r.cfg.DecayLambda)
		final := clamp01(raw * decay)
		if final < r.cfg.Threshold {
			continue
		}
		var fact *domain.Fact
		if !c.Chunk.Fact.IsZero() {
			f := *c.Chunk.Fact
			fact = &f
		}
		items = append(items, domain.EvidenceItem{
			SourceID:       c.Chunk.ID,
			EntityID:       c.EntityID,
			ContentSnippet: makeSnippet(c.Chunk.Content),
			RawScore:       raw,
			DecayFactor:    decay,
			FinalScore:     final,
			Kind:           c.Kind,
			Fact:           fact,
			CreatedAt:      c.Chunk.CreatedAt,
			Embedding:      c.Chunk.Embedding,
		})
	}
	return items
}
