package service

import (
	"math"
	"sort"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

type mmrCandidate struct {
	item   domain.EvidenceItem
	tokens map[string]struct{}
}

// similarity is cosine over embeddings when both sides have one of equal
// length, token Jaccard over snippets otherwise. Result is in [0,1].
func similarity(a, b *mmrCandidate) float64 {
	ea, eb := a.item.Embedding, b.item.Embedding
	if len(ea) > 0 && len(ea) == len(eb) {
		var dot, na, nb float64
		for i := range ea {
			dot += float64(ea[i]) * float64(eb[i])
			na += float64(ea[i]) * float64(ea[i])
			nb += float64(eb[i]) * float64(eb[i])
		}
		if na == 0 || nb == 0 {
			return 0
		}
		return clamp01(dot / (math.Sqrt(na) * math.Sqrt(nb)))
	}
	return jaccard(a.tokens, b.tokens)
}

// disagree reports whether two items assert different values for the same fact.
// Such pairs are not redundant, so they never count against each other.
func disagree(a, b *domain.EvidenceItem) bool {
	if a.Fact.IsZero() || b.Fact.IsZero() {
		return false
	}
	return a.Fact.Key() == b.Fact.Key() &&
		domain.NormalizeContent(a.Fact.Value) != domain.NormalizeContent(b.Fact.Value)
}

// selectMMR picks up to limit items by Maximal Marginal Relevance:
// finalScore - mu * maxSimilarityToSelected. Candidates whose similarity to
// the selection exceeds ceiling are only taken once no diverse candidate is left.
func selectMMR(items []domain.EvidenceItem, limit int, mu, ceiling float64) []domain.EvidenceItem {
	if len(items) == 0 || limit <= 0 {
		return []domain.EvidenceItem{}
	}

	remaining := make([]*mmrCandidate, 0, len(items))
	for _, item := range items {
		remaining = append(remaining, &mmrCandidate{item: item, tokens: tokenSet(item.ContentSnippet)})
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		a, b := remaining[i].item, remaining[j].item
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.SourceID < b.SourceID
	})

	selected := make([]*mmrCandidate, 0, limit)
	for len(selected) < limit && len(remaining) > 0 {
		best, bestDiverse := -1, false
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if disagree(&cand.item, &s.item) {
					continue
				}
				if sim := similarity(cand, s); sim > maxSim {
					maxSim = sim
				}
			}
			diverse := maxSim <= ceiling
			score := cand.item.FinalScore - mu*maxSim
			if (diverse && !bestDiverse) || (diverse == bestDiverse && score > bestScore) {
				best, bestDiverse, bestScore = i, diverse, score
			}
		}
		selected = append(selected, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	out := make([]domain.EvidenceItem, 0, len(selected))
	for _, s := range selected {
		out = append(out, s.item)
	}
	return out
}
