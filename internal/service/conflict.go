package service

import "github.com/cloo-solutions/mnemo/internal/domain"

// tagConflicts marks every item whose fact shares a subject and predicate
// with another item asserting a different value. Both sides are kept.
// Returns the number of tagged items.
func tagConflicts(items []domain.EvidenceItem) int {
	values := make(map[string]map[string]struct{})
	for _, item := range items {
		if item.Fact.IsZero() {
			continue
		}
		key := item.Fact.Key()
		if values[key] == nil {
			values[key] = make(map[string]struct{})
		}
		values[key][domain.NormalizeContent(item.Fact.Value)] = struct{}{}
	}

	tagged := 0
	for i := range items {
		if items[i].Fact.IsZero() {
			continue
		}
		if len(values[items[i].Fact.Key()]) > 1 {
			items[i].Conflicting = true
			tagged++
		}
	}
	return tagged
}
