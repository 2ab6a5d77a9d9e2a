package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

// ConsolidationReport summarizes one consolidation pass.
type ConsolidationReport struct {
	Scanned         int
	DuplicateGroups int
	VolatileGroups  int
	Created         int
	Superseded      int
}

// ConsolidationService merges duplicate chunks and retires stale volatile
// facts. It plans against an immutable snapshot and applies the plan in one
// transaction, so concurrent readers never see a half-applied pass.
type ConsolidationService struct {
	chunks  ChunkRepositoryInterface
	tx      TxRunner
	uuidGen UUIDGenerator
	now     func() time.Time
	logger  *slog.Logger
}

// NewConsolidationService creates a new ConsolidationService instance
func NewConsolidationService(chunks ChunkRepositoryInterface, tx TxRunner, uuidGen UUIDGenerator, now func() time.Time, logger *slog.Logger) *ConsolidationService {
	if uuidGen == nil {
		uuidGen = &DefaultUUIDGenerator{}
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsolidationService{chunks: chunks, tx: tx, uuidGen: uuidGen, now: now, logger: logger}
}

type supersession struct {
	id string
	by string
}

type consolidationPlan struct {
	creates    []*domain.Chunk
	supersedes []supersession
	report     ConsolidationReport
}

// Consolidate runs one pass over every active chunk.
func (s *ConsolidationService) Consolidate(ctx context.Context) (ConsolidationReport, error) {
	asOf := s.now().UTC()
	snapshot, err := s.chunks.ListActive(ctx, domain.Scope{}, asOf)
	if err != nil {
		return ConsolidationReport{}, fmt.Errorf("snapshot chunks: %w", err)
	}

	plan := s.plan(snapshot)
	if len(plan.creates) == 0 && len(plan.supersedes) == 0 {
		return plan.report, nil
	}

	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		for _, c := range plan.creates {
			if err := repos.Chunks().Create(ctx, c); err != nil {
				return fmt.Errorf("create replacement: %w", err)
			}
			if err := recordFact(ctx, repos.Graph(), s.uuidGen, c); err != nil {
				return err
			}
		}
		for _, sup := range plan.supersedes {
			if err := repos.Chunks().MarkSuperseded(ctx, sup.id, sup.by, asOf); err != nil {
				return fmt.Errorf("supersede %s: %w", sup.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return ConsolidationReport{}, err
	}
	return plan.report, nil
}

// Run adapts Consolidate to the scheduled worker.
func (s *ConsolidationService) Run(ctx context.Context) error {
	report, err := s.Consolidate(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("consolidation pass finished",
		"scanned", report.Scanned,
		"duplicate_groups", report.DuplicateGroups,
		"volatile_groups", report.VolatileGroups,
		"created", report.Created,
		"superseded", report.Superseded)
	return nil
}

// plan never mutates the snapshot. Each duplicate group (same scope and
// content hash) gets one replacement chunk; then, among the survivors, only
// the newest volatile chunk per (scope, fact key) stays active.
func (s *ConsolidationService) plan(snapshot []*domain.Chunk) consolidationPlan {
	plan := consolidationPlan{report: ConsolidationReport{Scanned: len(snapshot)}}

	groups := make(map[string][]*domain.Chunk)
	var order []string
	for _, c := range snapshot {
		key := scopeKey(c.Scope) + "\x00" + c.ContentHash
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	var survivors []*domain.Chunk
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			survivors = append(survivors, group[0])
			continue
		}
		replacement := s.merge(group)
		plan.creates = append(plan.creates, replacement)
		for _, c := range group {
			plan.supersedes = append(plan.supersedes, supersession{id: c.ID, by: replacement.ID})
		}
		plan.report.DuplicateGroups++
		survivors = append(survivors, replacement)
	}

	facts := make(map[string][]*domain.Chunk)
	var factOrder []string
	for _, c := range survivors {
		if !c.Volatile || c.Fact.IsZero() {
			continue
		}
		key := scopeKey(c.Scope) + "\x00" + c.Fact.Key()
		if _, ok := facts[key]; !ok {
			factOrder = append(factOrder, key)
		}
		facts[key] = append(facts[key], c)
	}
	for _, key := range factOrder {
		group := facts[key]
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool { return group[i].CreatedAt.After(group[j].CreatedAt) })
		newest := group[0]
		for _, c := range group[1:] {
			plan.supersedes = append(plan.supersedes, supersession{id: c.ID, by: newest.ID})
		}
		plan.report.VolatileGroups++
	}

	plan.report.Created = len(plan.creates)
	plan.report.Superseded = len(plan.supersedes)
	return plan
}

// merge builds one replacement from a duplicate group. It keeps the newest
// member's content, fact and creation time, stays volatile only if every
// member was, and keeps the latest validity window. Carrying the creation
// time keeps the replacement's decay age and its place among newer facts.
func (s *ConsolidationService) merge(group []*domain.Chunk) *domain.Chunk {
	newest := group[0]
	volatile := true
	validUntil := group[0].ValidUntil
	for _, c := range group {
		if c.CreatedAt.After(newest.CreatedAt) {
			newest = c
		}
		if !c.Volatile {
			volatile = false
		}
		switch {
		case c.ValidUntil == nil:
			validUntil = nil
		case validUntil != nil && c.ValidUntil.After(*validUntil):
			validUntil = c.ValidUntil
		}
	}

	var fact *domain.Fact
	if !newest.Fact.IsZero() {
		f := *newest.Fact
		fact = &f
	}
	return &domain.Chunk{
		ID:          s.uuidGen.NewString(),
		Content:     newest.Content,
		ContentHash: newest.ContentHash,
		Embedding:   append([]float32(nil), newest.Embedding...),
		SourceType:  domain.SourceTypeConsolidation,
		Provenance:  fmt.Sprintf("consolidation:%d chunks", len(group)),
		Scope:       newest.Scope,
		Volatile:    volatile,
		ValidUntil:  validUntil,
		Fact:        fact,
		CreatedAt:   newest.CreatedAt,
	}
}

func scopeKey(s domain.Scope) string {
	return s.OrgID + "/" + s.OwnerID
}
