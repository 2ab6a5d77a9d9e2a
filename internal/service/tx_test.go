package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

type fakeChunkRepo struct {
	mu     sync.Mutex
	chunks map[string]*domain.Chunk
	order  []string
}

func newFakeChunkRepo() *fakeChunkRepo {
	return &fakeChunkRepo{chunks: make(map[string]*domain.Chunk)}
}

func (r *fakeChunkRepo) Create(ctx context.Context, c *domain.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chunks[c.ID]; ok {
		return domain.ErrChunkAlreadyExists
	}
	cp := *c
	r.chunks[c.ID] = &cp
	r.order = append(r.order, c.ID)
	return nil
}

func (r *fakeChunkRepo) GetByID(ctx context.Context, id string) (*domain.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chunks[id]
	if !ok {
		return nil, domain.ErrChunkNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeChunkRepo) MarkSuperseded(ctx context.Context, id, supersededBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chunks[id]
	if !ok {
		return domain.ErrChunkNotFound
	}
	if c.SupersededBy != "" {
		return nil
	}
	c.SupersededBy = supersededBy
	c.SupersededAt = &at
	return nil
}

func (r *fakeChunkRepo) ListActive(ctx context.Context, scope domain.Scope, asOf time.Time) ([]*domain.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Chunk
	for _, id := range r.order {
		c := r.chunks[id]
		if !c.Scope.Matches(scope) || !c.VisibleAt(asOf) || c.IsExpired(asOf) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeChunkRepo) all() []*domain.Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Chunk, 0, len(r.order))
	for _, id := range r.order {
		cp := *r.chunks[id]
		out = append(out, &cp)
	}
	return out
}

type fakeGraphRepo struct {
	mu       sync.Mutex
	entities []*domain.Entity
	edges    []*domain.Edge
}

func (r *fakeGraphRepo) UpsertEntity(ctx context.Context, e *domain.Entity) (*domain.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.entities {
		if existing.Scope == e.Scope && strings.EqualFold(existing.Name, e.Name) {
			cp := *existing
			return &cp, nil
		}
	}
	cp := *e
	r.entities = append(r.entities, &cp)
	out := cp
	return &out, nil
}

func (r *fakeGraphRepo) CreateEdge(ctx context.Context, e *domain.Edge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.edges = append(r.edges, &cp)
	return nil
}

type fakeDecisionRepo struct {
	mu        sync.Mutex
	records   map[string]*domain.DecisionRecord
	createErr error
}

func newFakeDecisionRepo() *fakeDecisionRepo {
	return &fakeDecisionRepo{records: make(map[string]*domain.DecisionRecord)}
}

func (r *fakeDecisionRepo) Create(ctx context.Context, rec *domain.DecisionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.records[rec.ID]; ok {
		return domain.ErrDecisionAlreadyExists
	}
	r.records[rec.ID] = rec.Clone()
	return nil
}

func (r *fakeDecisionRepo) GetByID(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrDecisionNotFound
	}
	return rec.Clone(), nil
}

func (r *fakeDecisionRepo) GetByIDForUpdate(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeDecisionRepo) UpdateStatus(ctx context.Context, id string, status domain.DecisionStatus, verdict *domain.Verdict, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.ErrDecisionNotFound
	}
	rec.Status = status
	if verdict != nil {
		v := *verdict
		rec.Verdict = &v
	}
	rec.UpdatedAt = updatedAt
	return nil
}

func (r *fakeDecisionRepo) AppendAudit(ctx context.Context, id string, entries []domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.ErrDecisionNotFound
	}
	rec.AuditTrail = append(rec.AuditTrail, entries...)
	return nil
}

func (r *fakeDecisionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type testTxRepos struct {
	chunks    *fakeChunkRepo
	graph     *fakeGraphRepo
	decisions *fakeDecisionRepo
}

func newTestTxRepos() *testTxRepos {
	return &testTxRepos{chunks: newFakeChunkRepo(), graph: &fakeGraphRepo{}, decisions: newFakeDecisionRepo()}
}

func (t *testTxRepos) Chunks() ChunkRepositoryInterface {
	return t.chunks
}

func (t *testTxRepos) Graph() GraphRepositoryInterface {
	return t.graph
}

func (t *testTxRepos) Decisions() DecisionRepositoryInterface {
	return t.decisions
}

// testTxRunner serializes transactions the way a row lock would.
type testTxRunner struct {
	mu    sync.Mutex
	repos TxRepositories
	calls int
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return fn(t.repos)
}

type sequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (s *sequenceIDs) NewString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}

type staticEmbedder struct {
	err error
}

func (e staticEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}
