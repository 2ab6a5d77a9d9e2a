package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/embedding"
	"github.com/cloo-solutions/mnemo/internal/service"
)

var t0 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

var orgScope = domain.Scope{OrgID: "org1", OwnerID: "alice"}

func addChunk(t *testing.T, s *Store, id, content string, created time.Time, scope domain.Scope, fact *domain.Fact) *domain.Chunk {
	t.Helper()
	ctx := context.Background()
	emb, err := embedding.NewHashEmbedder(64).GenerateEmbedding(ctx, content)
	require.NoError(t, err)
	c := domain.NewChunk(id, content, emb, domain.FactMetadata{Scope: scope, Fact: fact}, created)

	err = s.WithTx(ctx, func(repos service.TxRepositories) error {
		if err := repos.Chunks().Create(ctx, c); err != nil {
			return err
		}
		if fact == nil {
			return nil
		}
		subject, err := repos.Graph().UpsertEntity(ctx, &domain.Entity{ID: id + "-s", Name: fact.Subject, Scope: scope, CreatedAt: created})
		if err != nil {
			return err
		}
		value, err := repos.Graph().UpsertEntity(ctx, &domain.Entity{ID: id + "-v", Name: fact.Value, Scope: scope, CreatedAt: created})
		if err != nil {
			return err
		}
		return repos.Graph().CreateEdge(ctx, &domain.Edge{ID: id + "-e", FromEntityID: subject.ID, ToEntityID: value.ID,
			Relation: fact.Predicate, Confidence: 1, ChunkID: id, CreatedAt: created})
	})
	require.NoError(t, err)
	return c
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	addChunk(t, s, "keep", "the primary database runs postgres", t0, orgScope, nil)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(repos service.TxRepositories) error {
		emb, _ := embedding.NewHashEmbedder(64).GenerateEmbedding(ctx, "temporary note")
		require.NoError(t, repos.Chunks().Create(ctx, domain.NewChunk("tmp", "temporary note", emb, domain.FactMetadata{Scope: orgScope}, t0)))
		require.NoError(t, repos.Chunks().MarkSuperseded(ctx, "keep", "tmp", t0))
		_, err := repos.Graph().UpsertEntity(ctx, &domain.Entity{ID: "ent", Name: "Billing", Scope: orgScope})
		require.NoError(t, err)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	_, err = s.Chunks().GetByID(ctx, "tmp")
	assert.ErrorIs(t, err, domain.ErrChunkNotFound)

	kept, err := s.Chunks().GetByID(ctx, "keep")
	require.NoError(t, err)
	assert.Empty(t, kept.SupersededBy)
	assert.Empty(t, s.entities)

	cands, err := s.Evidence().SearchByEmbedding(ctx, kept.Embedding, service.SearchRequest{Scope: orgScope, K: 5, AsOf: t0})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "keep", cands[0].Chunk.ID)
}

func TestChunkRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate id is rejected", func(t *testing.T) {
		s := New()
		c := addChunk(t, s, "c1", "rotate api keys monthly", t0, orgScope, nil)
		assert.ErrorIs(t, s.Chunks().Create(ctx, c), domain.ErrChunkAlreadyExists)
	})

	t.Run("superseding is idempotent and keeps the first replacement", func(t *testing.T) {
		s := New()
		addChunk(t, s, "c1", "rotate api keys monthly", t0, orgScope, nil)

		require.NoError(t, s.Chunks().MarkSuperseded(ctx, "c1", "c2", t0.Add(time.Hour)))
		require.NoError(t, s.Chunks().MarkSuperseded(ctx, "c1", "c3", t0.Add(2*time.Hour)))

		c, err := s.Chunks().GetByID(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "c2", c.SupersededBy)
		assert.ErrorIs(t, s.Chunks().MarkSuperseded(ctx, "nope", "c2", t0), domain.ErrChunkNotFound)
	})

	t.Run("list active honours snapshot expiry and scope", func(t *testing.T) {
		s := New()
		addChunk(t, s, "old", "staging is down", t0, orgScope, nil)
		addChunk(t, s, "new", "staging is up", t0.Add(2*time.Hour), orgScope, nil)
		addChunk(t, s, "other", "staging is up", t0, domain.Scope{OrgID: "org2"}, nil)
		require.NoError(t, s.Chunks().MarkSuperseded(ctx, "old", "new", t0.Add(2*time.Hour)))

		ids := func(asOf time.Time, scope domain.Scope) []string {
			list, err := s.Chunks().ListActive(ctx, scope, asOf)
			require.NoError(t, err)
			var out []string
			for _, c := range list {
				out = append(out, c.ID)
			}
			return out
		}

		assert.Equal(t, []string{"old"}, ids(t0.Add(time.Hour), orgScope))
		assert.Equal(t, []string{"new"}, ids(t0.Add(3*time.Hour), orgScope))
		assert.Equal(t, []string{"other", "new"}, ids(t0.Add(3*time.Hour), domain.Scope{}))
	})

	t.Run("returned chunks are copies", func(t *testing.T) {
		s := New()
		addChunk(t, s, "c1", "freeze deploys on fridays", t0, orgScope, &domain.Fact{Subject: "deploys", Predicate: "freeze", Value: "friday"})

		c, err := s.Chunks().GetByID(ctx, "c1")
		require.NoError(t, err)
		c.Fact.Value = "monday"

		again, err := s.Chunks().GetByID(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "friday", again.Fact.Value)
	})
}

func TestEvidenceRepository_SearchByEmbedding(t *testing.T) {
	ctx := context.Background()
	embedder := embedding.NewHashEmbedder(64)

	s := New()
	addChunk(t, s, "pg", "primary database runs postgres 16", t0, orgScope, nil)
	addChunk(t, s, "kafka", "kafka retention is seven days", t0, orgScope, nil)
	addChunk(t, s, "bob", "primary database runs postgres 16", t0, domain.Scope{OrgID: "org1", OwnerID: "bob"}, nil)
	addChunk(t, s, "later", "primary database runs postgres 17", t0.Add(time.Hour), orgScope, nil)

	query, err := embedder.GenerateEmbedding(ctx, "which postgres does the primary database run")
	require.NoError(t, err)

	cands, err := s.Evidence().SearchByEmbedding(ctx, query, service.SearchRequest{Scope: orgScope, K: 10, AsOf: t0})
	require.NoError(t, err)

	require.NotEmpty(t, cands)
	assert.Equal(t, "pg", cands[0].Chunk.ID)
	assert.Equal(t, domain.EvidenceKindVector, cands[0].Kind)
	for _, c := range cands {
		assert.NotEqual(t, "bob", c.Chunk.ID)
		assert.NotEqual(t, "later", c.Chunk.ID)
	}
	for i := 1; i < len(cands); i++ {
		assert.GreaterOrEqual(t, cands[i-1].RawScore, cands[i].RawScore)
	}

	limited, err := s.Evidence().SearchByEmbedding(ctx, query, service.SearchRequest{Scope: domain.Scope{OrgID: "org1"}, K: 1, AsOf: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.Evidence().SearchByEmbedding(ctx, query, service.SearchRequest{Scope: domain.Scope{OrgID: "org9"}, K: 5, AsOf: t0})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEvidenceRepository_SearchGraph(t *testing.T) {
	ctx := context.Background()
	s := New()
	addChunk(t, s, "v14", "primary database runs postgres 14", t0, orgScope, &domain.Fact{Subject: "primary database", Predicate: "version", Value: "14"})
	addChunk(t, s, "v16", "primary database runs postgres 16", t0.Add(time.Hour), orgScope, &domain.Fact{Subject: "primary database", Predicate: "version", Value: "16"})
	addChunk(t, s, "replica", "reporting replica runs postgres 16", t0, orgScope, &domain.Fact{Subject: "reporting replica", Predicate: "version", Value: "16"})
	addChunk(t, s, "unrelated", "on-call rotates weekly", t0, orgScope, &domain.Fact{Subject: "on-call", Predicate: "rotation", Value: "weekly"})

	cands, err := s.Evidence().SearchGraph(ctx, service.SearchRequest{Query: "What version is the Primary Database on?", Scope: orgScope, K: 10, AsOf: t0.Add(2 * time.Hour)})
	require.NoError(t, err)

	scores := make(map[string]float64)
	for _, c := range cands {
		scores[c.Chunk.ID] = c.RawScore
		assert.Equal(t, domain.EvidenceKindGraph, c.Kind)
		assert.NotEmpty(t, c.EntityID)
	}
	assert.Equal(t, 1.0, scores["v14"])
	assert.Equal(t, 1.0, scores["v16"])
	assert.InDelta(t, service.NeighborHopWeight, scores["replica"], 1e-9)
	assert.NotContains(t, scores, "unrelated")

	t.Run("snapshot hides later facts", func(t *testing.T) {
		cands, err := s.Evidence().SearchGraph(ctx, service.SearchRequest{Query: "primary database", Scope: orgScope, K: 10, AsOf: t0})
		require.NoError(t, err)
		for _, c := range cands {
			assert.NotEqual(t, "v16", c.Chunk.ID)
		}
	})

	t.Run("no entity named in the query", func(t *testing.T) {
		cands, err := s.Evidence().SearchGraph(ctx, service.SearchRequest{Query: "kafka retention", Scope: orgScope, K: 10, AsOf: t0})
		require.NoError(t, err)
		assert.Empty(t, cands)
	})
}

func TestDecisionRepository(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := &domain.DecisionRecord{ID: "d1", Status: domain.DecisionStatusPending, CreatedAt: t0, UpdatedAt: t0,
		AuditTrail: []domain.AuditEntry{{Timestamp: t0, Agent: domain.AgentSupervisor, Action: "decide"}}}
	require.NoError(t, s.Decisions().Create(ctx, rec))
	assert.ErrorIs(t, s.Decisions().Create(ctx, rec), domain.ErrDecisionAlreadyExists)

	err := s.WithTx(ctx, func(repos service.TxRepositories) error {
		v := domain.Verdict{Decision: domain.VerdictApprove}
		require.NoError(t, repos.Decisions().UpdateStatus(ctx, "d1", domain.DecisionStatusApproved, &v, t0.Add(time.Second)))
		require.NoError(t, repos.Decisions().AppendAudit(ctx, "d1", []domain.AuditEntry{{Timestamp: t0.Add(time.Second), Agent: domain.AgentFeedback}}))
		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := s.Decisions().GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionStatusPending, got.Status)
	assert.Nil(t, got.Verdict)
	assert.Len(t, got.AuditTrail, 1)

	_, err = s.Decisions().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDecisionNotFound)
}

func TestExpiredFactIsNeverRanked(t *testing.T) {
	ctx := context.Background()
	s := New()
	embedder := embedding.NewHashEmbedder(64)
	clock := func() time.Time { return t0 }
	ingestion := service.NewIngestionServiceWithDeps(embedder, s, &service.DefaultUUIDGenerator{}, clock)
	ranker := service.NewHybridRankerWithClock(service.NewEvidenceAdapter(embedder, s.Evidence()), service.DefaultRankerConfig(), clock)

	const content = "the staging cluster is frozen for the release"
	fact := &domain.Fact{Subject: "staging cluster", Predicate: "state", Value: "frozen"}
	expiredAt := t0.Add(-time.Second)

	expired, err := ingestion.IngestFact(ctx, content, domain.FactMetadata{Scope: orgScope, Fact: fact, ValidUntil: &expiredAt})
	require.NoError(t, err)

	t.Run("alone it yields no evidence", func(t *testing.T) {
		items, err := ranker.Rank(ctx, content, orgScope)

		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("a live copy is returned in its place", func(t *testing.T) {
		live, err := ingestion.IngestFact(ctx, content, domain.FactMetadata{Scope: orgScope, Fact: fact})
		require.NoError(t, err)

		items, err := ranker.Rank(ctx, content, orgScope)

		require.NoError(t, err)
		require.NotEmpty(t, items)
		var ids []string
		for _, item := range items {
			ids = append(ids, item.SourceID)
		}
		assert.Contains(t, ids, live)
		assert.NotContains(t, ids, expired)
	})
}
