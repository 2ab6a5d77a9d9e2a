package app

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/mnemo/internal/config"
	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/embedding"
	"github.com/cloo-solutions/mnemo/internal/llm"
	"github.com/cloo-solutions/mnemo/internal/service"
)

func testConfig() *config.Config {
	return &config.Config{
		LLMProvider:             config.ProviderOpenAI,
		EmbeddingDimensions:     256,
		EmbeddingCacheSize:      100,
		RankerCap:               5,
		RankerCandidates:        20,
		RankerThreshold:         0.75,
		RankerDecayLambda:       0.05,
		RankerDiversity:         0.3,
		RankerSimilarityCeiling: 0.95,
		TransformWindow:         4,
		StageTimeout:            2 * time.Second,
		StageRetryBackoff:       10 * time.Millisecond,
		CritiquePenalty:         0.6,
		ConflictPenalty:         0.5,
		ApprovalThreshold:       0.8,
		StaleDecayFloor:         0.9,
		ConsolidationSchedule:   "0 3 * * *",
	}
}

var evidenceID = regexp.MustCompile(`\[([^\]]+)\] \(score`)

// deskLLM cites every evidence id it is shown and is confident in p1 only.
func deskLLM() llm.Synthesizer {
	return llm.SynthesizerFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if req.Schema == nil {
			return "", fmt.Errorf("unexpected transform call")
		}
		switch req.Schema.Name {
		case "decision_proposals":
			var ids []string
			for _, m := range evidenceID.FindAllStringSubmatch(req.Prompt, -1) {
				ids = append(ids, `"`+m[1]+`"`)
			}
			if len(ids) == 0 {
				return "", fmt.Errorf("no evidence in prompt")
			}
			return fmt.Sprintf(`{"proposals":[
				{"title":"Pin replicas to postgres 16","rationale":"matches the primary","impact":"low","evidence_ids":[%s]},
				{"title":"Audit replica versions","rationale":"confirm before pinning","impact":"medium","evidence_ids":[%s]}
			]}`, strings.Join(ids, ","), ids[0]), nil
		case "proposal_critique":
			return `{"issues":[],"references_conflict":false}`, nil
		case "proposal_confidence":
			if strings.Contains(req.Prompt, "Proposal p1 ") {
				return `{"confidence":0.95,"reasoning":"two consistent sources"}`, nil
			}
			return `{"confidence":0.6,"reasoning":"thin"}`, nil
		}
		return "", fmt.Errorf("unexpected schema %q", req.Schema.Name)
	})
}

func TestApp_DecisionLifecycle(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), nil, Options{Synthesizer: deskLLM()})
	require.NoError(t, err)
	defer a.Close()

	scope := domain.Scope{OrgID: "acme", OwnerID: "platform"}
	for _, fact := range []struct {
		content string
		fact    domain.Fact
	}{
		{"The primary database runs postgres 16.", domain.Fact{Subject: "primary database", Predicate: "version", Value: "16"}},
		{"Our primary database engine is postgres.", domain.Fact{Subject: "primary database", Predicate: "engine", Value: "postgres"}},
	} {
		f := fact.fact
		_, err := a.Ingestion.IngestFact(ctx, fact.content, domain.FactMetadata{Scope: scope, Fact: &f, Provenance: "runbook"})
		require.NoError(t, err)
	}

	decisions, err := a.Decisions()
	require.NoError(t, err)

	rec, err := decisions.RunDecisionPipeline(ctx, "Which postgres version should the primary database replicas run?", service.ConversationContext{ID: "conv-1"}, scope)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionStatusApproved, rec.Status)
	assert.Equal(t, "p1", rec.SelectedProposalID)
	assert.Len(t, rec.Evidence, 2)
	for _, item := range rec.Evidence {
		assert.Equal(t, domain.EvidenceKindGraph, item.Kind)
		assert.False(t, item.Conflicting)
	}
	for i := 1; i < len(rec.AuditTrail); i++ {
		assert.True(t, rec.AuditTrail[i].Timestamp.After(rec.AuditTrail[i-1].Timestamp))
	}

	t.Run("override reject writes feedback memory", func(t *testing.T) {
		updated, err := decisions.SubmitVerdict(ctx, rec.ID, domain.Verdict{
			Decision: domain.VerdictReject, Rationale: "replicas stay on 14 until Q3", Reviewer: "carol", Override: true,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionStatusRejected, updated.Status)

		active, err := a.stores.chunks.ListActive(ctx, scope, time.Now())
		require.NoError(t, err)
		var feedback int
		for _, c := range active {
			if c.SourceType == domain.SourceTypeGovernanceFeedback {
				feedback++
				assert.Equal(t, "decision:"+rec.ID, c.Provenance)
			}
		}
		assert.Equal(t, 1, feedback)
	})

	t.Run("consolidation merges duplicates", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			_, err := a.Ingestion.IngestFact(ctx, "On-call rotates weekly.", domain.FactMetadata{Scope: scope})
			require.NoError(t, err)
		}

		report, err := a.Consolidation.Consolidate(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.DuplicateGroups)
		assert.Equal(t, 1, report.Created)
		assert.Equal(t, 2, report.Superseded)
	})
}

func TestApp_WithoutProvider(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), nil, Options{})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Decisions()
	assert.ErrorIs(t, err, ErrNoSynthesizer)

	worker, err := a.ConsolidationWorker()
	require.NoError(t, err)
	assert.NoError(t, worker.RunOnce(ctx))
}

func TestApp_InvalidSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.ConsolidationSchedule = "nightly"
	a, err := New(context.Background(), cfg, nil, Options{})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.ConsolidationWorker()
	assert.Error(t, err)
}

func TestPipelineConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ApprovalThreshold = 0.9
	p := PipelineConfig(cfg)

	assert.Equal(t, 0.9, p.Governance.ApprovalThreshold)
	assert.Equal(t, 2*time.Second, p.Stage.Timeout)
	assert.Equal(t, 0.5, p.Scoring.ConflictPenalty)
	assert.Positive(t, p.ReviewParallelism)

	r := RankerConfig(cfg)
	assert.Equal(t, 5, r.Cap)
	assert.Equal(t, 0.75, r.Threshold)
}

func TestEmbeddingModelName(t *testing.T) {
	t.Run("openai model names the cache", func(t *testing.T) {
		cfg := &config.Config{OpenAIAPIKey: "sk-test", OpenAIEmbeddingModel: "text-embedding-3-large", EmbeddingDimensions: 1536}
		assert.Equal(t, "text-embedding-3-large", embeddingModelName(cfg, Options{}))
	})

	t.Run("hash embedder is keyed by dimensions", func(t *testing.T) {
		cfg := &config.Config{EmbeddingDimensions: 64}
		assert.Equal(t, "hash:64", embeddingModelName(cfg, Options{}))
	})

	t.Run("injected embedder gets its own namespace", func(t *testing.T) {
		cfg := &config.Config{OpenAIAPIKey: "sk-test", OpenAIEmbeddingModel: "text-embedding-3-small"}
		name := embeddingModelName(cfg, Options{Embedder: embedding.NewHashEmbedder(8)})
		assert.NotEqual(t, "text-embedding-3-small", name)
		assert.True(t, strings.HasPrefix(name, "injected:"))
	})
}
