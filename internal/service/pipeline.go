package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/llm"
	"github.com/cloo-solutions/mnemo/internal/telemetry"
)

const defaultReviewParallelism = 4

var errSuperseded = errors.New("superseded by a newer query in the same conversation")

// PipelineConfig holds the tunables of one decision run.
type PipelineConfig struct {
	Stage             StageConfig
	TransformWindow   int
	Scoring           ScoringConfig
	Governance        GovernanceConfig
	StaleDecayFloor   float64
	ReviewParallelism int
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Stage:             DefaultStageConfig(),
		TransformWindow:   defaultTransformWindow,
		Scoring:           DefaultScoringConfig(),
		Governance:        DefaultGovernanceConfig(),
		StaleDecayFloor:   defaultStaleDecayFloor,
		ReviewParallelism: defaultReviewParallelism,
	}
}

// RecordArchiver keeps an external copy of finished decision records.
type RecordArchiver interface {
	Archive(ctx context.Context, rec *domain.DecisionRecord) error
}

// DecisionServiceDeps are the collaborators of a DecisionService.
// Archiver, UUIDGen, Now and Logger are optional.
type DecisionServiceDeps struct {
	Synthesizer llm.Synthesizer
	Ranker      Ranker
	Decisions   DecisionRepositoryInterface
	Tx          TxRunner
	Ingestion   *IngestionService
	Archiver    RecordArchiver
	UUIDGen     UUIDGenerator
	Now         func() time.Time
	Logger      *slog.Logger
}

// DecisionService runs the decision pipeline and applies human verdicts.
// At most one run per conversation is in flight; a newer query cancels the
// older run, which still persists a cancelled record.
type DecisionService struct {
	ranker      Ranker
	transformer *QueryTransformer
	synthesis   *SynthesisStage
	critique    *CritiqueStage
	scoring     *ScoringStage
	supervisor  *SupervisorStage
	decisions   DecisionRepositoryInterface
	tx          TxRunner
	ingestion   *IngestionService
	archiver    RecordArchiver
	uuidGen     UUIDGenerator
	now         func() time.Time
	logger      *slog.Logger
	parallelism int

	mu       sync.Mutex
	inflight map[string]*inflightRun
}

type inflightRun struct {
	cancel context.CancelCauseFunc
}

// NewDecisionService creates a new DecisionService instance
func NewDecisionService(deps DecisionServiceDeps, cfg PipelineConfig) *DecisionService {
	if deps.UUIDGen == nil {
		deps.UUIDGen = &DefaultUUIDGenerator{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.ReviewParallelism <= 0 {
		cfg.ReviewParallelism = defaultReviewParallelism
	}

	return &DecisionService{
		ranker:      deps.Ranker,
		transformer: NewQueryTransformer(deps.Synthesizer, cfg.TransformWindow, cfg.Stage),
		synthesis:   NewSynthesisStage(deps.Synthesizer, cfg.Stage),
		critique:    NewCritiqueStage(deps.Synthesizer, cfg.Stage, cfg.StaleDecayFloor),
		scoring:     NewScoringStage(deps.Synthesizer, cfg.Stage, cfg.Scoring, deps.Now),
		supervisor:  NewSupervisorStage(cfg.Governance),
		decisions:   deps.Decisions,
		tx:          deps.Tx,
		ingestion:   deps.Ingestion,
		archiver:    deps.Archiver,
		uuidGen:     deps.UUIDGen,
		now:         deps.Now,
		logger:      deps.Logger,
		parallelism: cfg.ReviewParallelism,
		inflight:    make(map[string]*inflightRun),
	}
}

// RunDecisionPipeline runs transform, rank, synthesis, critique, scoring and
// supervision for one query and persists the resulting record.
//
// ErrRetrievalUnavailable aborts before anything is persisted. A run
// cancelled by its caller persists a cancelled record and returns it with
// the context error; a run superseded by a newer query in the same
// conversation returns its cancelled record with a nil error.
func (s *DecisionService) RunDecisionPipeline(ctx context.Context, query string, conv ConversationContext, scope domain.Scope) (*domain.DecisionRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.Wrap(domain.ErrMissingRequiredField, fmt.Errorf("query"))
	}

	rec := &domain.DecisionRecord{
		ID:             s.uuidGen.NewString(),
		ConversationID: conv.ID,
		Scope:          scope,
		Query:          query,
		Status:         domain.DecisionStatusPending,
		CreatedAt:      s.now().UTC().Truncate(time.Microsecond),
	}

	ctx, span := telemetry.StartSpan(ctx, "DecisionService.RunDecisionPipeline", telemetry.SpanAttributes{
		OrgID:      scope.OrgID,
		OwnerID:    scope.OwnerID,
		DecisionID: rec.ID,
		Stage:      "pipeline",
	})
	defer span.End()

	runCtx, release := s.register(ctx, conv.ID)
	defer release()

	audit := newAuditRecorder(s.now)
	logger := s.logger.With("decision_id", rec.ID, "conversation_id", conv.ID)

	transformed := s.transformer.Transform(runCtx, query, conv)
	switch {
	case transformed.Fallback:
		audit.record(domain.AgentQueryTransformer, "fallback", "using raw utterance: %v", transformed.Err)
	default:
		audit.record(domain.AgentQueryTransformer, "transform", "continuation=%t goal_appended=%t query=%q",
			transformed.Continuation, transformed.GoalAppended, transformed.Query)
	}
	rec.StandaloneQuery = transformed.Query
	if runCtx.Err() != nil {
		return s.finishCancelled(ctx, runCtx, rec, audit)
	}

	evidence, err := s.ranker.Rank(runCtx, transformed.Query, scope)
	if err != nil {
		if runCtx.Err() != nil {
			return s.finishCancelled(ctx, runCtx, rec, audit)
		}
		span.SetError(err)
		logger.Error("retrieval failed", "error", err)
		return nil, err
	}
	rec.Evidence = evidence
	audit.record(domain.AgentRanker, "rank", "items=%d conflicting=%d", len(evidence), countConflicting(evidence))

	proposals, err := s.synthesis.Synthesize(runCtx, transformed.Query, evidence, audit)
	if runCtx.Err() != nil {
		return s.finishCancelled(ctx, runCtx, rec, audit)
	}
	if err != nil {
		logger.Warn("synthesis produced no proposals", "error", err)
	}

	s.review(runCtx, transformed.Query, proposals, audit)
	rec.Proposals = proposals
	if runCtx.Err() != nil {
		return s.finishCancelled(ctx, runCtx, rec, audit)
	}

	decision := s.supervisor.Decide(proposals, evidence)
	audit.record(domain.AgentSupervisor, "decide", "selected=%s status=%s overall=%.2f",
		decision.SelectedProposalID, decision.Status, decision.Overall)

	rec.SelectedProposalID = decision.SelectedProposalID
	rec.Status = decision.Status
	rec.MetaAnalysis = decision.MetaAnalysis
	rec.AuditTrail = audit.snapshot()
	rec.UpdatedAt = rec.AuditTrail[len(rec.AuditTrail)-1].Timestamp

	if err := s.decisions.Create(ctx, rec); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("persist decision: %w", err)
	}
	s.archive(ctx, rec)

	logger.Info("decision recorded",
		"status", rec.Status,
		"selected", rec.SelectedProposalID,
		"evidence", len(evidence),
		"proposals", len(proposals))
	return rec, nil
}

// review runs critique then scoring for each proposal concurrently. A failed
// stage drops that proposal without failing the run.
func (s *DecisionService) review(ctx context.Context, query string, proposals []domain.Proposal, audit *auditRecorder) {
	if len(proposals) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i := range proposals {
		p := &proposals[i]
		g.Go(func() error {
			pctx, span := telemetry.StartSpan(ctx, "DecisionService.review", telemetry.SpanAttributes{ProposalID: p.ID, Stage: "critique"})
			defer span.End()

			res, err := s.critique.Critique(pctx, query, *p)
			if err != nil {
				audit.record(domain.AgentCritique, "critique_failed", "proposal=%s: %v", p.ID, err)
				drop(p, "critique", err)
				return nil
			}
			p.Critique = res.Critique
			p.CritiqueConflict = res.Conflict
			audit.record(domain.AgentCritique, "critique", "proposal=%s issues=%t conflict=%t", p.ID, res.Critique != nil, res.Conflict)

			scores, err := s.scoring.Score(pctx, query, *p)
			if err != nil {
				audit.record(domain.AgentScoring, "score_failed", "proposal=%s: %v", p.ID, err)
				drop(p, "scoring", err)
				return nil
			}
			p.Scores = scores
			overall, _ := p.Overall()
			audit.record(domain.AgentScoring, "score", "proposal=%s overall=%.2f", p.ID, overall)
			return nil
		})
	}
	_ = g.Wait()
}

func drop(p *domain.Proposal, stage string, err error) {
	p.Dropped = true
	p.DropReason = fmt.Sprintf("%s: %v", stage, err)
	p.Scores = nil
}

// finishCancelled persists what the run produced so far as a cancelled record.
func (s *DecisionService) finishCancelled(ctx, runCtx context.Context, rec *domain.DecisionRecord, audit *auditRecorder) (*domain.DecisionRecord, error) {
	cause := context.Cause(runCtx)
	audit.record(domain.AgentPipeline, "cancelled", "%v", cause)

	rec.Status = domain.DecisionStatusCancelled
	rec.SelectedProposalID = ""
	rec.MetaAnalysis = fmt.Sprintf("Run cancelled before supervision: %v.", cause)
	rec.AuditTrail = audit.snapshot()
	rec.UpdatedAt = rec.AuditTrail[len(rec.AuditTrail)-1].Timestamp

	persistCtx := context.WithoutCancel(ctx)
	if err := s.decisions.Create(persistCtx, rec); err != nil {
		return nil, fmt.Errorf("persist cancelled decision: %w", err)
	}
	s.archive(persistCtx, rec)
	s.logger.Info("decision run cancelled", "decision_id", rec.ID, "cause", cause)

	if errors.Is(cause, errSuperseded) {
		return rec, nil
	}
	return rec, cause
}

// register makes this run the only in-flight run of the conversation,
// cancelling any older one.
func (s *DecisionService) register(ctx context.Context, conversationID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancelCause(ctx)
	if conversationID == "" {
		return runCtx, func() { cancel(nil) }
	}

	run := &inflightRun{cancel: cancel}
	s.mu.Lock()
	if prev, ok := s.inflight[conversationID]; ok {
		prev.cancel(errSuperseded)
	}
	s.inflight[conversationID] = run
	s.mu.Unlock()

	return runCtx, func() {
		s.mu.Lock()
		if s.inflight[conversationID] == run {
			delete(s.inflight, conversationID)
		}
		s.mu.Unlock()
		cancel(nil)
	}
}

func (s *DecisionService) archive(ctx context.Context, rec *domain.DecisionRecord) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.Archive(ctx, rec); err != nil {
		s.logger.Warn("archive decision failed", "decision_id", rec.ID, "error", err)
		telemetry.CaptureError(ctx, err)
	}
}

// GetDecision returns a stored decision record.
func (s *DecisionService) GetDecision(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	return s.decisions.GetByID(ctx, id)
}

func countConflicting(items []domain.EvidenceItem) int {
	n := 0
	for _, item := range items {
		if item.Conflicting {
			n++
		}
	}
	return n
}
