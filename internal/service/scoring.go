package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/llm"
)

const (
	defaultCritiquePenalty = 0.6
	defaultConflictPenalty = 0.5
	// ambiguousCap keeps ties and thin or conflicting evidence below the
	// default approval bar.
	ambiguousCap = 0.79
)

// ScoringConfig tunes calibration.
type ScoringConfig struct {
	CritiquePenalty float64
	ConflictPenalty float64
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{CritiquePenalty: defaultCritiquePenalty, ConflictPenalty: defaultConflictPenalty}
}

// ScoringStage calibrates per-dimension confidence for one proposal:
//
//	overall = modelConfidence × density × recency × critiquePenalty
//
// capped at 0.79 when evidence is ambiguous.
type ScoringStage struct {
	caller *stageCaller
	cfg    ScoringConfig
	now    func() time.Time
}

func NewScoringStage(synth llm.Synthesizer, stage StageConfig, cfg ScoringConfig, now func() time.Time) *ScoringStage {
	if now == nil {
		now = time.Now
	}
	return &ScoringStage{caller: newStageCaller(synth, stage), cfg: cfg, now: now}
}

func (s *ScoringStage) Score(ctx context.Context, query string, p domain.Proposal) ([]domain.Score, error) {
	critique := "none"
	if p.Critique != nil {
		critique = *p.Critique
	}
	out, err := s.caller.call(ctx, llm.Request{
		System: scoringSystemPrompt,
		Prompt: fmt.Sprintf("Query:\n%s\n\n%s\nCritique: %s", query, formatProposal(p), critique),
		Schema: scoreSchema,
	})
	if err != nil {
		return nil, err
	}
	var payload scorePayload
	if err := llm.DecodeJSON(out, &payload); err != nil {
		return nil, fmt.Errorf("decode score: %w", err)
	}

	return s.calibrate(p, clamp01(payload.Confidence)), nil
}

func (s *ScoringStage) calibrate(p domain.Proposal, model float64) []domain.Score {
	density := evidenceDensity(len(p.SupportingEvidence))
	recency := s.recency(p.SupportingEvidence)
	penalty := s.critiquePenalty(p)

	overall := clamp01(model * density * recency * penalty)
	if isAmbiguous(p) && overall > ambiguousCap {
		overall = ambiguousCap
	}

	mk := func(dim domain.ScoreDimension, v float64) domain.Score {
		return domain.Score{ProposalID: p.ID, Dimension: dim, Confidence: v}
	}
	return []domain.Score{
		mk(domain.DimensionOverall, overall),
		mk(domain.DimensionModelConfidence, model),
		mk(domain.DimensionEvidenceDensity, density),
		mk(domain.DimensionRecency, recency),
		mk(domain.DimensionCritiquePenalty, penalty),
	}
}

func (s *ScoringStage) critiquePenalty(p domain.Proposal) float64 {
	if p.Critique == nil {
		return 1
	}
	penalty := s.cfg.CritiquePenalty
	if p.CritiqueConflict {
		penalty *= s.cfg.ConflictPenalty
	}
	return penalty
}

// recency combines an age step over cited evidence with its mean decay factor.
func (s *ScoringStage) recency(items []domain.EvidenceItem) float64 {
	if len(items) == 0 {
		return 1
	}
	now := s.now()
	var ageDays, decay float64
	for _, item := range items {
		ageDays += now.Sub(item.CreatedAt).Hours() / 24
		decay += item.DecayFactor
	}
	ageDays /= float64(len(items))
	decay /= float64(len(items))

	step := 0.7
	switch {
	case ageDays < 30:
		step = 1
	case ageDays < 90:
		step = 0.95
	case ageDays < 180:
		step = 0.9
	case ageDays < 365:
		step = 0.8
	}
	return clamp01(step * decay)
}

func evidenceDensity(cited int) float64 {
	switch {
	case cited == 0:
		return 0.5
	case cited == 1:
		return 0.8
	default:
		return 1
	}
}

func isAmbiguous(p domain.Proposal) bool {
	if p.CritiqueConflict || len(p.SupportingEvidence) < 2 {
		return true
	}
	for _, item := range p.SupportingEvidence {
		if item.Conflicting {
			return true
		}
	}
	return false
}
