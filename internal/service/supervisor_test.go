package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

func scoredProposal(id string, impact domain.Impact, overall float64) domain.Proposal {
	return domain.Proposal{
		ID:     id,
		Title:  "proposal " + id,
		Impact: impact,
		SupportingEvidence: []domain.EvidenceItem{
			{SourceID: "e1", FinalScore: 0.9, DecayFactor: 1},
			{SourceID: "e2", FinalScore: 0.8, DecayFactor: 1},
		},
		Scores: []domain.Score{{ProposalID: id, Dimension: domain.DimensionOverall, Confidence: overall}},
	}
}

var someEvidence = []domain.EvidenceItem{{SourceID: "e1"}, {SourceID: "e2"}}

func TestSupervisorStage_Decide(t *testing.T) {
	s := NewSupervisorStage(DefaultGovernanceConfig())

	t.Run("high impact stays pending regardless of confidence", func(t *testing.T) {
		d := s.Decide([]domain.Proposal{
			scoredProposal("p1", domain.ImpactHigh, 0.95),
			scoredProposal("p2", domain.ImpactLow, 0.60),
		}, someEvidence)

		assert.Equal(t, "p1", d.SelectedProposalID)
		assert.Equal(t, domain.DecisionStatusPending, d.Status)
		assert.InDelta(t, 0.95, d.Overall, 1e-9)
		assert.Contains(t, d.MetaAnalysis, "High impact")
	})

	t.Run("approves confident non-high proposal", func(t *testing.T) {
		d := s.Decide([]domain.Proposal{
			scoredProposal("p1", domain.ImpactMedium, 0.82),
			scoredProposal("p2", domain.ImpactLow, 0.70),
		}, someEvidence)

		assert.Equal(t, "p1", d.SelectedProposalID)
		assert.Equal(t, domain.DecisionStatusApproved, d.Status)
	})

	t.Run("approval threshold is inclusive", func(t *testing.T) {
		d := s.Decide([]domain.Proposal{scoredProposal("p1", domain.ImpactLow, 0.8)}, someEvidence)
		assert.Equal(t, domain.DecisionStatusApproved, d.Status)
	})

	t.Run("below threshold stays pending", func(t *testing.T) {
		d := s.Decide([]domain.Proposal{scoredProposal("p1", domain.ImpactLow, 0.79)}, someEvidence)
		assert.Equal(t, domain.DecisionStatusPending, d.Status)
		assert.Contains(t, d.MetaAnalysis, "below the approval threshold")
	})

	t.Run("tie prefers lower impact and caps confidence", func(t *testing.T) {
		d := s.Decide([]domain.Proposal{
			scoredProposal("p1", domain.ImpactMedium, 0.9),
			scoredProposal("p2", domain.ImpactLow, 0.9),
		}, someEvidence)

		assert.Equal(t, "p2", d.SelectedProposalID)
		assert.InDelta(t, 0.79, d.Overall, 1e-9)
		assert.Equal(t, domain.DecisionStatusPending, d.Status)
		assert.Contains(t, d.MetaAnalysis, "Tie with p1")
	})

	t.Run("tie on impact prefers earlier id numerically", func(t *testing.T) {
		d := s.Decide([]domain.Proposal{
			scoredProposal("p10", domain.ImpactLow, 0.7),
			scoredProposal("p2", domain.ImpactLow, 0.7),
		}, someEvidence)

		assert.Equal(t, "p2", d.SelectedProposalID)
	})

	t.Run("dropped and unscored proposals are ignored", func(t *testing.T) {
		dropped := scoredProposal("p1", domain.ImpactLow, 0.99)
		dropped.Dropped = true
		unscored := scoredProposal("p2", domain.ImpactLow, 0)
		unscored.Scores = nil

		d := s.Decide([]domain.Proposal{dropped, unscored, scoredProposal("p3", domain.ImpactLow, 0.5)}, someEvidence)

		assert.Equal(t, "p3", d.SelectedProposalID)
		assert.Contains(t, d.MetaAnalysis, "1 proposal(s) dropped")
	})

	t.Run("no scored proposals is pending with no selection", func(t *testing.T) {
		d := s.Decide(nil, nil)

		assert.Empty(t, d.SelectedProposalID)
		assert.Equal(t, domain.DecisionStatusPending, d.Status)
		assert.Contains(t, d.MetaAnalysis, "All candidate proposals failed")
		assert.Contains(t, d.MetaAnalysis, "No evidence")
	})

	t.Run("never rejects", func(t *testing.T) {
		d := s.Decide([]domain.Proposal{scoredProposal("p1", domain.ImpactHigh, 0.01)}, someEvidence)
		assert.NotEqual(t, domain.DecisionStatusRejected, d.Status)
	})

	t.Run("meta analysis is deterministic", func(t *testing.T) {
		in := []domain.Proposal{
			scoredProposal("p1", domain.ImpactLow, 0.66),
			scoredProposal("p2", domain.ImpactMedium, 0.85),
		}
		assert.Equal(t, s.Decide(in, someEvidence).MetaAnalysis, s.Decide(in, someEvidence).MetaAnalysis)
	})
}

func TestSupervisorStage_CustomThreshold(t *testing.T) {
	s := NewSupervisorStage(GovernanceConfig{ApprovalThreshold: 0.9})

	d := s.Decide([]domain.Proposal{scoredProposal("p1", domain.ImpactLow, 0.85)}, someEvidence)

	assert.Equal(t, domain.DecisionStatusPending, d.Status)
}
