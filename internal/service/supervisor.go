package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

const (
	defaultApprovalThreshold = 0.8
	scoreEpsilon             = 1e-9
)

// GovernanceConfig sets the auto-approval gate.
type GovernanceConfig struct {
	ApprovalThreshold float64
}

func DefaultGovernanceConfig() GovernanceConfig {
	return GovernanceConfig{ApprovalThreshold: defaultApprovalThreshold}
}

// SupervisorStage picks a winner and applies the governance gate. It never
// assigns rejected; only a human verdict can.
type SupervisorStage struct {
	cfg GovernanceConfig
}

func NewSupervisorStage(cfg GovernanceConfig) *SupervisorStage {
	if cfg.ApprovalThreshold <= 0 {
		cfg.ApprovalThreshold = defaultApprovalThreshold
	}
	return &SupervisorStage{cfg: cfg}
}

// SupervisorDecision is the outcome of one supervision.
type SupervisorDecision struct {
	SelectedProposalID string
	Status             domain.DecisionStatus
	Overall            float64
	MetaAnalysis       string
}

type rankedProposal struct {
	p       *domain.Proposal
	overall float64
}

// Decide orders scored proposals by overall desc, then lower impact, then
// earlier id. A tie on overall caps effective confidence below the gate.
func (s *SupervisorStage) Decide(proposals []domain.Proposal, evidence []domain.EvidenceItem) SupervisorDecision {
	var ranked []rankedProposal
	dropped := 0
	for i := range proposals {
		p := &proposals[i]
		if p.Dropped {
			dropped++
			continue
		}
		if overall, ok := p.Overall(); ok {
			ranked = append(ranked, rankedProposal{p: p, overall: overall})
		}
	}

	var notes []string
	if len(evidence) == 0 {
		notes = append(notes, "No evidence cleared the relevance threshold; every proposal was limited to low impact.")
	}
	if dropped > 0 {
		notes = append(notes, fmt.Sprintf("%d proposal(s) dropped after stage failures.", dropped))
	}

	if len(ranked) == 0 {
		notes = append([]string{"All candidate proposals failed; human review required."}, notes...)
		return SupervisorDecision{Status: domain.DecisionStatusPending, MetaAnalysis: strings.Join(notes, " ")}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if math.Abs(a.overall-b.overall) > scoreEpsilon {
			return a.overall > b.overall
		}
		if a.p.Impact.Rank() != b.p.Impact.Rank() {
			return a.p.Impact.Rank() < b.p.Impact.Rank()
		}
		return proposalOrder(a.p.ID) < proposalOrder(b.p.ID)
	})

	winner := ranked[0]
	effective := winner.overall
	if len(ranked) > 1 && math.Abs(ranked[1].overall-winner.overall) <= scoreEpsilon {
		if effective > ambiguousCap {
			effective = ambiguousCap
		}
		notes = append(notes, fmt.Sprintf("Tie with %s at %.2f; confidence capped at %.2f.", ranked[1].p.ID, winner.overall, effective))
	}

	status := domain.DecisionStatusPending
	switch {
	case winner.p.Impact == domain.ImpactHigh:
		notes = append(notes, "High impact always requires human review.")
	case effective >= s.cfg.ApprovalThreshold:
		status = domain.DecisionStatusApproved
	default:
		notes = append(notes, fmt.Sprintf("Confidence %.2f is below the approval threshold %.2f.", effective, s.cfg.ApprovalThreshold))
	}

	for _, item := range winner.p.SupportingEvidence {
		if item.Conflicting {
			notes = append(notes, "Selected proposal relies on conflicting evidence.")
			break
		}
	}

	summary := fmt.Sprintf("Selected %s %q (overall %.2f, %s impact) from %d scored proposal(s); status %s.",
		winner.p.ID, winner.p.Title, effective, winner.p.Impact, len(ranked), status)
	return SupervisorDecision{
		SelectedProposalID: winner.p.ID,
		Status:             status,
		Overall:            effective,
		MetaAnalysis:       strings.TrimSpace(summary + " " + strings.Join(notes, " ")),
	}
}

// proposalOrder sorts "p2" before "p10"; other ids sort after, lexically.
func proposalOrder(id string) string {
	var n int
	if _, err := fmt.Sscanf(id, "p%d", &n); err == nil {
		return fmt.Sprintf("%08d", n)
	}
	return "~" + id
}
