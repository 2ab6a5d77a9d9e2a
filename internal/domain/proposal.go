package domain

import "fmt"

// Impact is the blast radius a proposal declares for itself
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Rank orders impacts from safest to riskiest.
func (i Impact) Rank() int {
	switch i {
	case ImpactLow:
		return 0
	case ImpactMedium:
		return 1
	default:
		return 2
	}
}

// ParseImpact accepts the lower-case impact names.
func ParseImpact(s string) (Impact, error) {
	impact := Impact(s)
	if !isValidImpact(impact) {
		return "", NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidImpact.Message, fmt.Errorf("%q", s))
	}
	return impact, nil
}

// ScoreDimension names one calibrated axis of a proposal's score
type ScoreDimension string

const (
	DimensionOverall         ScoreDimension = "overall"
	DimensionEvidenceDensity ScoreDimension = "evidence_density"
	DimensionRecency         ScoreDimension = "recency"
	DimensionCritiquePenalty ScoreDimension = "critique_penalty"
	DimensionModelConfidence ScoreDimension = "model_confidence"
)

// Score is one per-dimension confidence in [0,1].
type Score struct {
	ProposalID string         `json:"proposal_id"`
	Dimension  ScoreDimension `json:"dimension"`
	Confidence float64        `json:"confidence"`
}

// Proposal is one candidate answer produced by synthesis.
type Proposal struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Rationale          string         `json:"rationale"`
	SupportingEvidence []EvidenceItem `json:"supporting_evidence"`
	Impact             Impact         `json:"impact"`
	Critique           *string        `json:"critique,omitempty"`
	CritiqueConflict   bool           `json:"critique_conflict"`
	ModelConfidence    float64        `json:"model_confidence"`
	Scores             []Score        `json:"scores,omitempty"`
	Dropped            bool           `json:"dropped"`
	DropReason         string         `json:"drop_reason,omitempty"`
}

// Overall returns the mandatory overall score, or false when scoring never ran.
func (p *Proposal) Overall() (float64, bool) {
	for _, s := range p.Scores {
		if s.Dimension == DimensionOverall {
			return s.Confidence, true
		}
	}
	return 0, false
}

// ValidateProposal validates a Proposal instance
func ValidateProposal(p *Proposal) error {
	if p == nil {
		return fmt.Errorf("proposal cannot be nil")
	}

	if p.ID == "" {
		return fmt.Errorf("proposal ID is required")
	}

	if p.Title == "" {
		return fmt.Errorf("proposal Title is required")
	}

	if !isValidImpact(p.Impact) {
		return fmt.Errorf("proposal Impact is invalid: %s", p.Impact)
	}

	if p.Impact != ImpactLow && len(p.SupportingEvidence) == 0 {
		return fmt.Errorf("proposal %s with %s impact cites no evidence", p.ID, p.Impact)
	}

	return nil
}

func isValidImpact(i Impact) bool {
	switch i {
	case ImpactLow, ImpactMedium, ImpactHigh:
		return true
	default:
		return false
	}
}
