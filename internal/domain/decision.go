package domain

import (
	"fmt"
	"time"
)

// DecisionStatus represents the governance state of a decision record
type DecisionStatus string

const (
	DecisionStatusPending   DecisionStatus = "pending"
	DecisionStatusApproved  DecisionStatus = "approved"
	DecisionStatusRejected  DecisionStatus = "rejected"
	DecisionStatusCancelled DecisionStatus = "cancelled"
)

// VerdictDecision is the human reviewer's call
type VerdictDecision string

const (
	VerdictApprove VerdictDecision = "approve"
	VerdictReject  VerdictDecision = "reject"
)

// Verdict is a human review of a decision record. Override must be set to
// reject a record the supervisor already approved.
type Verdict struct {
	Decision  VerdictDecision `json:"decision"`
	Rationale string          `json:"rationale"`
	Reviewer  string          `json:"reviewer,omitempty"`
	Override  bool            `json:"override"`
}

// AuditEntry is one append-only line of a decision's audit trail.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// Audit agents, one per pipeline stage
const (
	AgentQueryTransformer = "query_transformer"
	AgentRanker           = "ranker"
	AgentSynthesis        = "synthesis"
	AgentCritique         = "critique"
	AgentScoring          = "scoring"
	AgentSupervisor       = "supervisor"
	AgentFeedback         = "feedback_loop"
	AgentPipeline         = "pipeline"
)

// DecisionRecord is the outcome of one pipeline run.
type DecisionRecord struct {
	ID                 string         `json:"id"`
	ConversationID     string         `json:"conversation_id,omitempty"`
	Scope              Scope          `json:"scope"`
	Query              string         `json:"query"`
	StandaloneQuery    string         `json:"standalone_query"`
	Evidence           []EvidenceItem `json:"evidence"`
	Proposals          []Proposal     `json:"proposals"`
	SelectedProposalID string         `json:"selected_proposal_id,omitempty"`
	Status             DecisionStatus `json:"status"`
	MetaAnalysis       string         `json:"meta_analysis"`
	AuditTrail         []AuditEntry   `json:"audit_trail"`
	Verdict            *Verdict       `json:"verdict,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// SelectedProposal returns the winning proposal, if any.
func (d *DecisionRecord) SelectedProposal() *Proposal {
	for i := range d.Proposals {
		if d.Proposals[i].ID == d.SelectedProposalID {
			return &d.Proposals[i]
		}
	}
	return nil
}

// Clone returns a copy whose slices can be mutated independently.
func (d *DecisionRecord) Clone() *DecisionRecord {
	c := *d
	c.Evidence = append([]EvidenceItem(nil), d.Evidence...)
	c.Proposals = append([]Proposal(nil), d.Proposals...)
	c.AuditTrail = append([]AuditEntry(nil), d.AuditTrail...)
	if d.Verdict != nil {
		v := *d.Verdict
		c.Verdict = &v
	}
	return &c
}

// ValidateVerdict rejects malformed verdict requests
func ValidateVerdict(v Verdict) error {
	if v.Decision != VerdictApprove && v.Decision != VerdictReject {
		return NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidVerdict.Message,
			fmt.Errorf("unknown decision %q", v.Decision))
	}
	return nil
}

// NextStatus applies a verdict to the current status. changed is false for
// an idempotent repeat (same verdict on a record already in that state).
//
//	pending  --approve--> approved
//	pending  --reject-->  rejected
//	approved --reject(override)--> rejected
//
// Cancelled is absorbing. Any other transition is a GovernanceViolation.
func NextStatus(current DecisionStatus, v Verdict) (next DecisionStatus, changed bool, err error) {
	if err := ValidateVerdict(v); err != nil {
		return current, false, err
	}

	target := DecisionStatusApproved
	if v.Decision == VerdictReject {
		target = DecisionStatusRejected
	}

	switch current {
	case DecisionStatusPending:
		return target, true, nil
	case DecisionStatusApproved:
		if target == DecisionStatusApproved {
			return current, false, nil
		}
		if v.Override {
			return target, true, nil
		}
	case DecisionStatusRejected:
		if target == DecisionStatusRejected {
			return current, false, nil
		}
	}

	return current, false, NewDomainErrorWithCause(ErrCodeGovernanceViolation, ErrGovernanceViolation.Message,
		fmt.Errorf("cannot %s a %s decision", v.Decision, current))
}

// IsValidDecisionStatus reports whether s is a known status
func IsValidDecisionStatus(s DecisionStatus) bool {
	switch s {
	case DecisionStatusPending, DecisionStatusApproved, DecisionStatusRejected, DecisionStatusCancelled:
		return true
	default:
		return false
	}
}
