package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	approve := Verdict{Decision: VerdictApprove, Rationale: "looks right"}
	reject := Verdict{Decision: VerdictReject, Rationale: "wrong version"}
	override := Verdict{Decision: VerdictReject, Rationale: "regression", Override: true}

	tests := []struct {
		name        string
		current     DecisionStatus
		verdict     Verdict
		wantStatus  DecisionStatus
		wantChanged bool
		wantErr     error
	}{
		{"pending approve", DecisionStatusPending, approve, DecisionStatusApproved, true, nil},
		{"pending reject", DecisionStatusPending, reject, DecisionStatusRejected, true, nil},
		{"approved approve is a no-op", DecisionStatusApproved, approve, DecisionStatusApproved, false, nil},
		{"approved reject without override", DecisionStatusApproved, reject, DecisionStatusApproved, false, ErrGovernanceViolation},
		{"approved reject with override", DecisionStatusApproved, override, DecisionStatusRejected, true, nil},
		{"rejected approve", DecisionStatusRejected, approve, DecisionStatusRejected, false, ErrGovernanceViolation},
		{"rejected reject is a no-op", DecisionStatusRejected, reject, DecisionStatusRejected, false, nil},
		{"cancelled approve", DecisionStatusCancelled, approve, DecisionStatusCancelled, false, ErrGovernanceViolation},
		{"cancelled reject", DecisionStatusCancelled, override, DecisionStatusCancelled, false, ErrGovernanceViolation},
		{"unknown verdict", DecisionStatusPending, Verdict{Decision: "maybe"}, DecisionStatusPending, false, ErrInvalidVerdict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, changed, err := NextStatus(tt.current, tt.verdict)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStatus, next)
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}

func TestDecisionRecordSelectedProposal(t *testing.T) {
	rec := &DecisionRecord{
		Proposals:          []Proposal{{ID: "p1"}, {ID: "p2", Title: "Upgrade"}},
		SelectedProposalID: "p2",
	}
	selected := rec.SelectedProposal()
	require.NotNil(t, selected)
	assert.Equal(t, "Upgrade", selected.Title)

	rec.SelectedProposalID = ""
	assert.Nil(t, rec.SelectedProposal())
}

func TestDecisionRecordClone(t *testing.T) {
	rec := &DecisionRecord{
		ID:         "d1",
		AuditTrail: []AuditEntry{{Agent: AgentSupervisor}},
		Verdict:    &Verdict{Decision: VerdictApprove},
	}
	c := rec.Clone()
	c.AuditTrail = append(c.AuditTrail, AuditEntry{Agent: AgentFeedback})
	c.Verdict.Decision = VerdictReject

	assert.Len(t, rec.AuditTrail, 1)
	assert.Equal(t, VerdictApprove, rec.Verdict.Decision)
}

func TestIsValidDecisionStatus(t *testing.T) {
	assert.True(t, IsValidDecisionStatus(DecisionStatusCancelled))
	assert.False(t, IsValidDecisionStatus("archived"))
}
