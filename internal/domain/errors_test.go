package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorMatchesSentinelAfterWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("rank: %w", Wrap(ErrRetrievalUnavailable, cause))

	assert.True(t, errors.Is(err, ErrRetrievalUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrStageTimeout))
	assert.Contains(t, err.Error(), ErrCodeRetrievalUnavailable)
}

func TestParseImpact(t *testing.T) {
	impact, err := ParseImpact("medium")
	assert.NoError(t, err)
	assert.Equal(t, ImpactMedium, impact)
	assert.Less(t, ImpactLow.Rank(), ImpactHigh.Rank())

	_, err = ParseImpact("severe")
	assert.True(t, errors.Is(err, ErrInvalidImpact))
}

func TestValidateProposal(t *testing.T) {
	p := &Proposal{ID: "p1", Title: "Upgrade", Impact: ImpactHigh}
	assert.Error(t, ValidateProposal(p))

	p.SupportingEvidence = []EvidenceItem{{SourceID: "c1"}}
	assert.NoError(t, ValidateProposal(p))

	p.Scores = []Score{{ProposalID: "p1", Dimension: DimensionOverall, Confidence: 0.7}}
	overall, ok := p.Overall()
	assert.True(t, ok)
	assert.Equal(t, 0.7, overall)
}
