package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/llm"
)

// defaultStaleDecayFloor sits above the default ranker threshold: an item
// that cleared a 0.75 threshold has a decay of at least 0.75.
const defaultStaleDecayFloor = 0.9

// CritiqueStage reviews one proposal against its cited evidence. It holds no
// mutable state, so calls for different proposals may run concurrently.
type CritiqueStage struct {
	caller     *stageCaller
	staleFloor float64
}

func NewCritiqueStage(synth llm.Synthesizer, stage StageConfig, staleFloor float64) *CritiqueStage {
	if staleFloor <= 0 {
		staleFloor = defaultStaleDecayFloor
	}
	return &CritiqueStage{caller: newStageCaller(synth, stage), staleFloor: staleFloor}
}

// CritiqueResult is nil-critique when no issue was found.
type CritiqueResult struct {
	Critique *string
	Conflict bool
}

// Critique combines mechanical checks on the cited evidence with a model
// review. A model failure is returned so the caller can drop the proposal.
func (c *CritiqueStage) Critique(ctx context.Context, query string, p domain.Proposal) (CritiqueResult, error) {
	issues, conflict := c.evidenceIssues(p)

	out, err := c.caller.call(ctx, llm.Request{
		System: critiqueSystemPrompt,
		Prompt: fmt.Sprintf("Query:\n%s\n\n%s", query, formatProposal(p)),
		Schema: critiqueSchema,
	})
	if err != nil {
		return CritiqueResult{}, err
	}
	var payload critiquePayload
	if err := llm.DecodeJSON(out, &payload); err != nil {
		return CritiqueResult{}, fmt.Errorf("decode critique: %w", err)
	}

	for _, issue := range payload.Issues {
		if issue = strings.TrimSpace(issue); issue != "" {
			issues = append(issues, issue)
		}
	}
	if payload.ReferencesConflict {
		conflict = true
	}

	if len(issues) == 0 {
		return CritiqueResult{Conflict: conflict}, nil
	}
	text := strings.Join(issues, "; ")
	return CritiqueResult{Critique: &text, Conflict: conflict}, nil
}

func (c *CritiqueStage) evidenceIssues(p domain.Proposal) ([]string, bool) {
	var issues []string
	conflict := false

	if len(p.SupportingEvidence) == 0 {
		issues = append(issues, "no supporting evidence cited")
	}
	for _, item := range p.SupportingEvidence {
		if item.Conflicting {
			conflict = true
			if item.Fact != nil {
				issues = append(issues, fmt.Sprintf("unresolved conflict: %s claims %s %s = %q",
					item.SourceID, item.Fact.Subject, item.Fact.Predicate, item.Fact.Value))
			} else {
				issues = append(issues, fmt.Sprintf("unresolved conflict in %s", item.SourceID))
			}
		}
		if item.DecayFactor < c.staleFloor {
			issues = append(issues, fmt.Sprintf("stale evidence: %s (decay %.2f)", item.SourceID, item.DecayFactor))
		}
	}
	return issues, conflict
}
