package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/llm"
)

const (
	minProposals = 2
	maxProposals = 4
)

// SynthesisStage turns a query and ranked evidence into 2-4 proposals.
// It never filters for safety; Critique does that.
type SynthesisStage struct {
	caller *stageCaller
}

func NewSynthesisStage(synth llm.Synthesizer, stage StageConfig) *SynthesisStage {
	return &SynthesisStage{caller: newStageCaller(synth, stage)}
}

// Synthesize records one audit entry per model call. It returns
// ErrAllProposalsFailed when no usable proposal came back.
func (s *SynthesisStage) Synthesize(ctx context.Context, query string, evidence []domain.EvidenceItem, audit *auditRecorder) ([]domain.Proposal, error) {
	req := llm.Request{System: synthesisSystemPrompt, Prompt: buildSynthesisPrompt(query, evidence), Schema: proposalsSchema}

	payloads, err := s.request(ctx, req)
	if err != nil {
		audit.record(domain.AgentSynthesis, "synthesize_failed", "%v", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Wrap(domain.ErrAllProposalsFailed, err)
	}
	audit.record(domain.AgentSynthesis, "synthesize", "proposals=%d evidence=%d", len(payloads), len(evidence))

	if len(payloads) < minProposals {
		retry := req
		retry.Prompt += fmt.Sprintf("\n\nYou returned %d proposal(s). Return at least %d distinct proposals.", len(payloads), minProposals)
		more, err := s.request(ctx, retry)
		switch {
		case err != nil:
			audit.record(domain.AgentSynthesis, "rerequest_failed", "%v", err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		default:
			audit.record(domain.AgentSynthesis, "rerequest", "proposals=%d", len(more))
			if len(more) > len(payloads) {
				payloads = more
			}
		}
	}
	if len(payloads) > maxProposals {
		payloads = payloads[:maxProposals]
	}

	index := make(map[string]domain.EvidenceItem, len(evidence))
	for _, item := range evidence {
		index[item.SourceID] = item
	}

	proposals := make([]domain.Proposal, 0, len(payloads))
	for i, payload := range payloads {
		p := toProposal(fmt.Sprintf("p%d", i+1), payload, index)
		if strings.TrimSpace(p.Title) == "" {
			continue
		}

		if len(evidence) == 0 {
			p.Impact = domain.ImpactLow
		} else if p.Impact != domain.ImpactLow && len(p.SupportingEvidence) == 0 {
			p = s.revise(ctx, query, evidence, p, index, audit)
		}
		proposals = append(proposals, p)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(proposals) == 0 {
		return nil, domain.Wrap(domain.ErrAllProposalsFailed, fmt.Errorf("model returned no usable proposals"))
	}
	return proposals, nil
}

// revise re-requests an uncited non-low proposal once; if it still cites
// nothing its impact is forced down to low.
func (s *SynthesisStage) revise(ctx context.Context, query string, evidence []domain.EvidenceItem, p domain.Proposal, index map[string]domain.EvidenceItem, audit *auditRecorder) domain.Proposal {
	out, err := s.caller.call(ctx, llm.Request{
		System: synthesisSystemPrompt,
		Prompt: fmt.Sprintf("%s\n\nThis proposal has %s impact but cites no evidence:\n%s\n\nRevise it to cite evidence ids from the list, or lower its impact to low.",
			buildSynthesisPrompt(query, evidence), p.Impact, formatProposal(p)),
		Schema: revisedProposalSchema,
	})

	var payload revisedProposalPayload
	if err == nil {
		err = llm.DecodeJSON(out, &payload)
	}
	if err == nil {
		revised := toProposal(p.ID, payload.Proposal, index)
		if revised.Title != "" && (revised.Impact == domain.ImpactLow || len(revised.SupportingEvidence) > 0) {
			audit.record(domain.AgentSynthesis, "revise", "proposal=%s impact=%s cited=%d", p.ID, revised.Impact, len(revised.SupportingEvidence))
			return revised
		}
	}

	audit.record(domain.AgentSynthesis, "force_low_impact", "proposal=%s was %s with no evidence (revise: %v)", p.ID, p.Impact, err)
	p.Impact = domain.ImpactLow
	return p
}

func (s *SynthesisStage) request(ctx context.Context, req llm.Request) ([]proposalPayload, error) {
	out, err := s.caller.call(ctx, req)
	if err != nil {
		return nil, err
	}
	var payload proposalsPayload
	if err := llm.DecodeJSON(out, &payload); err != nil {
		return nil, fmt.Errorf("decode proposals: %w", err)
	}
	return payload.Proposals, nil
}

// toProposal keeps only evidence ids that were actually offered. Unknown
// impact strings are treated as high.
func toProposal(id string, payload proposalPayload, index map[string]domain.EvidenceItem) domain.Proposal {
	impact, err := domain.ParseImpact(strings.ToLower(strings.TrimSpace(payload.Impact)))
	if err != nil {
		impact = domain.ImpactHigh
	}

	seen := make(map[string]struct{})
	var cited []domain.EvidenceItem
	for _, eid := range payload.EvidenceIDs {
		item, ok := index[strings.TrimSpace(eid)]
		if !ok {
			continue
		}
		if _, dup := seen[item.SourceID]; dup {
			continue
		}
		seen[item.SourceID] = struct{}{}
		cited = append(cited, item)
	}

	return domain.Proposal{
		ID:                 id,
		Title:              strings.TrimSpace(payload.Title),
		Rationale:          strings.TrimSpace(payload.Rationale),
		Impact:             impact,
		SupportingEvidence: cited,
	}
}
