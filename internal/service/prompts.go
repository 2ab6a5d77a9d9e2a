package service

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/llm"
)

var (
	proposalsSchema = llm.MustSchemaFor("decision_proposals",
		"Two to four actionable proposals grounded in the supplied evidence.", proposalsPayload{})
	revisedProposalSchema = llm.MustSchemaFor("revised_proposal",
		"One proposal revised to cite evidence.", revisedProposalPayload{})
	critiqueSchema = llm.MustSchemaFor("proposal_critique",
		"Problems found in a proposal. Empty issues means none.", critiquePayload{})
	scoreSchema = llm.MustSchemaFor("proposal_confidence",
		"How well the cited evidence supports the proposal.", scorePayload{})
)

const synthesisSystemPrompt = `You synthesize 2 to 4 distinct, actionable decision proposals from organizational memory.
Cite evidence only by the ids shown in the evidence list; never invent ids.
Estimate impact (low, medium, high) from the stakes implied by the evidence.
A proposal with medium or high impact must cite at least one evidence id.`

const critiqueSystemPrompt = `You review one decision proposal against the evidence it cites.
List every claim the evidence does not support, any reliance on stale evidence, and any unresolved conflict between cited facts.
Return an empty issues list when the proposal is fully supported. Do not rewrite the proposal.`

const scoringSystemPrompt = `You calibrate confidence for one decision proposal.
Return a number in [0,1] for how completely the cited evidence supports it. Be pessimistic: ambiguous or thin evidence must score low.`

type proposalPayload struct {
	Title       string   `json:"title"`
	Rationale   string   `json:"rationale"`
	Impact      string   `json:"impact" enum:"low,medium,high"`
	EvidenceIDs []string `json:"evidence_ids"`
}

type proposalsPayload struct {
	Proposals []proposalPayload `json:"proposals"`
}

type revisedProposalPayload struct {
	Proposal proposalPayload `json:"proposal"`
}

type critiquePayload struct {
	Issues             []string `json:"issues"`
	ReferencesConflict bool     `json:"references_conflict"`
}

type scorePayload struct {
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func formatEvidence(items []domain.EvidenceItem) string {
	if len(items) == 0 {
		return "(no evidence cleared the relevance threshold)"
	}
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "[%s] (score %.2f", item.SourceID, item.FinalScore)
		if item.Conflicting {
			b.WriteString(", CONFLICTING")
		}
		if item.DecayFactor < 1 {
			fmt.Fprintf(&b, ", decay %.2f", item.DecayFactor)
		}
		fmt.Fprintf(&b, ") %s\n", item.ContentSnippet)
	}
	return b.String()
}

func buildSynthesisPrompt(query string, evidence []domain.EvidenceItem) string {
	return fmt.Sprintf("Evidence:\n%s\nQuery:\n%s\n\nSynthesize the proposals now.", formatEvidence(evidence), query)
}

func formatProposal(p domain.Proposal) string {
	return fmt.Sprintf("Proposal %s (%s impact): %s\nRationale: %s\nCited evidence:\n%s",
		p.ID, p.Impact, p.Title, p.Rationale, formatEvidence(p.SupportingEvidence))
}
