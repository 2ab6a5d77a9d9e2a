package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/telemetry"
)

const feedbackMarker = "[DECISION FEEDBACK]"

// SubmitVerdict applies a human verdict to a decision record. The status
// change, the feedback chunk and the audit entry commit together; concurrent
// verdicts on one record are linearized by a row lock, so the loser sees the
// winner's status and may fail with ErrGovernanceViolation. Repeating the
// verdict a record already carries is a no-op.
func (s *DecisionService) SubmitVerdict(ctx context.Context, decisionID string, verdict domain.Verdict) (*domain.DecisionRecord, error) {
	if err := domain.ValidateVerdict(verdict); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "DecisionService.SubmitVerdict", telemetry.SpanAttributes{
		DecisionID: decisionID,
		Stage:      "feedback",
	})
	defer span.End()

	current, err := s.decisions.GetByID(ctx, decisionID)
	if err != nil {
		return nil, err
	}

	// settle no-ops and violations on the unlocked read; only a real
	// transition pays for the feedback embedding and is rechecked under lock
	if _, ok, err := domain.NextStatus(current.Status, verdict); err != nil {
		return nil, err
	} else if !ok {
		return current, nil
	}

	feedback, err := s.ingestion.Prepare(ctx, feedbackContent(current, verdict), domain.FactMetadata{
		Provenance: "decision:" + current.ID,
		SourceType: domain.SourceTypeGovernanceFeedback,
		Scope:      current.Scope,
	})
	if err != nil {
		return nil, fmt.Errorf("prepare feedback: %w", err)
	}

	var updated *domain.DecisionRecord
	changed := false
	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		rec, err := repos.Decisions().GetByIDForUpdate(ctx, decisionID)
		if err != nil {
			return err
		}

		next, ok, err := domain.NextStatus(rec.Status, verdict)
		if err != nil {
			return err
		}
		if !ok {
			updated = rec
			return nil
		}

		if err := s.ingestion.Store(ctx, repos, feedback, nil); err != nil {
			return fmt.Errorf("store feedback: %w", err)
		}

		ts := nextAfter(rec.AuditTrail, s.now())
		entry := domain.AuditEntry{
			Timestamp: ts,
			Agent:     domain.AgentFeedback,
			Action:    string(verdict.Decision),
			Details: fmt.Sprintf("%s -> %s by %s override=%t memory=%s",
				rec.Status, next, reviewerName(verdict), verdict.Override, feedback.ID),
		}

		v := verdict
		if err := repos.Decisions().UpdateStatus(ctx, rec.ID, next, &v, ts); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if err := repos.Decisions().AppendAudit(ctx, rec.ID, []domain.AuditEntry{entry}); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}

		rec.Status = next
		rec.Verdict = &v
		rec.UpdatedAt = ts
		rec.AuditTrail = append(rec.AuditTrail, entry)
		updated = rec
		changed = true
		return nil
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	if changed {
		s.archive(ctx, updated)
		s.logger.Info("verdict applied", "decision_id", decisionID, "status", updated.Status, "reviewer", reviewerName(verdict))
	}
	return updated, nil
}

// feedbackContent renders the outcome as a memory document that later
// retrievals can cite.
func feedbackContent(rec *domain.DecisionRecord, v domain.Verdict) string {
	var b strings.Builder
	b.WriteString(feedbackMarker)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Query: %s\n", rec.Query)
	if p := rec.SelectedProposal(); p != nil {
		fmt.Fprintf(&b, "Proposal: %s (%s impact)\n", p.Title, p.Impact)
		if p.Rationale != "" {
			fmt.Fprintf(&b, "Rationale: %s\n", p.Rationale)
		}
	} else {
		b.WriteString("Proposal: none selected\n")
	}
	fmt.Fprintf(&b, "Verdict: %s by %s\n", v.Decision, reviewerName(v))
	if r := strings.TrimSpace(v.Rationale); r != "" {
		fmt.Fprintf(&b, "Reviewer rationale: %s\n", r)
	}
	return strings.TrimSpace(b.String())
}

func reviewerName(v domain.Verdict) string {
	if v.Reviewer == "" {
		return "anonymous"
	}
	return v.Reviewer
}
