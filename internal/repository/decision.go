package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

const decisionColumns = `id, conversation_id, org_id, owner_id, query, standalone_query, evidence, proposals,
	selected_proposal_id, status, meta_analysis, verdict, created_at, updated_at`

// DecisionRepository persists decision records. Evidence, proposals and the
// verdict are stored as jsonb; audit entries live in their own table.
type DecisionRepository struct {
	db dbtx
}

func NewDecisionRepository(pool *pgxpool.Pool) *DecisionRepository {
	return &DecisionRepository{db: pool}
}

func NewDecisionRepositoryWithTx(tx pgx.Tx) *DecisionRepository {
	return &DecisionRepository{db: tx}
}

func (r *DecisionRepository) Create(ctx context.Context, rec *domain.DecisionRecord) error {
	if !domain.IsValidDecisionStatus(rec.Status) {
		return domain.ErrInvalidDecisionStatus
	}
	evidence, err := json.Marshal(nonNil(rec.Evidence))
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	proposals, err := json.Marshal(nonNil(rec.Proposals))
	if err != nil {
		return fmt.Errorf("encode proposals: %w", err)
	}
	verdict, err := encodeVerdict(rec.Verdict)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO decisions (`+decisionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.ConversationID, rec.Scope.OrgID, rec.Scope.OwnerID, rec.Query, rec.StandaloneQuery, evidence, proposals,
		rec.SelectedProposalID, rec.Status, rec.MetaAnalysis, verdict, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDecisionAlreadyExists
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	if err := insertAudit(ctx, tx, rec.ID, rec.AuditTrail); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *DecisionRepository) GetByID(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	return r.get(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id)
}

// GetByIDForUpdate locks the row until the surrounding transaction ends.
func (r *DecisionRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	return r.get(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id = $1 FOR UPDATE`, id)
}

func (r *DecisionRepository) get(ctx context.Context, query, id string) (*domain.DecisionRecord, error) {
	var rec domain.DecisionRecord
	var evidence, proposals, verdict []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.ConversationID, &rec.Scope.OrgID, &rec.Scope.OwnerID, &rec.Query, &rec.StandaloneQuery, &evidence, &proposals,
		&rec.SelectedProposalID, &rec.Status, &rec.MetaAnalysis, &verdict, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDecisionNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(evidence, &rec.Evidence); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	if err := json.Unmarshal(proposals, &rec.Proposals); err != nil {
		return nil, fmt.Errorf("decode proposals: %w", err)
	}
	if len(verdict) > 0 {
		var v domain.Verdict
		if err := json.Unmarshal(verdict, &v); err != nil {
			return nil, fmt.Errorf("decode verdict: %w", err)
		}
		rec.Verdict = &v
	}

	rows, err := r.db.Query(ctx,
		`SELECT ts, agent, action, details FROM decision_audit_entries WHERE decision_id = $1 ORDER BY ts, id`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.Timestamp, &e.Agent, &e.Action, &e.Details); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		rec.AuditTrail = append(rec.AuditTrail, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (r *DecisionRepository) UpdateStatus(ctx context.Context, id string, status domain.DecisionStatus, verdict *domain.Verdict, updatedAt time.Time) error {
	if !domain.IsValidDecisionStatus(status) {
		return domain.ErrInvalidDecisionStatus
	}
	encoded, err := encodeVerdict(verdict)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE decisions SET status = $2, verdict = COALESCE($3, verdict), updated_at = $4 WHERE id = $1`,
		id, status, encoded, updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDecisionNotFound
	}
	return nil
}

func (r *DecisionRepository) AppendAudit(ctx context.Context, id string, entries []domain.AuditEntry) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM decisions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrDecisionNotFound
	}
	return insertAudit(ctx, r.db, id, entries)
}

func insertAudit(ctx context.Context, db dbtx, decisionID string, entries []domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO decision_audit_entries (decision_id, ts, agent, action, details) VALUES ($1, $2, $3, $4, $5)`,
			decisionID, e.Timestamp.UTC(), e.Agent, e.Action, e.Details,
		)
	}
	br := db.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert audit entry: %w", err)
		}
	}
	return br.Close()
}

func encodeVerdict(v *domain.Verdict) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode verdict: %w", err)
	}
	return b, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
