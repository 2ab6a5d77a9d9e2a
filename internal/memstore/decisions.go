package memstore

import (
	"context"
	"time"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

// DecisionRepository stores decision records as deep copies.
type DecisionRepository struct {
	s *Store
	j *journal
}

func (r *DecisionRepository) Create(ctx context.Context, rec *domain.DecisionRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.decisions[rec.ID]; ok {
		return domain.ErrDecisionAlreadyExists
	}
	r.s.decisions[rec.ID] = rec.Clone()

	id := rec.ID
	r.j.push(func() {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		delete(r.s.decisions, id)
	})
	return nil
}

func (r *DecisionRepository) GetByID(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.decisions[id]
	if !ok {
		return nil, domain.ErrDecisionNotFound
	}
	return rec.Clone(), nil
}

// GetByIDForUpdate relies on WithTx holding the store's transaction lock.
func (r *DecisionRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	return r.GetByID(ctx, id)
}

func (r *DecisionRepository) UpdateStatus(ctx context.Context, id string, status domain.DecisionStatus, verdict *domain.Verdict, updatedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.decisions[id]
	if !ok {
		return domain.ErrDecisionNotFound
	}
	prev := rec.Clone()

	rec.Status = status
	if verdict != nil {
		v := *verdict
		rec.Verdict = &v
	}
	rec.UpdatedAt = updatedAt

	r.j.push(func() {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		if cur, ok := r.s.decisions[id]; ok {
			cur.Status = prev.Status
			cur.Verdict = prev.Verdict
			cur.UpdatedAt = prev.UpdatedAt
		}
	})
	return nil
}

func (r *DecisionRepository) AppendAudit(ctx context.Context, id string, entries []domain.AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.decisions[id]
	if !ok {
		return domain.ErrDecisionNotFound
	}
	n := len(rec.AuditTrail)
	rec.AuditTrail = append(rec.AuditTrail, entries...)

	r.j.push(func() {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		if cur, ok := r.s.decisions[id]; ok && len(cur.AuditTrail) >= n {
			cur.AuditTrail = cur.AuditTrail[:n]
		}
	})
	return nil
}
