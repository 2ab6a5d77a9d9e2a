package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

const decisionPrefix = "decisions/"

// ObjectStore is the subset of S3Client the archiver needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key, contentType string, body []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
}

// DecisionArchiver writes every finished decision record, audit trail
// included, as one JSON object per decision id. Later writes for the same
// id replace the earlier snapshot.
type DecisionArchiver struct {
	store ObjectStore
}

func NewDecisionArchiver(store ObjectStore) *DecisionArchiver {
	return &DecisionArchiver{store: store}
}

func DecisionKey(id string) string {
	return decisionPrefix + id + ".json"
}

func (a *DecisionArchiver) Archive(ctx context.Context, rec *domain.DecisionRecord) error {
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", rec.ID, err)
	}
	return a.store.PutObject(ctx, DecisionKey(rec.ID), "application/json", body)
}

// Fetch returns the archived snapshot of a decision. A missing snapshot
// surfaces as domain.ErrDecisionNotFound.
func (a *DecisionArchiver) Fetch(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	body, err := a.store.GetObject(ctx, DecisionKey(id))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, domain.ErrDecisionNotFound
		}
		return nil, err
	}
	var rec domain.DecisionRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode decision %s: %w", id, err)
	}
	return &rec, nil
}

func (a *DecisionArchiver) DownloadURL(ctx context.Context, id string) (string, error) {
	return a.store.GenerateDownloadURL(ctx, DecisionKey(id))
}
