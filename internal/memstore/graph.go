package memstore

import (
	"context"
	"errors"
	"strings"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

var errEntityName = errors.New("entity name")

// GraphRepository stores entities and fact edges.
type GraphRepository struct {
	s *Store
	j *journal
}

func (r *GraphRepository) UpsertEntity(ctx context.Context, e *domain.Entity) (*domain.Entity, error) {
	if strings.TrimSpace(e.Name) == "" {
		return nil, domain.Wrap(domain.ErrMissingRequiredField, errEntityName)
	}
	key := entityKey(e.Scope, e.Name)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if id, ok := r.s.entityIndex[key]; ok {
		cp := *r.s.entities[id]
		return &cp, nil
	}

	stored := *e
	stored.Name = strings.TrimSpace(e.Name)
	r.s.entities[stored.ID] = &stored
	r.s.entityIndex[key] = stored.ID

	id := stored.ID
	r.j.push(func() {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		delete(r.s.entities, id)
		delete(r.s.entityIndex, key)
	})

	cp := stored
	return &cp, nil
}

func (r *GraphRepository) CreateEdge(ctx context.Context, e *domain.Edge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *e
	r.s.edges = append(r.s.edges, &cp)

	id := e.ID
	r.j.push(func() {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		for i := len(r.s.edges) - 1; i >= 0; i-- {
			if r.s.edges[i].ID == id {
				r.s.edges = append(r.s.edges[:i], r.s.edges[i+1:]...)
				return
			}
		}
	})
	return nil
}
