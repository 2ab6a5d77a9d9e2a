// Package memstore is the in-process evidence and decision store used when
// no database is configured. Vectors live in chromem-go collections, one per
// organization; chunks, the entity graph and decision records live in maps.
//
// Transactions are serialized and keep an undo journal, so a failed
// WithTx leaves no partial writes behind.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/cloo-solutions/mnemo/internal/domain"
	"github.com/cloo-solutions/mnemo/internal/service"
)

type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	db          *chromem.DB
	collections map[string]*chromem.Collection

	chunks      map[string]*domain.Chunk
	entities    map[string]*domain.Entity
	entityIndex map[string]string
	edges       []*domain.Edge
	decisions   map[string]*domain.DecisionRecord
}

func New() *Store {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		chunks:      make(map[string]*domain.Chunk),
		entities:    make(map[string]*domain.Entity),
		entityIndex: make(map[string]string),
		decisions:   make(map[string]*domain.DecisionRecord),
	}
}

func (s *Store) Chunks() *ChunkRepository {
	return &ChunkRepository{s: s}
}

func (s *Store) Graph() *GraphRepository {
	return &GraphRepository{s: s}
}

func (s *Store) Decisions() *DecisionRepository {
	return &DecisionRepository{s: s}
}

func (s *Store) Evidence() *EvidenceRepository {
	return &EvidenceRepository{s: s}
}

// WithTx runs fn with journaled repositories. Transactions never overlap,
// which makes GetByIDForUpdate a real lock.
func (s *Store) WithTx(ctx context.Context, fn func(repos service.TxRepositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	j := &journal{}
	if err := fn(&txRepos{s: s, j: j}); err != nil {
		j.rollback()
		return err
	}
	return nil
}

type txRepos struct {
	s *Store
	j *journal
}

func (r *txRepos) Chunks() service.ChunkRepositoryInterface {
	return &ChunkRepository{s: r.s, j: r.j}
}

func (r *txRepos) Graph() service.GraphRepositoryInterface {
	return &GraphRepository{s: r.s, j: r.j}
}

func (r *txRepos) Decisions() service.DecisionRepositoryInterface {
	return &DecisionRepository{s: r.s, j: r.j}
}

// journal collects undo steps; a nil journal records nothing.
type journal struct {
	undo []func()
}

func (j *journal) push(f func()) {
	if j != nil {
		j.undo = append(j.undo, f)
	}
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

func collectionName(orgID string) string {
	if orgID == "" {
		return "org:_"
	}
	return "org:" + orgID
}

func (s *Store) collection(orgID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[orgID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[orgID]; ok {
		return col, nil
	}
	col, err := s.db.CreateCollection(collectionName(orgID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[orgID] = col
	return col, nil
}

// searchCollections returns the collections a scope may read.
func (s *Store) searchCollections(orgID string) []*chromem.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if orgID != "" {
		if col, ok := s.collections[orgID]; ok {
			return []*chromem.Collection{col}
		}
		return nil
	}
	keys := make([]string, 0, len(s.collections))
	for k := range s.collections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*chromem.Collection, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.collections[k])
	}
	return out
}

func entityKey(scope domain.Scope, name string) string {
	return scope.OrgID + "/" + scope.OwnerID + "\x00" + strings.ToLower(strings.TrimSpace(name))
}

func cloneChunk(c *domain.Chunk) *domain.Chunk {
	cp := *c
	cp.Embedding = append([]float32(nil), c.Embedding...)
	if c.ValidUntil != nil {
		t := *c.ValidUntil
		cp.ValidUntil = &t
	}
	if c.SupersededAt != nil {
		t := *c.SupersededAt
		cp.SupersededAt = &t
	}
	if c.Fact != nil {
		f := *c.Fact
		cp.Fact = &f
	}
	return &cp
}
