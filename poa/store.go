package poa

import (
	"context"
	"sort"
	"sync"

	trusterrors "github.com/aegistrust/proxy/errors"
)

// DefaultQueryLimit / MaxQueryLimit bound ListByPrincipal results,
// matching request.Store's query-limit convention.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Store defines persistence for POA records. Implementations must be
// safe for concurrent use.
type Store interface {
	Create(ctx context.Context, p *POA) error
	Get(ctx context.Context, id string) (*POA, error)
	Update(ctx context.Context, p *POA) error
	ListByPrincipal(ctx context.Context, principal string, activeOnly bool, limit int) ([]*POA, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu   sync.Mutex
	poas map[string]*POA
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{poas: make(map[string]*POA)}
}

func clonePOA(p *POA) *POA {
	if p == nil {
		return nil
	}
	cp := *p
	if p.AllowedServices != nil {
		cp.AllowedServices = append([]string(nil), p.AllowedServices...)
	}
	return &cp
}

func (m *MemoryStore) Create(ctx context.Context, p *POA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.poas[p.ID]; exists {
		return trusterrors.ConflictState("poa id already exists")
	}
	m.poas[p.ID] = clonePOA(p)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*POA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.poas[id]
	if !ok {
		return nil, trusterrors.NotFound("poa not found", nil)
	}
	return clonePOA(p), nil
}

func (m *MemoryStore) Update(ctx context.Context, p *POA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.poas[p.ID]; !ok {
		return trusterrors.NotFound("poa not found", nil)
	}
	m.poas[p.ID] = clonePOA(p)
	return nil
}

func (m *MemoryStore) ListByPrincipal(ctx context.Context, principal string, activeOnly bool, limit int) ([]*POA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	var out []*POA
	for _, p := range m.poas {
		if p.Principal != principal {
			continue
		}
		if activeOnly && p.Status != StatusActive {
			continue
		}
		out = append(out, clonePOA(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
