package breakglass

import (
	"context"
	"sync"

	trusterrors "github.com/aegistrust/proxy/errors"
)

// Store persists break-glass events. Adapted from the teacher's
// breakglass.Store interface shape (Get/Put/List), re-keyed to event ID
// rather than break-glass ID string but otherwise structurally identical.
type Store interface {
	Put(ctx context.Context, event *Event) error
	Get(ctx context.Context, eventID string) (*Event, error)
	// CompareAndSwap persists next only if the stored event's Status still
	// equals expectedStatus, providing the single point of mutual exclusion
	// a concurrent Verify/Deny race must go through. Returns ConflictState
	// if the stored status has already moved on.
	CompareAndSwap(ctx context.Context, eventID string, expectedStatus Status, next *Event) error
	ListByPOA(ctx context.Context, poaID string) ([]*Event, error)
}

// MemoryStore is an in-memory Store, safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*Event
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*Event)}
}

func cloneEvent(e *Event) *Event {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}

func (m *MemoryStore) Put(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = cloneEvent(event)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, eventID string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return nil, trusterrors.NotFound("break-glass event not found", nil)
	}
	return cloneEvent(e), nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, eventID string, expectedStatus Status, next *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.events[eventID]
	if !ok {
		return trusterrors.NotFound("break-glass event not found", nil)
	}
	if current.Status != expectedStatus {
		return trusterrors.ConflictState("break-glass event status changed concurrently")
	}
	m.events[eventID] = cloneEvent(next)
	return nil
}

func (m *MemoryStore) ListByPOA(ctx context.Context, poaID string) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.events {
		if e.POAID == poaID {
			out = append(out, cloneEvent(e))
		}
	}
	return out, nil
}
