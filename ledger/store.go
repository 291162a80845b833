package ledger

import (
	"context"
	"sort"
	"sync"

	trusterrors "github.com/aegistrust/proxy/errors"
)

// Store persists AuditEntry records. NextSequence hands out the monotonic
// per-POA ID that Append embeds in the entry before signing — the
// Ledger's per-POA mutex guarantees no two callers observe the same
// sequence number for one POA.
type Store interface {
	AppendEntry(ctx context.Context, entry *AuditEntry) error
	GetEntry(ctx context.Context, id int64, poaID string) (*AuditEntry, error)
	ListEntries(ctx context.Context, filter ListFilter) ([]*AuditEntry, error)
	NextSequence(ctx context.Context, poaID string) (int64, error)
	MarkAdvocateNotified(ctx context.Context, id int64, poaID string) error
}

// MemoryStore is an in-memory Store, used in tests and for local/dev runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]*AuditEntry // keyed by poaID, append-ordered
	seq     map[string]int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]*AuditEntry),
		seq:     make(map[string]int64),
	}
}

func (s *MemoryStore) AppendEntry(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries[entry.POAID] = append(s.entries[entry.POAID], &cp)
	return nil
}

func (s *MemoryStore) GetEntry(ctx context.Context, id int64, poaID string) (*AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries[poaID] {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, trusterrors.NotFound("audit entry not found", nil)
}

func (s *MemoryStore) ListEntries(ctx context.Context, filter ListFilter) ([]*AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pool []*AuditEntry
	if filter.POAID != "" {
		pool = s.entries[filter.POAID]
	} else {
		for _, es := range s.entries {
			pool = append(pool, es...)
		}
	}

	var out []*AuditEntry
	for _, e := range pool {
		if filter.Decision != "" && e.Decision != filter.Decision {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].POAID != out[j].POAID {
			return out[i].POAID < out[j].POAID
		}
		return out[i].ID < out[j].ID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) NextSequence(ctx context.Context, poaID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[poaID]++
	return s.seq[poaID], nil
}

func (s *MemoryStore) MarkAdvocateNotified(ctx context.Context, id int64, poaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries[poaID] {
		if e.ID == id {
			e.AdvocateNotified = true
			return nil
		}
	}
	return trusterrors.NotFound("audit entry not found", nil)
}
