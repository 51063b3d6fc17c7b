package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/finguard/finguard/internal/domain"
)

// MemoryStore keeps the ledger in memory. Used in tests and ephemeral mode.
type MemoryStore struct {
	entries     []*Entry
	byID        map[string]int
	transitions map[string][]Transition
	mu          sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[string]int),
		transitions: make(map[string][]Transition),
	}
}

func (s *MemoryStore) read(e *Entry) *Entry {
	out := e.clone()
	_ = out.hydrate()
	return out
}

// Tail returns the last entry
func (s *MemoryStore) Tail(ctx context.Context) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	return s.read(s.entries[len(s.entries)-1]), nil
}

// Insert appends an entry
func (s *MemoryStore) Insert(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tail := GenesisHash
	if n := len(s.entries); n > 0 {
		tail = s.entries[n-1].Hash
	}
	if e.PrevHash != tail {
		return ErrTailMoved
	}
	if _, exists := s.byID[e.ID]; exists {
		return ErrTailMoved
	}

	s.byID[e.ID] = len(s.entries)
	s.entries = append(s.entries, e.clone())
	return nil
}

// Get returns an entry by id
func (s *MemoryStore) Get(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "get ledger entry", "entry %s not found", id)
	}
	return s.read(s.entries[i]), nil
}

// List returns entries newest first
func (s *MemoryStore) List(ctx context.Context, portfolioID string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if portfolioID != "" && s.entries[i].PortfolioID != portfolioID {
			continue
		}
		out = append(out, s.read(s.entries[i]))
	}
	return out, nil
}

// Scan returns entries created in [from, to)
func (s *MemoryStore) Scan(ctx context.Context, from, to time.Time) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if inRange(e.CreatedAt, from, to) {
			out = append(out, s.read(e))
		}
	}
	return out, nil
}

// UpdateStatus changes an entry's status
func (s *MemoryStore) UpdateStatus(ctx context.Context, t Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[t.EntryID]
	if !ok {
		return domain.NewError(domain.KindNotFound, "update ledger status", "entry %s not found", t.EntryID)
	}
	if s.entries[i].Status != t.From {
		return ErrStatusMoved
	}

	s.entries[i].Status = t.To
	s.entries[i].StatusUpdatedAt = t.At
	s.transitions[t.EntryID] = append(s.transitions[t.EntryID], t)
	return nil
}

// Transitions returns the status history of an entry
func (s *MemoryStore) Transitions(ctx context.Context, entryID string) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Transition{}, s.transitions[entryID]...), nil
}

// Count returns the number of entries
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}
