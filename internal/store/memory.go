package store

import (
	"context"
	"sync"

	"github.com/observer/hangouts/internal/domain"
)

// MemoryStore implements HangoutStore with a map of per-owner slices.
// Insertion order of each owner's list is preserved, matching MongoStore.
type MemoryStore struct {
	mu     sync.RWMutex
	owners map[string][]domain.Hangout
	closed bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		owners: make(map[string][]domain.Hangout),
	}
}

func (s *MemoryStore) List(ctx context.Context, owner string) ([]domain.Hangout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	list := s.owners[owner]
	out := make([]domain.Hangout, len(list))
	copy(out, list)
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, owner, peer string) (*domain.Hangout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	for _, h := range s.owners[owner] {
		if h.Username == peer {
			found := h
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Upsert(ctx context.Context, owner string, h domain.Hangout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	list := s.owners[owner]
	for i := range list {
		if list[i].Username == h.Username {
			list[i] = h
			return nil
		}
	}
	s.owners[owner] = append(list, h)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.owners = make(map[string][]domain.Hangout)
	return nil
}
