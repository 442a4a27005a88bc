package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store guarded by a mutex. Claim runs under
// the lock, so it has the same all-or-nothing semantics as the Redis
// script. Intended for tests and single-node development; production
// deployments share the pool through Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory waiting pool.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Enqueue(_ context.Context, e Entry) error {
	if e.Gender != GenderMale && e.Gender != GenderFemale {
		return errUnsupportedGender(e.Gender)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.JoinedAt == 0 {
		e.JoinedAt = float64(time.Now().UnixNano()) / 1e6
	}
	s.entries[e.UserID] = e
	return nil
}

func (s *MemoryStore) Dequeue(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}

func (s *MemoryStore) GetActive(_ context.Context, userID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userID]; ok {
		return &e, nil
	}
	return nil, nil
}

func (s *MemoryStore) ListCandidates(_ context.Context, excludeUserID, wantedGender string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.UserID == excludeUserID || e.Gender != wantedGender {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt < out[j].JoinedAt })
	return out, nil
}

func (s *MemoryStore) Claim(_ context.Context, userA, userB string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[userA]; !ok {
		return false, nil
	}
	if _, ok := s.entries[userB]; !ok {
		return false, nil
	}
	delete(s.entries, userA)
	delete(s.entries, userB)
	return true, nil
}

func (s *MemoryStore) Size(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}
