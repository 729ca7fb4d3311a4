package infra

import (
	"context"
	"sync"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"
)

type MemoryVelocityStore struct {
	mu      sync.Mutex
	clock   domain.Clock
	entries map[string]velocityEntry
}

type velocityEntry struct {
	state     domain.VelocityState
	expiresAt time.Time
}

func NewMemoryVelocityStore(clock domain.Clock) *MemoryVelocityStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryVelocityStore{clock: clock, entries: make(map[string]velocityEntry)}
}

func (s *MemoryVelocityStore) Update(ctx context.Context, id string, ttl time.Duration, fn func(domain.VelocityState) domain.VelocityState) (domain.VelocityState, error) {
	if err := ctx.Err(); err != nil {
		return domain.VelocityState{}, err
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var old domain.VelocityState
	if ent, ok := s.entries[id]; ok && now.Before(ent.expiresAt) {
		old = ent.state
	}
	st := fn(old)
	s.entries[id] = velocityEntry{state: st, expiresAt: now.Add(ttl)}
	return st, nil
}

func (s *MemoryVelocityStore) Get(_ context.Context, id string) (domain.VelocityState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[id]
	if !ok || !s.clock.Now().Before(ent.expiresAt) {
		return domain.VelocityState{}, false, nil
	}
	return ent.state, true, nil
}

func (s *MemoryVelocityStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}
