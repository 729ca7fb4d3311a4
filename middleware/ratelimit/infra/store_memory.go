package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/spaolacci/murmur3"
)

// MemoryStore é o CounterStore local: mapa dividido em shards (murmur3), cada
// shard com seu mutex. A atualização roda inteira com o lock do shard.
//
// Expiração é preguiçosa (checada no acesso); o janitor só libera memória.
type MemoryStore struct {
	shards       []*memShard
	clock        domain.Clock
	cleanupEvery time.Duration
}

type memShard struct {
	mu      sync.Mutex
	entries map[domain.Key]*memEntry
}

type memEntry struct {
	state     domain.CounterState
	expiresAt time.Time
}

type StoreOption func(*MemoryStore)

func WithShards(n int) StoreOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func WithClock(c domain.Clock) StoreOption {
	return func(s *MemoryStore) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		shards:       newShards(64),
		clock:        SystemClock{},
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newShards(n int) []*memShard {
	out := make([]*memShard, n)
	for i := range out {
		out[i] = &memShard{entries: make(map[domain.Key]*memEntry)}
	}
	return out
}

func (s *MemoryStore) shard(key domain.Key) *memShard {
	h := murmur3.Sum32([]byte(key))
	return s.shards[h%uint32(len(s.shards))]
}

func (s *MemoryStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// IncrementAndCheck implementa domain.CounterStore.
func (s *MemoryStore) IncrementAndCheck(ctx context.Context, key domain.Key, p domain.Policy, update domain.UpdateFunc) (domain.CounterState, domain.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return domain.CounterState{}, domain.Verdict{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.clock.Now()
	var old domain.CounterState
	ent, ok := sh.entries[key]
	if ok && now.Before(ent.expiresAt) {
		old = ent.state
	}

	st, v := update(old, p, now)
	st.LastSeen = now
	if !ok {
		ent = &memEntry{}
		sh.entries[key] = ent
	}
	ent.state = st
	ent.expiresAt = now.Add(p.IdleTTL())
	return st, v, nil
}

func (s *MemoryStore) Peek(_ context.Context, key domain.Key) (domain.CounterState, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ent, ok := sh.entries[key]
	if !ok || !s.clock.Now().Before(ent.expiresAt) {
		return domain.CounterState{}, false, nil
	}
	return ent.state, true, nil
}

func (s *MemoryStore) ExpireKey(_ context.Context, key domain.Key) error {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
	return nil
}

// Len conta as entradas ainda em memória (inclusive expiradas não varridas).
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Cleanup remove entradas expiradas e devolve quantas removeu.
func (s *MemoryStore) Cleanup() int {
	now := s.clock.Now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, ent := range sh.entries {
			if !now.Before(ent.expiresAt) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
