package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"
	"ratelimit-engine/middleware/ratelimit/infra"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fw(name string, scope domain.ScopeKind, limit int64) domain.Policy {
	return domain.Policy{Name: name, Algorithm: domain.AlgorithmFixedWindow, Limit: limit, Window: time.Minute, Scope: scope}
}

func mustTable(t *testing.T, policies, defaults []domain.Policy) *PolicyTable {
	t.Helper()
	table, err := NewPolicyTable(policies, defaults)
	require.NoError(t, err)
	return table
}

func newTestService(t *testing.T, store domain.CounterStore, policies, defaults []domain.Policy, opts ...ServiceOption) *Service {
	t.Helper()
	if store == nil {
		store = infra.NewMemoryStore(infra.WithClock(infra.NewManualClock(t0)))
	}
	return NewService(store, NewPolicyResolver(mustTable(t, policies, defaults)), opts...)
}

// slowStore demora mais que qualquer timeout dos testes, mas respeita o ctx.
type slowStore struct{ delay time.Duration }

func (s slowStore) IncrementAndCheck(ctx context.Context, _ domain.Key, _ domain.Policy, _ domain.UpdateFunc) (domain.CounterState, domain.Verdict, error) {
	select {
	case <-time.After(s.delay):
		return domain.CounterState{}, domain.Verdict{Allowed: false}, nil
	case <-ctx.Done():
		return domain.CounterState{}, domain.Verdict{}, ctx.Err()
	}
}
func (slowStore) Peek(context.Context, domain.Key) (domain.CounterState, bool, error) {
	return domain.CounterState{}, false, nil
}
func (slowStore) ExpireKey(context.Context, domain.Key) error { return nil }

// lateStore ignora o ctx e responde "permitido" depois do prazo.
type lateStore struct{ delay time.Duration }

func (s lateStore) IncrementAndCheck(context.Context, domain.Key, domain.Policy, domain.UpdateFunc) (domain.CounterState, domain.Verdict, error) {
	time.Sleep(s.delay)
	return domain.CounterState{}, domain.Verdict{Allowed: true, Limit: 1, Remaining: 0}, nil
}
func (lateStore) Peek(context.Context, domain.Key) (domain.CounterState, bool, error) {
	return domain.CounterState{}, false, nil
}
func (lateStore) ExpireKey(context.Context, domain.Key) error { return nil }

var errBackend = errors.New("connection refused")

type brokenQuotaStore struct{}

func (brokenQuotaStore) Consume(context.Context, string, domain.QuotaPeriod, int64, time.Time) (domain.QuotaRecord, bool, error) {
	return domain.QuotaRecord{}, false, errBackend
}
func (brokenQuotaStore) Get(context.Context, string, domain.QuotaPeriod, time.Time) (domain.QuotaRecord, bool, error) {
	return domain.QuotaRecord{}, false, errBackend
}
func (brokenQuotaStore) Reset(context.Context, string, domain.QuotaPeriod) error { return errBackend }

type recordingSink struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func (s *recordingSink) Publish(_ context.Context, ev domain.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}
