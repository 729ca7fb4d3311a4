package infra

import (
	"context"
	"sync"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"
)

// MemoryQuotaStore guarda cotas em memória. Não sobrevive a restart; útil para
// desenvolvimento e para uma instância única.
type MemoryQuotaStore struct {
	mu      sync.Mutex
	records map[string]domain.QuotaRecord
}

func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{records: make(map[string]domain.QuotaRecord)}
}

func quotaKey(clientID string, period domain.QuotaPeriod) string {
	return string(period) + "|" + clientID
}

func (s *MemoryQuotaStore) Consume(ctx context.Context, clientID string, period domain.QuotaPeriod, limit int64, now time.Time) (domain.QuotaRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.QuotaRecord{}, false, err
	}
	k := quotaKey(clientID, period)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := domain.ConsumeQuota(s.records[k], clientID, period, limit, now)
	s.records[k] = rec
	return rec, ok, nil
}

func (s *MemoryQuotaStore) Get(_ context.Context, clientID string, period domain.QuotaPeriod, now time.Time) (domain.QuotaRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[quotaKey(clientID, period)]
	if !ok || rec.Expired(now) {
		return domain.QuotaRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *MemoryQuotaStore) Reset(_ context.Context, clientID string, period domain.QuotaPeriod) error {
	s.mu.Lock()
	delete(s.records, quotaKey(clientID, period))
	s.mu.Unlock()
	return nil
}
