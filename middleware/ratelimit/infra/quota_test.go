package infra

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteQuotaStore(t *testing.T) *SQLQuotaStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// :memory: é por conexão
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLQuotaStore(context.Background(), db, DialectForDriver("sqlite3"))
	require.NoError(t, err)
	return s
}

func quotaStores(t *testing.T) map[string]domain.QuotaStore {
	return map[string]domain.QuotaStore{
		"memory": NewMemoryQuotaStore(),
		"sqlite": newSQLiteQuotaStore(t),
	}
}

func TestQuotaStore_ExhaustAndRollover(t *testing.T) {
	for name, s := range quotaStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)

			for i := 1; i <= 3; i++ {
				rec, ok, err := s.Consume(ctx, "key:abc", domain.PeriodDaily, 3, now)
				require.NoError(t, err)
				require.True(t, ok, "consume %d", i)
				assert.Equal(t, int64(i), rec.Used)
			}

			rec, ok, err := s.Consume(ctx, "key:abc", domain.PeriodDaily, 3, now)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, domain.QuotaExhausted, rec.State())
			assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), rec.PeriodEnd)

			// outro período e outro cliente são independentes
			_, ok, err = s.Consume(ctx, "key:abc", domain.PeriodMonthly, 100, now)
			require.NoError(t, err)
			assert.True(t, ok)
			_, ok, err = s.Consume(ctx, "key:other", domain.PeriodDaily, 3, now)
			require.NoError(t, err)
			assert.True(t, ok)

			next := now.Add(2 * time.Hour)
			rec, ok, err = s.Consume(ctx, "key:abc", domain.PeriodDaily, 3, next)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, int64(1), rec.Used)
			assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), rec.PeriodStart)

			got, found, err := s.Get(ctx, "key:abc", domain.PeriodDaily, next)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, int64(1), got.Used)

			require.NoError(t, s.Reset(ctx, "key:abc", domain.PeriodDaily))
			_, found, err = s.Get(ctx, "key:abc", domain.PeriodDaily, next)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestQuotaStore_ConcurrentConsumeNeverExceedsLimit(t *testing.T) {
	for name, s := range quotaStores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
			var admitted atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < 60; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, ok, err := s.Consume(context.Background(), "user:7", domain.PeriodMonthly, 25, now); err == nil && ok {
						admitted.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int64(25), admitted.Load())
		})
	}
}

func TestSQLQuotaStore_RejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLQuotaStore(context.Background(), db, "oracle")
	assert.Error(t, err)
}

func TestSQLQuotaStore_RebindPostgres(t *testing.T) {
	s := &SQLQuotaStore{dialect: "postgres"}
	assert.Equal(t, "a = $1 AND b = $2", s.rebind("a = ? AND b = ?"))
	s.dialect = "mysql"
	assert.Equal(t, "a = ?", s.rebind("a = ?"))
}
