package infra

import (
	"context"
	"testing"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStatsStore_CountsByOutcome(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	events := []domain.StatsEvent{
		{Key: "ip:1|GET:/a", Outcome: domain.OutcomeAllowed, Allowed: true, Method: "GET", Route: "/a"},
		{Key: "ip:1|GET:/a", Outcome: domain.OutcomeAllowed, Allowed: true, Degraded: true, Method: "GET", Route: "/a"},
		{Key: "ip:1|GET:/a", Outcome: domain.OutcomeRateLimited, Method: "GET", Route: "/a"},
		{Key: "key:k|POST:/b", Outcome: domain.OutcomeQuotaExceeded, Method: "POST", Route: "/b"},
	}
	for _, ev := range events {
		require.NoError(t, s.Record(ctx, ev))
	}

	total := s.Total()
	assert.Equal(t, int64(2), total.Allowed)
	assert.Equal(t, int64(1), total.RateLimited)
	assert.Equal(t, int64(1), total.QuotaExceeded)
	assert.Equal(t, int64(1), total.Degraded)
	assert.Equal(t, int64(2), total.Denied())
	assert.Equal(t, int64(1), s.ByRoute()["GET /a"].RateLimited)
	assert.Equal(t, int64(3), s.ByKey()["ip:1|GET:/a"].Allowed+s.ByKey()["ip:1|GET:/a"].RateLimited)
}

func TestRedisStatsStore_WritesOutcomeFields(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStatsStore(rdb, WithStatsPrefix("rs:"), WithStatsTrackKeys(true))
	at := time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)

	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{
		Key: "ip:1|GET:/a", Outcome: domain.OutcomeRateLimited, Method: "GET", Route: "/a", At: at,
	}))
	require.NoError(t, s.Record(context.Background(), domain.StatsEvent{
		Key: "ip:1|GET:/a", Outcome: domain.OutcomeAllowed, Allowed: true, Degraded: true, Method: "GET", Route: "/a", At: at,
	}))

	assert.Equal(t, "1", mr.HGet("rs:total", "rate_limited"))
	assert.Equal(t, "1", mr.HGet("rs:total", "degraded"))
	assert.Equal(t, "1", mr.HGet("rs:minute:202506011005", "allowed"))
	assert.Equal(t, "1", mr.HGet("rs:route", "GET /a:rate_limited"))
	assert.Equal(t, "1", mr.HGet("rs:key:ip:1|GET:/a", "allowed"))
}

func TestPrometheusStats_SeparatesOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPrometheusStats(reg, "test")
	require.NoError(t, err)

	multi := MultiStats{s, NewMemoryStatsStore()}
	ctx := context.Background()
	require.NoError(t, multi.Record(ctx, domain.StatsEvent{Outcome: domain.OutcomeRateLimited, Route: "/a"}))
	require.NoError(t, multi.Record(ctx, domain.StatsEvent{Outcome: domain.OutcomeQuotaExceeded, Tier: domain.TierFree, Route: "/a"}))
	require.NoError(t, multi.Record(ctx, domain.StatsEvent{Outcome: domain.OutcomeAllowed, Degraded: true, Adjusted: true, Route: "/a"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.decisions.WithLabelValues("rate_limited", "anonymous", "/a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.decisions.WithLabelValues("quota_exceeded", "free", "/a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.degraded.WithLabelValues("/a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.adjusted))

	_, err = NewPrometheusStats(reg, "test")
	assert.Error(t, err, "duplicate registration must fail")
}
