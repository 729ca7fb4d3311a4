package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// QuotaLimits: limite por tier e período. Ausente = ilimitado.
type QuotaLimits map[domain.Tier]map[domain.QuotaPeriod]int64

func (l QuotaLimits) limit(tier domain.Tier, period domain.QuotaPeriod) (int64, bool) {
	n, ok := l[tier][period]
	return n, ok && n > 0
}

// Validate rejeita limites negativos e períodos desconhecidos.
func (l QuotaLimits) Validate() error {
	for tier, periods := range l {
		for period, n := range periods {
			if !period.Valid() {
				return domain.NewConfigurationError("quota", "period", fmt.Sprintf("unknown period %q for tier %q", period, tier))
			}
			if n < 0 {
				return domain.NewConfigurationError("quota", "limit", fmt.Sprintf("negative limit for tier %q", tier))
			}
		}
	}
	return nil
}

// QuotaTracker contabiliza uso de longo prazo (diário/mensal). Tem store,
// timeout e modo de falha próprios: uma falha aqui não afeta o rate limit de
// janela curta e vice-versa.
type QuotaTracker struct {
	store       domain.QuotaStore
	limits      atomic.Pointer[QuotaLimits]
	clock       domain.Clock
	timeout     time.Duration
	failureMode domain.FailureMode
	logger      *zap.Logger
	degradedLog rate.Sometimes
}

type QuotaOption func(*QuotaTracker)

func WithQuotaTimeout(d time.Duration) QuotaOption {
	return func(q *QuotaTracker) { q.timeout = d }
}

func WithQuotaFailureMode(m domain.FailureMode) QuotaOption {
	return func(q *QuotaTracker) {
		if m != "" {
			q.failureMode = m
		}
	}
}

func WithQuotaClock(c domain.Clock) QuotaOption {
	return func(q *QuotaTracker) {
		if c != nil {
			q.clock = c
		}
	}
}

func WithQuotaLogger(l *zap.Logger) QuotaOption {
	return func(q *QuotaTracker) {
		if l != nil {
			q.logger = l
		}
	}
}

func NewQuotaTracker(store domain.QuotaStore, limits QuotaLimits, opts ...QuotaOption) *QuotaTracker {
	q := &QuotaTracker{
		store:       store,
		clock:       domain.ClockFunc(time.Now),
		timeout:     100 * time.Millisecond,
		failureMode: domain.FailOpen,
		logger:      zap.NewNop(),
		degradedLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	q.SetLimits(limits)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetLimits troca os limites (reload).
func (q *QuotaTracker) SetLimits(l QuotaLimits) {
	if l == nil {
		l = QuotaLimits{}
	}
	q.limits.Store(&l)
}

// CheckAndConsume consome uma unidade do período.
func (q *QuotaTracker) CheckAndConsume(ctx context.Context, clientID string, tier domain.Tier, period domain.QuotaPeriod) (domain.QuotaVerdict, error) {
	limit, ok := (*q.limits.Load()).limit(tier, period)
	if !ok {
		return domain.QuotaVerdict{Allowed: true, Unlimited: true, Period: period}, nil
	}

	now := q.clock.Now()
	cctx := ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	rec, allowed, err := q.store.Consume(cctx, clientID, period, limit, now)
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: quota: %v", domain.ErrStoreUnavailable, err)
		}
		if q.failureMode == domain.FailClosed {
			q.logger.Error("quota store unavailable, failing closed",
				zap.String("client_id", clientID), zap.String("period", string(period)), zap.Error(err))
			return domain.QuotaVerdict{Period: period, Limit: limit}, err
		}
		q.degradedLog.Do(func() {
			q.logger.Warn("quota store unavailable, failing open",
				zap.String("client_id", clientID), zap.String("period", string(period)), zap.Error(err))
		})
		return domain.QuotaVerdict{Allowed: true, Degraded: true, Period: period, Limit: limit}, nil
	}

	remaining := rec.Limit - rec.Used
	if remaining < 0 {
		remaining = 0
	}
	return domain.QuotaVerdict{
		Allowed:   allowed,
		Period:    period,
		Limit:     rec.Limit,
		Remaining: remaining,
		ResetAt:   rec.PeriodEnd,
	}, nil
}

// Enforce verifica todos os períodos configurados para o tier (diário, depois
// mensal) e devolve o mais restritivo. Para no primeiro período esgotado.
func (q *QuotaTracker) Enforce(ctx context.Context, clientID string, tier domain.Tier) (domain.QuotaVerdict, error) {
	out := domain.QuotaVerdict{Allowed: true, Unlimited: true}
	for _, period := range []domain.QuotaPeriod{domain.PeriodDaily, domain.PeriodMonthly} {
		v, err := q.CheckAndConsume(ctx, clientID, tier, period)
		if err != nil {
			return v, err
		}
		if v.Unlimited {
			continue
		}
		if !v.Allowed {
			return v, nil
		}
		if out.Unlimited || v.Remaining < out.Remaining {
			out = v
		}
	}
	return out, nil
}

// Usage devolve o registro atual sem consumir.
func (q *QuotaTracker) Usage(ctx context.Context, clientID string, period domain.QuotaPeriod) (domain.QuotaRecord, bool, error) {
	return q.store.Get(ctx, clientID, period, q.clock.Now())
}
