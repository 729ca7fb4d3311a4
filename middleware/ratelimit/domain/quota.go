package domain

import (
	"context"
	"time"
)

type QuotaPeriod string

const (
	PeriodDaily   QuotaPeriod = "daily"
	PeriodMonthly QuotaPeriod = "monthly"
)

func (p QuotaPeriod) Valid() bool { return p == PeriodDaily || p == PeriodMonthly }

// Bounds devolve [start, end) do período que contém now, em UTC.
func (p QuotaPeriod) Bounds(now time.Time) (time.Time, time.Time) {
	u := now.UTC()
	switch p {
	case PeriodMonthly:
		start := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	}
}

type QuotaState int

const (
	QuotaActive QuotaState = iota
	QuotaExhausted
)

func (s QuotaState) String() string {
	if s == QuotaExhausted {
		return "exhausted"
	}
	return "active"
}

// QuotaRecord é o contador de longo prazo de um cliente num período.
type QuotaRecord struct {
	ClientID    string
	Period      QuotaPeriod
	PeriodStart time.Time
	PeriodEnd   time.Time
	Used        int64
	Limit       int64
}

func (r QuotaRecord) State() QuotaState {
	if r.Used >= r.Limit {
		return QuotaExhausted
	}
	return QuotaActive
}

// Expired indica que o período acabou e a próxima operação faz rollover.
func (r QuotaRecord) Expired(now time.Time) bool {
	return r.PeriodEnd.IsZero() || !now.Before(r.PeriodEnd)
}

// ConsumeQuota é a transição pura Active -> Exhausted -> Active.
// Rollover é preguiçoso: acontece quando now >= PeriodEnd.
func ConsumeQuota(rec QuotaRecord, clientID string, period QuotaPeriod, limit int64, now time.Time) (QuotaRecord, bool) {
	if rec.Expired(now) {
		start, end := period.Bounds(now)
		rec = QuotaRecord{ClientID: clientID, Period: period, PeriodStart: start, PeriodEnd: end}
	}
	rec.Limit = limit
	switch rec.State() {
	case QuotaExhausted:
		return rec, false
	default:
		rec.Used++
		return rec, true
	}
}

type QuotaVerdict struct {
	Allowed   bool
	Unlimited bool
	Period    QuotaPeriod
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	// Degraded indica que o store falhou e a cota foi liberada (fail-open).
	Degraded bool
}

// QuotaStore consome uma unidade de cota de forma atômica.
type QuotaStore interface {
	Consume(ctx context.Context, clientID string, period QuotaPeriod, limit int64, now time.Time) (QuotaRecord, bool, error)
	Get(ctx context.Context, clientID string, period QuotaPeriod, now time.Time) (QuotaRecord, bool, error)
	Reset(ctx context.Context, clientID string, period QuotaPeriod) error
}
