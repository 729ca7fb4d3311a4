package domain

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeAllowed          Outcome = "allowed"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeQuotaExceeded    Outcome = "quota_exceeded"
	OutcomeLockedOut        Outcome = "locked_out"
	OutcomeStoreUnavailable Outcome = "store_unavailable"
)

// OutcomeFor converte o motivo da decisão em resultado de estatística.
func OutcomeFor(d Decision) Outcome {
	switch d.Reason {
	case ReasonRateLimited:
		return OutcomeRateLimited
	case ReasonQuotaExceeded:
		return OutcomeQuotaExceeded
	case ReasonLockedOut:
		return OutcomeLockedOut
	case ReasonStoreUnavailable:
		return OutcomeStoreUnavailable
	}
	return OutcomeAllowed
}

type StatsEvent struct {
	Key      Key
	Outcome  Outcome
	Allowed  bool
	Degraded bool
	Adjusted bool
	Tier     Tier
	Method   string
	Route    string
	At       time.Time
}

// StatsStore recebe um evento por decisão. Falhas não devem afetar a requisição.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
