package domain

import (
	"context"
	"time"
)

// CounterState é o estado mutável de uma chave. Pertence exclusivamente ao
// CounterStore; cada algoritmo usa apenas os campos que lhe cabem.
type CounterState struct {
	// fixed / sliding window
	Count       int64     `json:"c,omitempty"`
	PrevCount   int64     `json:"p,omitempty"`
	WindowStart time.Time `json:"ws,omitzero"`

	// token bucket
	Tokens     float64   `json:"t,omitempty"`
	LastRefill time.Time `json:"lr,omitzero"`

	// leaky bucket
	QueueDepth float64   `json:"q,omitempty"`
	LastDrain  time.Time `json:"ld,omitzero"`

	// LastSeen é preenchido pelo store e serve para expiração por inatividade.
	LastSeen time.Time `json:"ls,omitzero"`
}

// Verdict é o LimitVerdict de um escopo. Nunca é persistido.
type Verdict struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration

	Key    Key
	Scope  ScopeKind
	Policy string
}

// UpdateFunc é a atualização pura de um algoritmo. Deve ser determinística:
// o RedisStore pode reaplicá-la em caso de conflito.
type UpdateFunc func(old CounterState, p Policy, now time.Time) (CounterState, Verdict)

// CounterStore aplica UpdateFunc de forma atômica por chave.
//
// O store fornece o "now" a partir do próprio Clock. Erros de infraestrutura
// devem embrulhar ErrStoreUnavailable.
type CounterStore interface {
	IncrementAndCheck(ctx context.Context, key Key, p Policy, update UpdateFunc) (CounterState, Verdict, error)
	Peek(ctx context.Context, key Key) (CounterState, bool, error)
	ExpireKey(ctx context.Context, key Key) error
}

func clampRemaining(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
