package domain

import (
	"context"
	"time"
)

type GuardState int

const (
	GuardNormal GuardState = iota
	GuardWarning
	GuardLocked
)

func (s GuardState) String() string {
	switch s {
	case GuardWarning:
		return "warning"
	case GuardLocked:
		return "locked"
	}
	return "normal"
}

// VelocityState guarda o histórico de falhas de uma identidade em ações sensíveis.
type VelocityState struct {
	FailureCount  int       `json:"n"`
	FirstFailure  time.Time `json:"ff,omitzero"`
	LastFailure   time.Time `json:"lf,omitzero"`
	NextAttemptAt time.Time `json:"na,omitzero"`
	LockedUntil   time.Time `json:"lu,omitzero"`
}

func (s VelocityState) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// GuardVerdict é o resultado da guarda de velocidade.
type GuardVerdict struct {
	State        GuardState
	Locked       bool
	UnlockAt     time.Time
	Delay        time.Duration
	FailureCount int
}

// Blocked indica que a requisição deve ser barrada agora (lockout ou atraso pendente).
func (g GuardVerdict) Blocked() bool { return g.Locked || g.Delay > 0 }

// VelocityStore persiste VelocityState com atualização atômica por identidade.
type VelocityStore interface {
	Update(ctx context.Context, id string, ttl time.Duration, fn func(VelocityState) VelocityState) (VelocityState, error)
	Get(ctx context.Context, id string) (VelocityState, bool, error)
	Delete(ctx context.Context, id string) error
}

// SecurityEvent é publicado quando uma identidade é bloqueada.
type SecurityEvent struct {
	Kind         string    `json:"kind"`
	Identity     string    `json:"identity"`
	FailureCount int       `json:"failure_count"`
	LockedUntil  time.Time `json:"locked_until"`
	At           time.Time `json:"at"`
}

type SecuritySink interface {
	Publish(ctx context.Context, ev SecurityEvent) error
}
