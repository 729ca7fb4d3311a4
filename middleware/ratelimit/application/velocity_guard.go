package application

import (
	"context"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// VelocityConfig é a progressão da guarda de força bruta.
type VelocityConfig struct {
	// FreeAttempts falhas sem atraso.
	FreeAttempts int
	// BaseDelay é o atraso da primeira falha após as gratuitas; dobra a cada falha.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// LockoutThreshold é a falha que bloqueia a identidade.
	LockoutThreshold int
	LockoutDuration  time.Duration
	// FailureWindow: falhas mais antigas que isso (a partir da primeira) são esquecidas.
	FailureWindow time.Duration
}

func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		FreeAttempts:     3,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		LockoutThreshold: 10,
		LockoutDuration:  15 * time.Minute,
		FailureWindow:    15 * time.Minute,
	}
}

// Validate checa a coerência da progressão.
func (c VelocityConfig) Validate() error {
	switch {
	case c.FreeAttempts < 0:
		return domain.NewConfigurationError("velocity", "free_attempts", "must not be negative")
	case c.LockoutThreshold <= c.FreeAttempts:
		return domain.NewConfigurationError("velocity", "lockout_threshold", "must be greater than free_attempts")
	case c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay:
		return domain.NewConfigurationError("velocity", "delay", "base must be positive and not above max")
	case c.LockoutDuration <= 0 || c.FailureWindow <= 0:
		return domain.NewConfigurationError("velocity", "lockout_duration", "durations must be positive")
	}
	return nil
}

// DelayFor devolve o atraso imposto após a n-ésima falha consecutiva.
func (c VelocityConfig) DelayFor(n int) time.Duration {
	if n <= c.FreeAttempts {
		return 0
	}
	d := c.BaseDelay
	for i := c.FreeAttempts + 1; i < n; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return d
}

// VelocityGuard implementa Normal -> Warning -> Locked -> Normal por identidade.
// O gatilho é semântico (falha de autenticação), por isso é separado dos
// algoritmos de volume.
type VelocityGuard struct {
	store  domain.VelocityStore
	cfg    VelocityConfig
	clock  domain.Clock
	logger *zap.Logger
	// security registra lockouts; o logger de produção não amostra esse nome.
	security *zap.Logger
	sink     domain.SecuritySink
}

type GuardOption func(*VelocityGuard)

func WithGuardClock(c domain.Clock) GuardOption {
	return func(g *VelocityGuard) {
		if c != nil {
			g.clock = c
		}
	}
}

func WithGuardLogger(l *zap.Logger) GuardOption {
	return func(g *VelocityGuard) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithSecuritySink(s domain.SecuritySink) GuardOption {
	return func(g *VelocityGuard) { g.sink = s }
}

func NewVelocityGuard(store domain.VelocityStore, cfg VelocityConfig, opts ...GuardOption) *VelocityGuard {
	g := &VelocityGuard{
		store:  store,
		cfg:    cfg,
		clock:  domain.ClockFunc(time.Now),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.security = g.logger.Named("security")
	return g
}

func (g *VelocityGuard) ttl() time.Duration {
	return max(g.cfg.FailureWindow, g.cfg.LockoutDuration)
}

// RecordFailure registra uma falha e devolve o novo estado.
func (g *VelocityGuard) RecordFailure(ctx context.Context, id string) (domain.GuardVerdict, error) {
	now := g.clock.Now()
	var newlyLocked bool

	st, err := g.store.Update(ctx, id, g.ttl(), func(old domain.VelocityState) domain.VelocityState {
		newlyLocked = false
		s := old
		if g.stateOf(s, now) == domain.GuardLocked {
			// falhas durante o lockout não o estendem
			return s
		}
		if g.expired(s, now) {
			s = domain.VelocityState{}
		}
		if s.FailureCount == 0 {
			s.FirstFailure = now
		}
		s.FailureCount++
		s.LastFailure = now

		if s.FailureCount >= g.cfg.LockoutThreshold {
			s.LockedUntil = now.Add(g.cfg.LockoutDuration)
			s.NextAttemptAt = s.LockedUntil
			newlyLocked = true
		} else {
			s.NextAttemptAt = now.Add(g.cfg.DelayFor(s.FailureCount))
		}
		return s
	})
	if err != nil {
		return domain.GuardVerdict{}, err
	}

	v := g.verdictOf(st, now)
	if newlyLocked {
		g.lockedOut(ctx, id, st, now)
	}
	return v, nil
}

// RecordSuccess limpa o histórico da identidade.
func (g *VelocityGuard) RecordSuccess(ctx context.Context, id string) error {
	return g.store.Delete(ctx, id)
}

// Check informa se a identidade pode tentar agora, sem registrar nada.
func (g *VelocityGuard) Check(ctx context.Context, id string) (domain.GuardVerdict, error) {
	st, ok, err := g.store.Get(ctx, id)
	if err != nil || !ok {
		return domain.GuardVerdict{State: domain.GuardNormal}, err
	}
	return g.verdictOf(st, g.clock.Now()), nil
}

func (g *VelocityGuard) expired(s domain.VelocityState, now time.Time) bool {
	if !s.LockedUntil.IsZero() && !now.Before(s.LockedUntil) {
		return true
	}
	return !s.FirstFailure.IsZero() && now.Sub(s.FirstFailure) > g.cfg.FailureWindow
}

func (g *VelocityGuard) stateOf(s domain.VelocityState, now time.Time) domain.GuardState {
	switch {
	case s.Locked(now):
		return domain.GuardLocked
	case g.expired(s, now):
		return domain.GuardNormal
	case s.FailureCount > g.cfg.FreeAttempts:
		return domain.GuardWarning
	}
	return domain.GuardNormal
}

func (g *VelocityGuard) verdictOf(s domain.VelocityState, now time.Time) domain.GuardVerdict {
	state := g.stateOf(s, now)
	v := domain.GuardVerdict{State: state}
	if state == domain.GuardNormal && g.expired(s, now) {
		return v
	}
	v.FailureCount = s.FailureCount
	switch state {
	case domain.GuardLocked:
		v.Locked = true
		v.UnlockAt = s.LockedUntil
		v.Delay = s.LockedUntil.Sub(now)
	default:
		if now.Before(s.NextAttemptAt) {
			v.Delay = s.NextAttemptAt.Sub(now)
			v.UnlockAt = s.NextAttemptAt
		}
	}
	return v
}

func (g *VelocityGuard) lockedOut(ctx context.Context, id string, st domain.VelocityState, now time.Time) {
	g.security.Warn("identity locked out after repeated failures",
		zap.Bool("security_event", true),
		zap.String("identity", id),
		zap.Int("failure_count", st.FailureCount),
		zap.Time("locked_until", st.LockedUntil),
	)
	if g.sink == nil {
		return
	}
	ev := domain.SecurityEvent{
		Kind:         "lockout",
		Identity:     id,
		FailureCount: st.FailureCount,
		LockedUntil:  st.LockedUntil,
		At:           now,
	}
	if err := g.sink.Publish(ctx, ev); err != nil {
		g.logger.Error("failed to publish security event", zap.String("identity", id), zap.Error(err))
	}
}
