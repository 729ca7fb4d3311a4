package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultStoreTimeout limita cada chamada ao CounterStore.
const DefaultStoreTimeout = 25 * time.Millisecond

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	store    domain.CounterStore
	policies *PolicyResolver
	load     *LoadController
	quota    *QuotaTracker
	guard    *VelocityGuard
	stats    domain.StatsStore
	routes   atomic.Pointer[RouteClassifier]
	clock    domain.Clock
	logger   *zap.Logger
	tracer   trace.Tracer

	storeTimeout time.Duration
	// RetryAfter usado quando o store falha fechado.
	unavailableRetry time.Duration

	openLog   *rate.Sometimes
	closedLog *rate.Sometimes
}

type ServiceOption func(*Service)

func WithLoadController(c *LoadController) ServiceOption {
	return func(s *Service) { s.load = c }
}

func WithQuotaTracker(q *QuotaTracker) ServiceOption {
	return func(s *Service) { s.quota = q }
}

func WithVelocityGuard(g *VelocityGuard) ServiceOption {
	return func(s *Service) { s.guard = g }
}

func WithRouteClassifier(c *RouteClassifier) ServiceOption {
	return func(s *Service) { s.routes.Store(c) }
}

func WithStats(st domain.StatsStore) ServiceOption {
	return func(s *Service) { s.stats = st }
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithServiceClock(c domain.Clock) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

func WithUnavailableRetryAfter(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.unavailableRetry = d
		}
	}
}

func NewService(store domain.CounterStore, policies *PolicyResolver, opts ...ServiceOption) *Service {
	s := &Service{
		store:            store,
		policies:         policies,
		clock:            domain.ClockFunc(time.Now),
		logger:           zap.NewNop(),
		tracer:           otel.Tracer("ratelimit-engine/application"),
		storeTimeout:     DefaultStoreTimeout,
		unavailableRetry: time.Second,
		openLog:          &rate.Sometimes{First: 1, Interval: 10 * time.Second},
		closedLog:        &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policies() *PolicyResolver       { return s.policies }
func (s *Service) LoadController() *LoadController { return s.load }
func (s *Service) QuotaTracker() *QuotaTracker     { return s.quota }
func (s *Service) VelocityGuard() *VelocityGuard   { return s.guard }

// Classify devolve a classe e a sensibilidade da rota.
func (s *Service) Classify(method, route string) (domain.EndpointClass, bool) {
	return s.routes.Load().Classify(method, route)
}

// SetRoutes troca as regras de classificação (reload).
func (s *Service) SetRoutes(c *RouteClassifier) {
	if c != nil {
		s.routes.Store(c)
	}
}

type scopeCheck struct {
	scope     domain.Scope
	policy    domain.Policy
	effective domain.Policy
	adjusted  bool

	verdict domain.Verdict
	err     error
}

// Decide avalia todos os escopos, a cota e a guarda de velocidade.
//
// Só devolve erro quando um store falha com política fail-closed; nesse caso o
// erro embrulha domain.ErrStoreUnavailable e a Decision vem preenchida com
// Reason=ReasonStoreUnavailable.
func (s *Service) Decide(ctx context.Context, id domain.Identity) (domain.Decision, error) {
	ctx, span := s.tracer.Start(ctx, "ratelimit.Decide", trace.WithAttributes(
		attribute.String("ratelimit.route", id.Route),
		attribute.String("ratelimit.tier", string(id.Tier)),
	))
	defer span.End()

	dec, key, err := s.decide(ctx, id)

	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", dec.Allowed),
		attribute.String("ratelimit.reason", string(dec.Reason)),
		attribute.Bool("ratelimit.degraded", dec.Degraded),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
	}
	if !dec.Allowed && err == nil {
		s.logger.Debug("request rejected",
			zap.String("key", string(key)),
			zap.String("reason", string(dec.Reason)),
			zap.Duration("retry_after", dec.RetryAfter),
		)
	}
	s.record(ctx, id, key, dec)
	return dec, err
}

func (s *Service) decide(ctx context.Context, id domain.Identity) (domain.Decision, domain.Key, error) {
	var dec domain.Decision

	if id.Sensitive && s.guard != nil {
		gv, err := s.guard.Check(ctx, id.VelocityID())
		switch {
		case err != nil:
			s.openLog.Do(func() {
				s.logger.Warn("velocity store unavailable, skipping guard", zap.Error(err))
			})
		case gv.Blocked():
			dec.Guard = &gv
			dec.Reason = domain.ReasonLockedOut
			dec.RetryAfter = gv.Delay
			return dec, domain.Key(id.VelocityID()), nil
		default:
			dec.Guard = &gv
		}
	}

	scopes := ResolveScopes(id, s.policies.Explicit())
	checks := make([]scopeCheck, 0, len(scopes))
	for _, sc := range scopes {
		var p domain.Policy
		switch {
		case sc.Fallback:
			p = s.policies.Default(sc.Kind)
		case sc.Kind == domain.ScopeEndpoint || sc.Kind == domain.ScopeComposite:
			var ok bool
			if p, ok = s.policies.Lookup(sc.Kind, id.Tier, id.Class); !ok {
				continue
			}
		default:
			p = s.policies.Resolve(sc.Kind, id.Tier, id.Class)
		}
		eff, adjusted := s.load.Adjust(p)
		checks = append(checks, scopeCheck{scope: sc, policy: p, effective: eff, adjusted: adjusted})
	}

	var g errgroup.Group
	for i := range checks {
		c := &checks[i]
		g.Go(func() error {
			c.verdict, c.err = s.check(ctx, c.scope.Key, c.effective)
			c.verdict.Key = c.scope.Key
			c.verdict.Scope = c.scope.Kind
			c.verdict.Policy = c.policy.Name
			return nil
		})
	}
	_ = g.Wait()

	verdicts := make([]domain.Verdict, 0, len(checks))
	for _, c := range checks {
		if c.err == nil {
			verdicts = append(verdicts, c.verdict)
			continue
		}
		if c.effective.FailureMode == domain.FailClosed {
			s.closedLog.Do(func() {
				s.logger.Error("counter store unavailable, failing closed",
					zap.String("key", string(c.scope.Key)), zap.String("policy", c.policy.Name), zap.Error(c.err))
			})
			dec.Allowed = false
			dec.Reason = domain.ReasonStoreUnavailable
			dec.RetryAfter = s.unavailableRetry
			return dec, c.scope.Key, fmt.Errorf("scope %s: %w", c.scope.Key, c.err)
		}
		s.openLog.Do(func() {
			s.logger.Warn("counter store unavailable, failing open",
				zap.String("key", string(c.scope.Key)), zap.String("policy", c.policy.Name), zap.Error(c.err))
		})
		dec.Degraded = true
	}

	key := scopes[0].Key
	if combined, ok := Combine(verdicts); ok {
		dec.RateLimit = &combined
		dec.Scopes = verdicts
		key = combined.Key
		for _, c := range checks {
			if c.scope.Key == combined.Key && c.adjusted {
				dec.Adjusted = true
				dec.NormalLimit = c.policy.Capacity()
			}
		}
		if !combined.Allowed {
			dec.Reason = domain.ReasonRateLimited
			dec.RetryAfter = combined.RetryAfter
			return dec, key, nil
		}
	}

	if s.quota != nil {
		if clientID := id.ClientID(); clientID != "" {
			qv, err := s.quota.Enforce(ctx, clientID, id.Tier)
			if err != nil {
				dec.Reason = domain.ReasonStoreUnavailable
				dec.RetryAfter = s.unavailableRetry
				return dec, key, err
			}
			if !qv.Unlimited {
				dec.Quota = &qv
			}
			dec.Degraded = dec.Degraded || qv.Degraded
			if !qv.Allowed {
				dec.Reason = domain.ReasonQuotaExceeded
				dec.RetryAfter = qv.ResetAt.Sub(s.clock.Now())
				return dec, key, nil
			}
		}
	}

	dec.Allowed = true
	return dec, key, nil
}

// check chama o store com timeout próprio. Os stores respeitam o ctx; um
// resultado que chega depois do prazo é descartado como falha.
func (s *Service) check(ctx context.Context, key domain.Key, p domain.Policy) (domain.Verdict, error) {
	update, err := domain.UpdateFor(p.Algorithm)
	if err != nil {
		return domain.Verdict{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	_, v, err := s.store.IncrementAndCheck(cctx, key, p, update)
	if err == nil {
		err = cctx.Err()
	}
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		return domain.Verdict{}, err
	}
	return v, nil
}

func (s *Service) record(ctx context.Context, id domain.Identity, key domain.Key, dec domain.Decision) {
	if s.stats == nil {
		return
	}
	ev := domain.StatsEvent{
		Key:      key,
		Outcome:  domain.OutcomeFor(dec),
		Allowed:  dec.Allowed,
		Degraded: dec.Degraded,
		Adjusted: dec.Adjusted,
		Tier:     id.Tier,
		Method:   id.Method,
		Route:    id.Route,
		At:       s.clock.Now(),
	}
	if err := s.stats.Record(ctx, ev); err != nil {
		s.logger.Debug("failed to record stats", zap.Error(err))
	}
}

// RecordAuthFailure alimenta a guarda de velocidade. Sem guarda, não faz nada.
func (s *Service) RecordAuthFailure(ctx context.Context, id domain.Identity) (domain.GuardVerdict, error) {
	if s.guard == nil {
		return domain.GuardVerdict{}, nil
	}
	return s.guard.RecordFailure(ctx, id.VelocityID())
}

func (s *Service) RecordAuthSuccess(ctx context.Context, id domain.Identity) error {
	if s.guard == nil {
		return nil
	}
	return s.guard.RecordSuccess(ctx, id.VelocityID())
}
