package infra

import (
	"context"

	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats expõe as decisões como métricas. Rejeições por limite e por
// cota ficam em séries distintas (outcome), pois alimentam decisões diferentes.
type PrometheusStats struct {
	decisions *prometheus.CounterVec
	degraded  *prometheus.CounterVec
	adjusted  prometheus.Counter
}

func NewPrometheusStats(reg prometheus.Registerer, namespace string) (*PrometheusStats, error) {
	if namespace == "" {
		namespace = "ratelimit"
	}
	s := &PrometheusStats{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Rate limit decisions by outcome, tier and route template.",
		}, []string{"outcome", "tier", "route"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_admits_total",
			Help:      "Requests admitted because a store was unavailable (fail-open).",
		}, []string{"route"}),
		adjusted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adjusted_decisions_total",
			Help:      "Decisions taken with limits reduced by the adaptive load controller.",
		}),
	}
	for _, c := range []prometheus.Collector{s.decisions, s.degraded, s.adjusted} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	tier := string(ev.Tier)
	if tier == "" {
		tier = "anonymous"
	}
	s.decisions.WithLabelValues(string(ev.Outcome), tier, ev.Route).Inc()
	if ev.Degraded {
		s.degraded.WithLabelValues(ev.Route).Inc()
	}
	if ev.Adjusted {
		s.adjusted.Inc()
	}
	return nil
}

// MultiStats repassa o evento para vários stores e devolve o primeiro erro.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
