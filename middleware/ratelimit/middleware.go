package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"ratelimit-engine/middleware/ratelimit/application"
	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Options struct {
	Service *application.Service

	// IdentityFn substitui a extração padrão. Quando nil, os campos abaixo
	// configuram DefaultIdentityFunc.
	IdentityFn           IdentityFunc
	KeyHeader            string
	TrustIdentityHeaders bool
	TrustedProxies       []netip.Prefix
	RouteFn              RouteFunc

	// ExcludedPaths não passam pelo motor (health checks). Um item terminado
	// em "/" casa por prefixo.
	ExcludedPaths []string

	// ProblemBase prefixa o type do problem+json (padrão "/problems").
	ProblemBase string

	// ObserveAuthStatus faz o próprio middleware alimentar a guarda de
	// velocidade em rotas sensíveis: 401/403 do próximo handler contam como
	// falha e 2xx como sucesso. Útil no modo proxy, onde o upstream não chama
	// RecordAuthFailure.
	ObserveAuthStatus bool

	// OnRejected substitui a resposta padrão de rejeição.
	OnRejected func(w http.ResponseWriter, r *http.Request, dec domain.Decision)

	Logger *zap.Logger
	Clock  domain.Clock
}

type decisionKey struct{}

// DecisionFrom devolve a decisão que admitiu a requisição.
func DecisionFrom(ctx context.Context) (domain.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(domain.Decision)
	return d, ok
}

// Middleware aplica Service.Decide a cada requisição.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Service == nil {
		panic("ratelimit: Options.Service is required")
	}
	if opts.IdentityFn == nil {
		opts.IdentityFn = DefaultIdentityFunc(IdentityOptions{
			KeyHeader:            opts.KeyHeader,
			TrustIdentityHeaders: opts.TrustIdentityHeaders,
			TrustedProxies:       opts.TrustedProxies,
			RouteFn:              opts.RouteFn,
		})
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = domain.ClockFunc(time.Now)
	}
	svc := opts.Service
	excluded := newPathMatcher(opts.ExcludedPaths)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded.match(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			id := opts.IdentityFn(r)
			if id.Class == "" {
				class, sensitive := svc.Classify(id.Method, id.Route)
				id.Class = class
				id.Sensitive = id.Sensitive || sensitive
			}

			dec, err := svc.Decide(r.Context(), id)
			WriteHeaders(w.Header(), dec, opts.Clock.Now())

			if err != nil {
				if !errors.Is(err, domain.ErrStoreUnavailable) {
					opts.Logger.Error("rate limit decision failed", zap.String("route", id.Route), zap.Error(err))
				}
				dec.Allowed = false
				dec.Reason = domain.ReasonStoreUnavailable
			}
			if !dec.Allowed {
				if opts.OnRejected != nil {
					opts.OnRejected(w, r, dec)
					return
				}
				writeRejection(w, NewProblem(opts.ProblemBase, dec))
				return
			}

			ctx := context.WithValue(r.Context(), decisionKey{}, dec)
			ctx = withAuthHook(ctx, svc, id)
			r = r.WithContext(ctx)

			if !opts.ObserveAuthStatus || !id.Sensitive {
				next.ServeHTTP(w, r)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			observeAuthStatus(r, ww.Status(), opts.Logger)
		})
	}
}

type pathMatcher struct {
	exact    map[string]bool
	prefixes []string
}

func newPathMatcher(paths []string) pathMatcher {
	m := pathMatcher{exact: make(map[string]bool, len(paths))}
	for _, p := range paths {
		switch {
		case p == "":
		case strings.HasSuffix(p, "/") && p != "/":
			m.prefixes = append(m.prefixes, p)
		default:
			m.exact[p] = true
		}
	}
	return m
}

func (m pathMatcher) match(path string) bool {
	if m.exact[path] {
		return true
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func observeAuthStatus(r *http.Request, status int, logger *zap.Logger) {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if _, err := RecordAuthFailure(r); err != nil {
			logger.Warn("failed to record auth failure", zap.Error(err))
		}
	case status >= 200 && status < 300:
		if err := RecordAuthSuccess(r); err != nil {
			logger.Warn("failed to record auth success", zap.Error(err))
		}
	}
}
