package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ratelimit-engine/internal/logging"
	"ratelimit-engine/middleware/ratelimit"
	"ratelimit-engine/middleware/ratelimit/application"
	"ratelimit-engine/middleware/ratelimit/domain"
	"ratelimit-engine/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Exemplo: o motor embutido direto no webserver (sem proxy), com políticas
// montadas em código.
func main() {
	logger, err := logging.New("development", "debug", "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := newService(ctx, logger)
	if err != nil {
		logger.Fatal("invalid policies", zap.Error(err))
	}

	r := chi.NewRouter()
	r.Use(fakeAuth)
	r.Use(ratelimit.Middleware(ratelimit.Options{
		Service:       svc,
		KeyHeader:     "X-Api-Key", // ou vazio para usar só IP/usuário
		RouteFn:       ratelimit.ChiRouteFunc(r),
		ExcludedPaths: []string{"/healthz"},
		Logger:        logger,
	}))
	r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": chi.URLParam(r, "id")})
	})
	r.Post("/login", login(logger))

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newService(ctx context.Context, logger *zap.Logger) (*application.Service, error) {
	table, err := application.NewPolicyTable(
		[]domain.Policy{
			{Name: "free-user", Algorithm: domain.AlgorithmSlidingWindow, Limit: 30, Window: time.Minute, Scope: domain.ScopeUser, Tier: domain.TierFree},
			{Name: "pro-user", Algorithm: domain.AlgorithmTokenBucket, Limit: 100, BurstCapacity: 100, RefillRate: 10, Scope: domain.ScopeUser, Tier: domain.TierProfessional},
			{Name: "free-ip", Algorithm: domain.AlgorithmSlidingWindow, Limit: 300, Window: time.Minute, Scope: domain.ScopeIP, Tier: domain.TierFree},
			{Name: "pro-ip", Algorithm: domain.AlgorithmSlidingWindow, Limit: 1200, Window: time.Minute, Scope: domain.ScopeIP, Tier: domain.TierProfessional},
			{Name: "api-key", Algorithm: domain.AlgorithmLeakyBucket, Limit: 20, Window: time.Second, BurstCapacity: 40, Scope: domain.ScopeAPIKey},
			{Name: "login-ip", Algorithm: domain.AlgorithmFixedWindow, Limit: 10, Window: time.Minute, Scope: domain.ScopeIP, EndpointClass: domain.ClassAuth, FailureMode: domain.FailClosed},
		},
		[]domain.Policy{
			{Name: "ip", Algorithm: domain.AlgorithmSlidingWindow, Limit: 60, Window: time.Minute, Scope: domain.ScopeIP},
		},
	)
	if err != nil {
		return nil, err
	}
	routes, err := application.NewRouteClassifier([]application.RouteRule{
		{Method: http.MethodPost, Pattern: "/login", Class: domain.ClassAuth, Sensitive: true},
		{Pattern: "/healthz", Class: domain.ClassHealth},
	})
	if err != nil {
		return nil, err
	}

	store := infra.NewMemoryStore()
	store.StartJanitor(ctx)

	quota := application.NewQuotaTracker(infra.NewMemoryQuotaStore(), application.QuotaLimits{
		domain.TierFree: {domain.PeriodDaily: 500},
	}, application.WithQuotaLogger(logger))
	guard := application.NewVelocityGuard(infra.NewMemoryVelocityStore(infra.SystemClock{}),
		application.DefaultVelocityConfig(), application.WithGuardLogger(logger))

	return application.NewService(store, application.NewPolicyResolver(table),
		application.WithLoadController(application.NewLoadController()),
		application.WithQuotaTracker(quota),
		application.WithVelocityGuard(guard),
		application.WithRouteClassifier(routes),
		application.WithStats(infra.NewMemoryStatsStore()),
		application.WithLogger(logger),
	), nil
}

// fakeAuth aceita "Authorization: Bearer <user>:<tier>". Só para demonstração.
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		user, tier, _ := strings.Cut(token, ":")
		ctx := ratelimit.WithPrincipal(r.Context(), ratelimit.Principal{UserID: user, Tier: domain.ParseTier(tier)})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func login(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Password") != "secret" {
			v, err := ratelimit.RecordAuthFailure(r)
			if err != nil {
				logger.Warn("failed to record auth failure", zap.Error(err))
			}
			logger.Info("login failed", zap.Int("failures", v.FailureCount), zap.String("state", v.State.String()))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := ratelimit.RecordAuthSuccess(r); err != nil {
			logger.Warn("failed to reset auth failures", zap.Error(err))
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
