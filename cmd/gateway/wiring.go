package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/netip"
	"net/url"
	"time"

	"ratelimit-engine/middleware/ratelimit"
	"ratelimit-engine/middleware/ratelimit/application"
	"ratelimit-engine/middleware/ratelimit/config"
	"ratelimit-engine/middleware/ratelimit/domain"
	"ratelimit-engine/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// privateNetworks são confiados quando TRUST_XFF=true.
var privateNetworks = []string{
	"127.0.0.0/8", "::1/128",
	"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7",
}

type gateway struct {
	Handler      http.Handler
	Policies     int
	CounterStore string
	QuotaStore   string

	closers []func() error
}

func (g *gateway) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		_ = g.closers[i]()
	}
}

func build(ctx context.Context, cli *CLI, logger *zap.Logger) (*gateway, error) {
	gw := &gateway{}
	built := false
	defer func() {
		if !built {
			gw.Close()
		}
	}()

	target, err := url.Parse(cli.UpstreamURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid UPSTREAM_URL %q", cli.UpstreamURL)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	bundle, err := config.Load(cli.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", cli.PolicyFile, err)
	}
	gw.Policies = bundle.Table.Len()

	counters, velocity, err := gw.counterStores(ctx, cli)
	if err != nil {
		return nil, err
	}
	quotaStore, err := gw.quotaStore(ctx, cli)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	stats, err := gw.statsStores(ctx, cli, reg)
	if err != nil {
		return nil, err
	}

	guardOpts := []application.GuardOption{application.WithGuardLogger(logger)}
	if len(cli.KafkaBrokers) > 0 {
		sink := infra.NewKafkaSecuritySink(cli.KafkaBrokers, cli.KafkaSecurityTopic, logger)
		gw.closers = append(gw.closers, sink.Close)
		guardOpts = append(guardOpts, application.WithSecuritySink(sink))
	}

	load := application.NewLoadController(bundle.LoadOptions...)
	quota := application.NewQuotaTracker(quotaStore, bundle.QuotaLimits,
		append(bundle.QuotaOptions(), application.WithQuotaLogger(logger))...)
	guard := application.NewVelocityGuard(velocity, bundle.Velocity, guardOpts...)

	svc := application.NewService(counters, application.NewPolicyResolver(bundle.Table),
		application.WithLoadController(load),
		application.WithQuotaTracker(quota),
		application.WithVelocityGuard(guard),
		application.WithRouteClassifier(bundle.Routes),
		application.WithStats(stats),
		application.WithLogger(logger),
		application.WithStoreTimeout(cli.StoreTimeout),
	)

	templates, err := newRouteTemplates(bundle.RoutePatterns)
	if err != nil {
		return nil, err
	}
	apply := func(b *config.Bundle) error {
		if err := templates.Reload(b.RoutePatterns); err != nil {
			return err
		}
		b.Apply(svc)
		return nil
	}
	reload := func(context.Context) error {
		b, err := config.Load(cli.PolicyFile)
		if err != nil {
			return err
		}
		if err := apply(b); err != nil {
			return err
		}
		logger.Info("policy table reloaded", zap.Int("policies", b.Table.Len()))
		return nil
	}
	if cli.PolicyWatch {
		w, err := config.NewWatcher(cli.PolicyFile, logger, func(b *config.Bundle) {
			if err := apply(b); err != nil {
				logger.Error("policy reload rejected", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("policy watcher disabled", zap.Error(err))
		} else {
			go w.Run(ctx)
		}
	}

	var pool domain.SlotPool
	if cli.ConcurrencyMax > 0 {
		pool = infra.NewChanPool(cli.ConcurrencyMax)
		application.ConcurrencyService{Pool: pool}.StartLoadProbe(ctx, load, cli.LoadProbeInterval)
	}

	trusted, err := trustedProxies(cli)
	if err != nil {
		return nil, err
	}

	h := http.Handler(proxy)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Pool:           pool,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cli.ConcurrencyTimeout,
		ProblemBase:    cli.ProblemBase,
	})(h)
	if cli.RateEnabled {
		h = ratelimit.Middleware(ratelimit.Options{
			Service:              svc,
			KeyHeader:            cli.RateKeyHeader,
			TrustIdentityHeaders: cli.TrustIdentityHeaders,
			TrustedProxies:       trusted,
			RouteFn:              templates.RouteFunc,
			ExcludedPaths:        cli.ExcludedPaths,
			ObserveAuthStatus:    cli.ObserveAuthStatus,
			ProblemBase:          cli.ProblemBase,
			Logger:               logger,
		})(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cli.AdminEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		r.Mount("/admin", ratelimit.AdminHandler(ratelimit.AdminOptions{
			Service: svc,
			Reload:  reload,
			Logger:  logger,
		}))
	}
	r.Handle("/*", h)

	gw.Handler = r
	built = true
	return gw, nil
}

func (gw *gateway) counterStores(ctx context.Context, cli *CLI) (domain.CounterStore, domain.VelocityStore, error) {
	if cli.RedisAddr == "" {
		mem := infra.NewMemoryStore()
		mem.StartJanitor(ctx)
		gw.CounterStore = "memory"
		return mem, infra.NewMemoryVelocityStore(infra.SystemClock{}), nil
	}

	rdb, err := dialRedis(ctx, cli.RedisAddr, cli.RedisPassword, cli.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	gw.closers = append(gw.closers, rdb.Close)
	gw.CounterStore = "redis"
	return infra.NewRedisStore(rdb), infra.NewRedisVelocityStore(rdb, "ratelimit:velocity:"), nil
}

func (gw *gateway) quotaStore(ctx context.Context, cli *CLI) (domain.QuotaStore, error) {
	if cli.QuotaSQLDriver == "" {
		gw.QuotaStore = "memory"
		return infra.NewMemoryQuotaStore(), nil
	}

	db, err := sql.Open(cli.QuotaSQLDriver, cli.QuotaSQLDSN)
	if err != nil {
		return nil, fmt.Errorf("open quota database: %w", err)
	}
	gw.closers = append(gw.closers, db.Close)
	if cli.QuotaSQLDriver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	store, err := infra.NewSQLQuotaStore(initCtx, db, infra.DialectForDriver(cli.QuotaSQLDriver))
	if err != nil {
		return nil, err
	}
	gw.QuotaStore = cli.QuotaSQLDriver
	return store, nil
}

func (gw *gateway) statsStores(ctx context.Context, cli *CLI, reg prometheus.Registerer) (domain.StatsStore, error) {
	prom, err := infra.NewPrometheusStats(reg, "ratelimit")
	if err != nil {
		return nil, err
	}
	stats := infra.MultiStats{prom}
	if !cli.RateStatsEnabled {
		return stats, nil
	}

	rdb, err := dialRedis(ctx, cli.RateStatsRedisAddr, cli.RateStatsRedisPassword, cli.RateStatsRedisDB)
	if err != nil {
		return nil, fmt.Errorf("redis stats: %w", err)
	}
	gw.closers = append(gw.closers, rdb.Close)
	return append(stats, infra.NewRedisStatsStore(
		rdb,
		infra.WithStatsPrefix(cli.RateStatsPrefix),
		infra.WithStatsTTL(cli.RateStatsTTL),
		infra.WithStatsBucket(cli.RateStatsBucket),
		infra.WithStatsTrackKeys(cli.RateStatsTrackKeys),
	)), nil
}

func dialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func trustedProxies(cli *CLI) ([]netip.Prefix, error) {
	list := cli.TrustedProxies
	if cli.TrustXFF {
		list = append(append([]string(nil), list...), privateNetworks...)
	}
	return ratelimit.ParseTrustedProxies(list)
}
