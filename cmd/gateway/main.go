// Command gateway é um reverse proxy com rate limit, cota e guarda de força
// bruta na frente de um upstream.
//
// Toda flag tem variável de ambiente equivalente; um .env no diretório atual
// é carregado antes do parse.
//
//	UPSTREAM_URL=http://localhost:9000 POLICY_FILE=configs/policies.yaml gateway
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ratelimit-engine/internal/logging"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type CLI struct {
	ListenAddr  string `name:"listen-addr" env:"LISTEN_ADDR" default:":8080" help:"Address to listen on."`
	UpstreamURL string `name:"upstream-url" env:"UPSTREAM_URL" required:"" help:"Upstream base URL."`

	PolicyFile  string `name:"policy-file" env:"POLICY_FILE" default:"configs/policies.yaml" type:"path" help:"YAML policy table."`
	PolicyWatch bool   `name:"policy-watch" env:"POLICY_WATCH" default:"true" negatable:"" help:"Reload the policy table when the file changes."`

	RateEnabled          bool          `name:"rate-enabled" env:"RATE_ENABLED" default:"true" negatable:"" help:"Enable the rate limit middleware."`
	RateKeyHeader        string        `name:"rate-key-header" env:"RATE_KEY_HEADER" default:"X-API-Key" help:"Header carrying the API key (empty disables)."`
	TrustXFF             bool          `name:"trust-xff" env:"TRUST_XFF" help:"Trust X-Forwarded-For from loopback and private networks."`
	TrustedProxies       []string      `name:"trusted-proxies" env:"TRUSTED_PROXIES" help:"CIDRs whose X-Forwarded-For is honoured."`
	TrustIdentityHeaders bool          `name:"trust-identity-headers" env:"TRUST_IDENTITY_HEADERS" help:"Accept X-User-ID/X-User-Tier set by an upstream auth proxy."`
	ExcludedPaths        []string      `name:"excluded-paths" env:"RATE_EXCLUDED_PATHS" default:"/healthz" help:"Paths that bypass the engine."`
	StoreTimeout         time.Duration `name:"store-timeout" env:"RATE_STORE_TIMEOUT" default:"25ms" help:"Budget for each counter store call."`
	ObserveAuthStatus    bool          `name:"observe-auth-status" env:"OBSERVE_AUTH_STATUS" default:"true" negatable:"" help:"Count upstream 401/403 on sensitive routes as failed attempts."`
	ProblemBase          string        `name:"problem-base" env:"PROBLEM_BASE_URL" default:"/problems" help:"Prefix of problem+json type URIs."`

	ConcurrencyMax     int           `name:"concurrency-max" env:"CONCURRENCY_MAX" default:"100" help:"Max in-flight requests (0 disables)."`
	ConcurrencyTimeout time.Duration `name:"concurrency-timeout" env:"CONCURRENCY_TIMEOUT" default:"0s" help:"How long to wait for a slot."`
	LoadProbeInterval  time.Duration `name:"load-probe-interval" env:"LOAD_PROBE_INTERVAL" default:"5s" help:"How often slot utilisation feeds the adaptive controller (0 disables)."`

	RedisAddr     string `name:"redis-addr" env:"REDIS_ADDR" help:"Redis for counters and velocity state (empty = in memory)."`
	RedisPassword string `name:"redis-password" env:"REDIS_PASSWORD"`
	RedisDB       int    `name:"redis-db" env:"REDIS_DB" default:"0"`

	QuotaSQLDriver string `name:"quota-sql-driver" env:"QUOTA_SQL_DRIVER" help:"database/sql driver for quotas (empty = in memory)."`
	QuotaSQLDSN    string `name:"quota-sql-dsn" env:"QUOTA_SQL_DSN" help:"DSN for the quota database."`

	RateStatsEnabled       bool          `name:"rate-stats-enabled" env:"RATE_STATS_ENABLED" help:"Stream decision stats to Redis."`
	RateStatsRedisAddr     string        `name:"rate-stats-redis-addr" env:"RATE_STATS_REDIS_ADDR"`
	RateStatsRedisPassword string        `name:"rate-stats-redis-password" env:"RATE_STATS_REDIS_PASSWORD"`
	RateStatsRedisDB       int           `name:"rate-stats-redis-db" env:"RATE_STATS_REDIS_DB" default:"0"`
	RateStatsPrefix        string        `name:"rate-stats-prefix" env:"RATE_STATS_PREFIX" default:"ratelimit:stats"`
	RateStatsTTL           time.Duration `name:"rate-stats-ttl" env:"RATE_STATS_TTL" default:"24h"`
	RateStatsBucket        string        `name:"rate-stats-bucket" env:"RATE_STATS_BUCKET" enum:"minute,none" default:"minute"`
	RateStatsTrackKeys     bool          `name:"rate-stats-track-keys" env:"RATE_STATS_TRACK_KEYS"`

	KafkaBrokers       []string `name:"kafka-brokers" env:"KAFKA_BROKERS" help:"Brokers for lockout security events (empty = log only)."`
	KafkaSecurityTopic string   `name:"kafka-security-topic" env:"KAFKA_SECURITY_TOPIC" default:"ratelimit.security-events"`

	AdminEnabled bool `name:"admin-enabled" env:"ADMIN_ENABLED" default:"true" negatable:"" help:"Mount /admin and /metrics."`

	Env       string `name:"env" env:"APP_ENV" default:"production" help:"Environment (development, production)."`
	LogLevel  string `name:"log-level" env:"LOG_LEVEL" default:"info" help:"Log level (debug, info, warn, error)."`
	LogFormat string `name:"log-format" env:"LOG_FORMAT" default:"json" help:"Log format (json, console)."`
}

func (c *CLI) Validate() error {
	if c.RateStatsEnabled && c.RateStatsRedisAddr == "" {
		return errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	switch c.QuotaSQLDriver {
	case "", "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("QUOTA_SQL_DRIVER must be sqlite3, postgres or mysql, got %q", c.QuotaSQLDriver)
	}
	if c.QuotaSQLDriver != "" && c.QuotaSQLDSN == "" {
		return errors.New("QUOTA_SQL_DSN is required when QUOTA_SQL_DRIVER is set")
	}
	if c.ConcurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("RATE_STORE_TIMEOUT must be > 0")
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("gateway"),
		kong.Description("Rate limiting and quota enforcement gateway."),
		kong.UsageOnError(),
	)

	logger, err := logging.New(cli.Env, cli.LogLevel, cli.LogFormat)
	kctx.FatalIfErrorf(err)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, &cli, logger); err != nil {
		logger.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cli *CLI, logger *zap.Logger) error {
	gw, err := build(ctx, cli, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	srv := &http.Server{
		Addr:              cli.ListenAddr,
		Handler:           gw.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		zap.String("addr", cli.ListenAddr),
		zap.String("upstream", cli.UpstreamURL),
		zap.String("policy_file", cli.PolicyFile),
		zap.Int("policies", gw.Policies),
		zap.String("counter_store", gw.CounterStore),
		zap.String("quota_store", gw.QuotaStore),
		zap.Bool("rate_enabled", cli.RateEnabled),
		zap.Int("concurrency_max", cli.ConcurrencyMax),
		zap.Duration("concurrency_timeout", cli.ConcurrencyTimeout),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
