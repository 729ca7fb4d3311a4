package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ratelimit-engine/middleware/ratelimit/application"
	"ratelimit-engine/middleware/ratelimit/domain"
	"ratelimit-engine/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const minimal = `
defaults:
  - name: base
    algorithm: fixed_window
    scope: ip
    limit: 10
    window: 1m
`

func parse(t *testing.T, doc string) (*Bundle, error) {
	t.Helper()
	f, err := Parse(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	return f.Build()
}

func configErrField(t *testing.T, err error) string {
	t.Helper()
	var ce *domain.ConfigurationError
	require.ErrorAs(t, err, &ce)
	return ce.Field
}

func TestLoadSampleFile(t *testing.T) {
	b, err := Load(filepath.Join("..", "..", "..", "configs", "policies.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 11, b.Table.Len())
	assert.Equal(t, []string{"/login", "/password-reset", "/healthz", "/orders/*"}, b.RoutePatterns)
	assert.Equal(t, int64(1000), b.QuotaLimits[domain.TierFree][domain.PeriodDaily])
	assert.Equal(t, int64(2000000), b.QuotaLimits[domain.TierProfessional][domain.PeriodMonthly])
	assert.Equal(t, domain.FailOpen, b.QuotaMode)
	assert.Equal(t, 100*time.Millisecond, b.QuotaTimeout)
	assert.Equal(t, application.DefaultVelocityConfig(), b.Velocity)

	r := application.NewPolicyResolver(b.Table)
	assert.Equal(t, "free-read", r.Resolve(domain.ScopeUser, domain.TierFree, domain.ClassRead).Name)
	assert.Equal(t, "professional-default", r.Resolve(domain.ScopeUser, domain.TierProfessional, domain.ClassWrite).Name)
	assert.Equal(t, "default-ip", r.Resolve(domain.ScopeIP, domain.TierAnonymous, domain.ClassRead).Name)

	// par não configurado recebe o padrão mais restritivo
	unconfigured := r.Resolve(domain.ScopeUser, domain.TierEnterprise, domain.ClassWrite)
	assert.Equal(t, "default-ip", unconfigured.Name)
	assert.Equal(t, domain.ScopeUser, unconfigured.Scope)

	// o teto por IP de usuários autenticados fica acima do teto por usuário
	for _, tier := range []domain.Tier{domain.TierFree, domain.TierStandard, domain.TierProfessional} {
		for _, class := range []domain.EndpointClass{domain.ClassRead, domain.ClassWrite} {
			ip := r.Resolve(domain.ScopeIP, tier, class)
			user := r.Resolve(domain.ScopeUser, tier, class)
			assert.Greater(t, ip.Rate(), user.Rate(), "%s/%s: ip %s vs user %s", tier, class, ip.Name, user.Name)
		}
	}
	assert.Greater(t, r.Resolve(domain.ScopeIP, domain.TierEnterprise, domain.ClassRead).Rate(),
		r.Resolve(domain.ScopeAPIKey, domain.TierEnterprise, domain.ClassRead).Rate())
	assert.Equal(t, []domain.ScopeKind{domain.ScopeEndpoint}, r.Explicit())

	auth := r.Resolve(domain.ScopeIP, domain.TierAnonymous, domain.ClassAuth)
	assert.Equal(t, domain.FailClosed, auth.FailureMode)

	class, sensitive := b.Routes.Classify("POST", "/login")
	assert.Equal(t, domain.ClassAuth, class)
	assert.True(t, sensitive)
	class, _ = b.Routes.Classify("POST", "/orders/42")
	assert.Equal(t, domain.ClassWrite, class)
	class, _ = b.Routes.Classify("GET", "/healthz")
	assert.Equal(t, domain.ClassHealth, class)

	ctrl := application.NewLoadController(b.LoadOptions...)
	ctrl.SetLoad(0.85)
	assert.InDelta(t, 0.5, ctrl.Factor(), 1e-9)
	ctrl.SetLoad(0.99)
	assert.InDelta(t, 0.1, ctrl.Factor(), 1e-9)
}

func TestParseMinimal(t *testing.T) {
	b, err := parse(t, minimal)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Table.Len())
	assert.Empty(t, b.QuotaLimits)
	assert.Len(t, b.QuotaOptions(), 1)

	p := application.NewPolicyResolver(b.Table).Resolve(domain.ScopeUser, domain.TierFree, domain.ClassRead)
	assert.Equal(t, "base", p.Name)
	assert.Equal(t, domain.ScopeUser, p.Scope)
}

func TestParseRejectsInvalidTables(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		field string
	}{
		{"empty file", ``, "file"},
		{"unknown field", minimal + "\nlimits: 3\n", "file"},
		{"unknown algorithm", `
policies:
  - {name: a, algorithm: gcra, limit: 1, window: 1s}
`, "algorithm"},
		{"zero limit", `
policies:
  - {name: a, algorithm: fixed_window, limit: 0, window: 1s}
`, "limit"},
		{"zero window", `
policies:
  - {name: a, algorithm: sliding_window, limit: 5}
`, "window"},
		{"unknown tier", `
policies:
  - {name: a, algorithm: fixed_window, limit: 5, window: 1s, tier: gold}
`, "tier"},
		{"duplicate key", `
policies:
  - {name: a, algorithm: fixed_window, limit: 5, window: 1s, tier: free}
  - {name: b, algorithm: fixed_window, limit: 9, window: 1s, tier: free}
`, "key"},
		{"no policies", `quota: {failure_mode: open}`, "policies"},
		{"bad quota mode", minimal + "quota: {failure_mode: maybe}\n", "failure_mode"},
		{"bad quota period", minimal + "quota: {limits: {free: {weekly: 10}}}\n", "period"},
		{"negative quota", minimal + "quota: {limits: {free: {daily: -1}}}\n", "limit"},
		{"bad band", minimal + "adaptive: {bands: [{below: 0.5, factor: 1.5}]}\n", "bands"},
		{"bad route", minimal + "routes: [{pattern: login}]\n", "pattern"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parse(t, tc.doc)
			require.Error(t, err)
			assert.True(t, domain.IsConfigurationError(err), "got %v", err)
			assert.Equal(t, tc.field, configErrField(t, err))
		})
	}
}

func TestVelocityOverrides(t *testing.T) {
	b, err := parse(t, minimal+`
velocity:
  free_attempts: 0
  lockout_threshold: 5
  lockout_duration: 1h
`)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Velocity.FreeAttempts)
	assert.Equal(t, 5, b.Velocity.LockoutThreshold)
	assert.Equal(t, time.Hour, b.Velocity.LockoutDuration)
	assert.Equal(t, time.Second, b.Velocity.BaseDelay)
}

func TestApplySwapsTable(t *testing.T) {
	first, err := parse(t, minimal)
	require.NoError(t, err)

	tracker := application.NewQuotaTracker(infra.NewMemoryQuotaStore(), first.QuotaLimits)
	svc := application.NewService(infra.NewMemoryStore(), application.NewPolicyResolver(first.Table),
		application.WithQuotaTracker(tracker))

	second, err := parse(t, `
defaults:
  - {name: tighter, algorithm: fixed_window, scope: ip, limit: 2, window: 1m}
quota:
  limits:
    free: {daily: 1}
routes:
  - {method: POST, pattern: /signin, class: auth, sensitive: true}
`)
	require.NoError(t, err)
	second.Apply(svc)

	assert.Equal(t, "tighter", svc.Policies().Resolve(domain.ScopeIP, domain.TierAnonymous, domain.ClassRead).Name)
	class, sensitive := svc.Classify("POST", "/signin")
	assert.Equal(t, domain.ClassAuth, class)
	assert.True(t, sensitive)

	ctx := context.Background()
	v, err := tracker.CheckAndConsume(ctx, "user:1", domain.TierFree, domain.PeriodDaily)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	v, err = tracker.CheckAndConsume(ctx, "user:1", domain.TierFree, domain.PeriodDaily)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))

	got := make(chan *Bundle, 4)
	w, err := NewWatcher(path, zaptest.NewLogger(t), func(b *Bundle) { got <- b })
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// arquivo inválido: nenhum callback
	require.NoError(t, os.WriteFile(path, []byte("policies: [}"), 0o644))
	select {
	case <-got:
		t.Fatal("invalid file must not be applied")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(minimal, "limit: 10", "limit: 3", 1)), 0o644))
	select {
	case b := <-got:
		p := application.NewPolicyResolver(b.Table).Default(domain.ScopeIP)
		assert.Equal(t, int64(3), p.Limit)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
}
