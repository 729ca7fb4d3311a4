// Package config carrega a tabela de políticas em YAML, valida e monta os
// componentes do motor. A carga falha com *domain.ConfigurationError; um
// reload inválido é descartado e a tabela anterior continua valendo.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"ratelimit-engine/middleware/ratelimit/application"
	"ratelimit-engine/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

type File struct {
	Defaults []PolicyConfig `yaml:"defaults"`
	Policies []PolicyConfig `yaml:"policies"`
	Quota    QuotaConfig    `yaml:"quota"`
	Adaptive AdaptiveConfig `yaml:"adaptive"`
	Velocity VelocityConfig `yaml:"velocity"`
	Routes   []RouteConfig  `yaml:"routes"`
}

type PolicyConfig struct {
	Name          string        `yaml:"name"`
	Algorithm     string        `yaml:"algorithm"`
	Limit         int64         `yaml:"limit"`
	Window        time.Duration `yaml:"window"`
	Burst         int64         `yaml:"burst"`
	RefillRate    float64       `yaml:"refill_rate"`
	Scope         string        `yaml:"scope"`
	Tier          string        `yaml:"tier"`
	EndpointClass string        `yaml:"endpoint_class"`
	FailureMode   string        `yaml:"failure_mode"`
}

type QuotaConfig struct {
	FailureMode string                      `yaml:"failure_mode"`
	Timeout     time.Duration               `yaml:"timeout"`
	Limits      map[string]map[string]int64 `yaml:"limits"`
}

type AdaptiveConfig struct {
	MinLimit      int64         `yaml:"min_limit"`
	MaxSignalAge  time.Duration `yaml:"max_signal_age"`
	ExemptClasses []string      `yaml:"exempt_classes"`
	Bands         []BandConfig  `yaml:"bands"`
}

type BandConfig struct {
	// Below ausente significa sem teto (última faixa).
	Below  float64 `yaml:"below"`
	Factor float64 `yaml:"factor"`
}

type VelocityConfig struct {
	FreeAttempts     *int          `yaml:"free_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	LockoutThreshold int           `yaml:"lockout_threshold"`
	LockoutDuration  time.Duration `yaml:"lockout_duration"`
	FailureWindow    time.Duration `yaml:"failure_window"`
}

type RouteConfig struct {
	Method    string `yaml:"method"`
	Pattern   string `yaml:"pattern"`
	Class     string `yaml:"class"`
	Sensitive bool   `yaml:"sensitive"`
}

// Bundle é o resultado validado de um File.
type Bundle struct {
	Table        *application.PolicyTable
	QuotaLimits  application.QuotaLimits
	QuotaMode    domain.FailureMode
	QuotaTimeout time.Duration
	LoadOptions  []application.LoadOption
	Velocity     application.VelocityConfig
	Routes       *application.RouteClassifier

	// RoutePatterns são os templates declarados em routes, na ordem do arquivo.
	RoutePatterns []string
}

// Parse decodifica YAML rejeitando campos desconhecidos.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.NewConfigurationError("", "file", "is empty")
		}
		return nil, &domain.ConfigurationError{Field: "file", Reason: err.Error()}
	}
	return &f, nil
}

// Load lê, decodifica e valida o arquivo.
func Load(path string) (*Bundle, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	f, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return f.Build()
}

func (p PolicyConfig) toDomain() (domain.Policy, error) {
	alg, ok := domain.ParseAlgorithm(p.Algorithm)
	if !ok {
		return domain.Policy{}, domain.NewConfigurationError(p.Name, "algorithm", fmt.Sprintf("unknown algorithm %q", p.Algorithm))
	}
	tier := domain.ParseTier(p.Tier)
	if p.Tier != "" && tier == domain.TierAnonymous {
		return domain.Policy{}, domain.NewConfigurationError(p.Name, "tier", fmt.Sprintf("unknown tier %q", p.Tier))
	}
	return domain.Policy{
		Name:          p.Name,
		Algorithm:     alg,
		Limit:         p.Limit,
		Window:        p.Window,
		BurstCapacity: p.Burst,
		RefillRate:    p.RefillRate,
		Scope:         domain.ScopeKind(p.Scope),
		Tier:          tier,
		EndpointClass: domain.EndpointClass(p.EndpointClass),
		FailureMode:   domain.FailureMode(p.FailureMode),
	}, nil
}

func toPolicies(in []PolicyConfig) ([]domain.Policy, error) {
	out := make([]domain.Policy, 0, len(in))
	for i, pc := range in {
		if pc.Name == "" {
			pc.Name = fmt.Sprintf("#%d", i)
		}
		p, err := pc.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Build valida tudo e monta o Bundle.
func (f *File) Build() (*Bundle, error) {
	policies, err := toPolicies(f.Policies)
	if err != nil {
		return nil, err
	}
	defaults, err := toPolicies(f.Defaults)
	if err != nil {
		return nil, err
	}
	table, err := application.NewPolicyTable(policies, defaults)
	if err != nil {
		return nil, err
	}

	b := &Bundle{Table: table, QuotaTimeout: f.Quota.Timeout}

	if b.QuotaMode, err = parseFailureMode("quota", f.Quota.FailureMode); err != nil {
		return nil, err
	}
	b.QuotaLimits = application.QuotaLimits{}
	for tierName, periods := range f.Quota.Limits {
		tier := domain.ParseTier(tierName)
		if tier == domain.TierAnonymous && tierName != "anonymous" {
			return nil, domain.NewConfigurationError("quota", "limits", fmt.Sprintf("unknown tier %q", tierName))
		}
		m := make(map[domain.QuotaPeriod]int64, len(periods))
		for period, n := range periods {
			m[domain.QuotaPeriod(period)] = n
		}
		b.QuotaLimits[tier] = m
	}
	if err := b.QuotaLimits.Validate(); err != nil {
		return nil, err
	}

	if b.LoadOptions, err = f.Adaptive.options(); err != nil {
		return nil, err
	}

	b.Velocity = f.Velocity.merge(application.DefaultVelocityConfig())
	if err := b.Velocity.Validate(); err != nil {
		return nil, err
	}

	rules := make([]application.RouteRule, 0, len(f.Routes))
	for _, r := range f.Routes {
		rules = append(rules, application.RouteRule{
			Method:    r.Method,
			Pattern:   r.Pattern,
			Class:     domain.EndpointClass(r.Class),
			Sensitive: r.Sensitive,
		})
		b.RoutePatterns = append(b.RoutePatterns, r.Pattern)
	}
	if b.Routes, err = application.NewRouteClassifier(rules); err != nil {
		return nil, err
	}
	return b, nil
}

func parseFailureMode(where, s string) (domain.FailureMode, error) {
	switch domain.FailureMode(s) {
	case "":
		return domain.FailOpen, nil
	case domain.FailOpen, domain.FailClosed:
		return domain.FailureMode(s), nil
	}
	return "", domain.NewConfigurationError(where, "failure_mode", fmt.Sprintf("must be open or closed, got %q", s))
}

func (a AdaptiveConfig) options() ([]application.LoadOption, error) {
	var opts []application.LoadOption
	if a.MinLimit < 0 {
		return nil, domain.NewConfigurationError("adaptive", "min_limit", "must not be negative")
	}
	if a.MinLimit > 0 {
		opts = append(opts, application.WithMinLimit(a.MinLimit))
	}
	if a.MaxSignalAge > 0 {
		opts = append(opts, application.WithMaxSignalAge(a.MaxSignalAge))
	}
	if a.ExemptClasses != nil {
		classes := make([]domain.EndpointClass, 0, len(a.ExemptClasses))
		for _, c := range a.ExemptClasses {
			classes = append(classes, domain.EndpointClass(c))
		}
		opts = append(opts, application.WithExemptClasses(classes...))
	}
	if len(a.Bands) > 0 {
		bands := make([]application.LoadBand, 0, len(a.Bands))
		for _, bc := range a.Bands {
			if bc.Factor <= 0 || bc.Factor > 1 {
				return nil, domain.NewConfigurationError("adaptive", "bands", fmt.Sprintf("factor %v outside (0, 1]", bc.Factor))
			}
			below := bc.Below
			if below <= 0 {
				below = math.Inf(1)
			}
			bands = append(bands, application.LoadBand{Below: below, Factor: bc.Factor})
		}
		opts = append(opts, application.WithLoadBands(bands))
	}
	return opts, nil
}

func (v VelocityConfig) merge(def application.VelocityConfig) application.VelocityConfig {
	out := def
	if v.FreeAttempts != nil {
		out.FreeAttempts = *v.FreeAttempts
	}
	if v.BaseDelay > 0 {
		out.BaseDelay = v.BaseDelay
	}
	if v.MaxDelay > 0 {
		out.MaxDelay = v.MaxDelay
	}
	if v.LockoutThreshold > 0 {
		out.LockoutThreshold = v.LockoutThreshold
	}
	if v.LockoutDuration > 0 {
		out.LockoutDuration = v.LockoutDuration
	}
	if v.FailureWindow > 0 {
		out.FailureWindow = v.FailureWindow
	}
	return out
}

// Apply troca tabela, limites de cota e rotas de um Service já montado.
// Bandas adaptativas e a progressão da guarda só mudam com restart.
func (b *Bundle) Apply(svc *application.Service) {
	svc.Policies().Reload(b.Table)
	if q := svc.QuotaTracker(); q != nil {
		q.SetLimits(b.QuotaLimits)
	}
	svc.SetRoutes(b.Routes)
}

// QuotaOptions devolve as opções do QuotaTracker descritas no arquivo.
func (b *Bundle) QuotaOptions() []application.QuotaOption {
	opts := []application.QuotaOption{application.WithQuotaFailureMode(b.QuotaMode)}
	if b.QuotaTimeout > 0 {
		opts = append(opts, application.WithQuotaTimeout(b.QuotaTimeout))
	}
	return opts
}
