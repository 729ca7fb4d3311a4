package application

import (
	"math"
	"sort"
	"sync"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"
)

// LoadBand aplica Factor quando a carga é menor que Below.
type LoadBand struct {
	Below  float64
	Factor float64
}

// DefaultLoadBands: <60% -> 100%, <80% -> 75%, <90% -> 50%, senão 10%.
func DefaultLoadBands() []LoadBand {
	return []LoadBand{
		{Below: 0.60, Factor: 1.0},
		{Below: 0.80, Factor: 0.75},
		{Below: 0.90, Factor: 0.50},
		{Below: math.Inf(1), Factor: 0.10},
	}
}

// LoadController reduz limites efetivos conforme um sinal de carga externo
// (0.0 a 1.0). A política armazenada nunca é alterada; o ajuste é recalculado a
// cada requisição.
type LoadController struct {
	mu       sync.RWMutex
	signal   float64
	signalAt time.Time

	bands    []LoadBand
	minLimit int64
	exempt   map[domain.EndpointClass]bool
	maxAge   time.Duration
	clock    domain.Clock
}

type LoadOption func(*LoadController)

func WithLoadBands(bands []LoadBand) LoadOption {
	return func(c *LoadController) {
		if len(bands) == 0 {
			return
		}
		b := append([]LoadBand(nil), bands...)
		sort.Slice(b, func(i, j int) bool { return b[i].Below < b[j].Below })
		c.bands = b
	}
}

// WithMinLimit define o piso do limite ajustado.
func WithMinLimit(n int64) LoadOption {
	return func(c *LoadController) {
		if n > 0 {
			c.minLimit = n
		}
	}
}

// WithExemptClasses marca classes nunca ajustadas (prioridade crítica).
func WithExemptClasses(classes ...domain.EndpointClass) LoadOption {
	return func(c *LoadController) {
		c.exempt = make(map[domain.EndpointClass]bool, len(classes))
		for _, cl := range classes {
			c.exempt[cl] = true
		}
	}
}

// WithMaxSignalAge ignora sinais mais velhos que d. 0 desliga.
func WithMaxSignalAge(d time.Duration) LoadOption {
	return func(c *LoadController) { c.maxAge = d }
}

func WithLoadClock(clock domain.Clock) LoadOption {
	return func(c *LoadController) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func NewLoadController(opts ...LoadOption) *LoadController {
	c := &LoadController{
		bands:    DefaultLoadBands(),
		minLimit: 1,
		exempt:   map[domain.EndpointClass]bool{domain.ClassHealth: true, domain.ClassAuth: true},
		maxAge:   time.Minute,
		clock:    domain.ClockFunc(time.Now),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetLoad registra o sinal de carga, limitado a [0, 1].
func (c *LoadController) SetLoad(v float64) {
	if math.IsNaN(v) {
		return
	}
	v = math.Max(0, math.Min(1, v))
	now := c.clock.Now()

	c.mu.Lock()
	c.signal = v
	c.signalAt = now
	c.mu.Unlock()
}

// Load devolve o último sinal e se ele ainda vale.
func (c *LoadController) Load() (float64, bool) {
	c.mu.RLock()
	v, at := c.signal, c.signalAt
	c.mu.RUnlock()

	if at.IsZero() {
		return 0, false
	}
	if c.maxAge > 0 && c.clock.Now().Sub(at) > c.maxAge {
		return v, false
	}
	return v, true
}

// Factor é o multiplicador da banda atual (1 sem sinal válido).
func (c *LoadController) Factor() float64 {
	v, ok := c.Load()
	if !ok {
		return 1
	}
	for _, b := range c.bands {
		if v < b.Below {
			return b.Factor
		}
	}
	return c.bands[len(c.bands)-1].Factor
}

// Adjust devolve a política efetiva e se ela foi reduzida.
func (c *LoadController) Adjust(p domain.Policy) (domain.Policy, bool) {
	if c == nil || c.exempt[p.EndpointClass] {
		return p, false
	}
	f := c.Factor()
	if f >= 1 {
		return p, false
	}

	out := p
	out.Limit = c.scale(p.Limit, f)
	if p.BurstCapacity > 0 {
		out.BurstCapacity = c.scale(p.BurstCapacity, f)
	}
	if p.RefillRate > 0 {
		out.RefillRate = p.RefillRate * f
	}
	adjusted := out.Limit != p.Limit || out.BurstCapacity != p.BurstCapacity || out.RefillRate != p.RefillRate
	return out, adjusted
}

// scale aplica o fator respeitando o piso, sem nunca passar do original.
func (c *LoadController) scale(n int64, f float64) int64 {
	s := int64(math.Floor(float64(n) * f))
	if s < c.minLimit {
		s = c.minLimit
	}
	if s > n {
		s = n
	}
	return s
}
