package domain

import (
	"math"
	"strings"
	"time"
)

type Algorithm string

const (
	AlgorithmFixedWindow   Algorithm = "fixed_window"
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmLeakyBucket   Algorithm = "leaky_bucket"
)

// ParseAlgorithm aceita "token_bucket", "tokenbucket", "token-bucket" etc.
func ParseAlgorithm(s string) (Algorithm, bool) {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	switch n {
	case "fixed_window", "fixedwindow":
		return AlgorithmFixedWindow, true
	case "sliding_window", "slidingwindow":
		return AlgorithmSlidingWindow, true
	case "token_bucket", "tokenbucket":
		return AlgorithmTokenBucket, true
	case "leaky_bucket", "leakybucket":
		return AlgorithmLeakyBucket, true
	}
	return "", false
}

// Policy é a RateLimitPolicy: imutável depois do carregamento da configuração.
type Policy struct {
	Name          string
	Algorithm     Algorithm
	Limit         int64
	Window        time.Duration
	BurstCapacity int64
	// RefillRate em tokens por segundo (apenas token bucket).
	RefillRate    float64
	Scope         ScopeKind
	Tier          Tier
	EndpointClass EndpointClass
	FailureMode   FailureMode
}

// Normalize preenche os padrões que não mudam a semântica da política.
func (p Policy) Normalize() Policy {
	if p.FailureMode == "" {
		p.FailureMode = FailOpen
	}
	if p.Scope == "" {
		p.Scope = ScopeIP
	}
	if p.EndpointClass == "" {
		p.EndpointClass = ClassDefault
	}
	if p.Algorithm == AlgorithmTokenBucket && p.BurstCapacity == 0 {
		p.BurstCapacity = p.Limit
	}
	return p
}

// Validate retorna *ConfigurationError para políticas inválidas. Deve ser chamado
// no carregamento, nunca no caminho da requisição.
func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return NewConfigurationError(p.Name, "limit", "must be positive")
	}
	switch p.Algorithm {
	case AlgorithmFixedWindow, AlgorithmSlidingWindow, AlgorithmLeakyBucket:
		if p.Window <= 0 {
			return NewConfigurationError(p.Name, "window", "must be positive")
		}
		if p.BurstCapacity < 0 {
			return NewConfigurationError(p.Name, "burst_capacity", "must not be negative")
		}
	case AlgorithmTokenBucket:
		if p.RefillRate <= 0 || math.IsNaN(p.RefillRate) || math.IsInf(p.RefillRate, 0) {
			return NewConfigurationError(p.Name, "refill_rate", "must be positive")
		}
		if p.BurstCapacity < 1 {
			return NewConfigurationError(p.Name, "burst_capacity", "must be at least 1")
		}
	default:
		return NewConfigurationError(p.Name, "algorithm", "unknown algorithm "+string(p.Algorithm))
	}
	if !p.Scope.Valid() {
		return NewConfigurationError(p.Name, "scope", "unknown scope "+string(p.Scope))
	}
	if p.FailureMode != FailOpen && p.FailureMode != FailClosed {
		return NewConfigurationError(p.Name, "failure_mode", "must be open or closed")
	}
	return nil
}

// Capacity é o teto exposto em X-RateLimit-Limit.
func (p Policy) Capacity() int64 {
	switch p.Algorithm {
	case AlgorithmTokenBucket:
		return p.BurstCapacity
	case AlgorithmLeakyBucket:
		if p.BurstCapacity > 0 {
			return p.BurstCapacity
		}
	}
	return p.Limit
}

// Rate é a vazão sustentada em requisições por segundo; usada para comparar
// políticas (menor = mais restritiva).
func (p Policy) Rate() float64 {
	if p.Algorithm == AlgorithmTokenBucket {
		return p.RefillRate
	}
	if p.Window <= 0 {
		return float64(p.Limit)
	}
	return float64(p.Limit) / p.Window.Seconds()
}

// IdleTTL é quanto tempo o estado de uma chave pode ficar parado antes de expirar.
// Usa o dobro do horizonte do algoritmo, por leniência.
func (p Policy) IdleTTL() time.Duration {
	var horizon time.Duration
	switch p.Algorithm {
	case AlgorithmTokenBucket:
		if p.RefillRate > 0 {
			horizon = time.Duration(float64(p.BurstCapacity) / p.RefillRate * float64(time.Second))
		}
	case AlgorithmLeakyBucket:
		if r := p.Rate(); r > 0 {
			horizon = time.Duration(float64(p.Capacity()) / r * float64(time.Second))
		}
	default:
		horizon = p.Window
	}
	if horizon < time.Second {
		horizon = time.Second
	}
	return 2 * horizon
}

// MostRestrictive devolve a política com menor vazão. Empate fica com a primeira.
func MostRestrictive(policies ...Policy) (Policy, bool) {
	if len(policies) == 0 {
		return Policy{}, false
	}
	best := policies[0]
	for _, p := range policies[1:] {
		if p.Rate() < best.Rate() {
			best = p
		}
	}
	return best, true
}
