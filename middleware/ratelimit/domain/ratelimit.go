package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"strings"
	"time"
)

// Key é a ScopeKey: identidade + endpoint, usada como chave no CounterStore.
// Ex.: "user:123|POST:/orders".
type Key string

type ScopeKind string

const (
	ScopeIP        ScopeKind = "ip"
	ScopeUser      ScopeKind = "user"
	ScopeAPIKey    ScopeKind = "api_key"
	ScopeEndpoint  ScopeKind = "endpoint"
	ScopeComposite ScopeKind = "composite"
)

// Valid informa se o escopo é conhecido.
func (k ScopeKind) Valid() bool {
	switch k {
	case ScopeIP, ScopeUser, ScopeAPIKey, ScopeEndpoint, ScopeComposite:
		return true
	}
	return false
}

type Tier string

const (
	TierAnonymous    Tier = ""
	TierFree         Tier = "free"
	TierStandard     Tier = "standard"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// ParseTier normaliza o nome do plano. Valores desconhecidos viram TierAnonymous,
// que cai nas políticas padrão (as mais restritivas).
func ParseTier(s string) Tier {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierFree, TierStandard, TierProfessional, TierEnterprise:
		return t
	}
	return TierAnonymous
}

// EndpointClass agrupa rotas com o mesmo perfil de custo (read, write, auth, health...).
type EndpointClass string

const (
	ClassDefault EndpointClass = "default"
	ClassRead    EndpointClass = "read"
	ClassWrite   EndpointClass = "write"
	ClassAuth    EndpointClass = "auth"
	ClassHealth  EndpointClass = "health"
)

// FailureMode define o comportamento quando o store está indisponível.
type FailureMode string

const (
	FailOpen   FailureMode = "open"
	FailClosed FailureMode = "closed"
)

var keyEscaper = strings.NewReplacer("%", "%25", "|", "%7C")

// NewKey monta uma ScopeKey determinística. '%' e '|' são escapados em cada
// componente, então identidades arbitrárias não colidem com outras chaves.
func NewKey(kind ScopeKind, value, method, route string) Key {
	var b strings.Builder
	b.Grow(len(kind) + len(value) + len(method) + len(route) + 3)
	b.WriteString(string(kind))
	b.WriteByte(':')
	b.WriteString(keyEscaper.Replace(value))
	b.WriteByte('|')
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(':')
	b.WriteString(keyEscaper.Replace(route))
	return Key(b.String())
}

// RejectReason indica qual componente barrou a requisição.
type RejectReason string

const (
	ReasonNone             RejectReason = ""
	ReasonRateLimited      RejectReason = "rate_limited"
	ReasonQuotaExceeded    RejectReason = "quota_exceeded"
	ReasonLockedOut        RejectReason = "locked_out"
	ReasonStoreUnavailable RejectReason = "store_unavailable"
)

// Decision é o resultado combinado de todos os escopos, cota e guarda de velocidade.
type Decision struct {
	Allowed bool
	Reason  RejectReason
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration

	// RateLimit é o veredito mais restritivo entre os escopos (nil se nenhum escopo rodou).
	RateLimit *Verdict
	Scopes    []Verdict
	Quota     *QuotaVerdict
	Guard     *GuardVerdict

	// Adjusted indica que o controlador de carga reduziu o limite efetivo.
	Adjusted    bool
	NormalLimit int64

	// Degraded indica que algum escopo foi liberado por falha do store (fail-open).
	Degraded bool
}
