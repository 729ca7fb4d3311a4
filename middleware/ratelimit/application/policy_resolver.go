package application

import (
	"slices"
	"sync/atomic"

	"ratelimit-engine/middleware/ratelimit/domain"
)

// PolicyKey indexa a tabela de políticas.
type PolicyKey struct {
	Tier  domain.Tier
	Class domain.EndpointClass
	Scope domain.ScopeKind
}

// PolicyTable é imutável depois de construída; um reload cria outra tabela.
type PolicyTable struct {
	policies map[PolicyKey]domain.Policy
	fallback domain.Policy
	explicit []domain.ScopeKind
}

// NewPolicyTable normaliza e valida todas as políticas. A mais restritiva entre
// defaults (ou, sem defaults, entre todas as políticas) vira o padrão de
// qualquer par (tier, classe) não configurado.
func NewPolicyTable(policies, defaults []domain.Policy) (*PolicyTable, error) {
	t := &PolicyTable{
		policies: make(map[PolicyKey]domain.Policy, len(policies)),
	}

	for _, p := range policies {
		p = p.Normalize()
		if err := p.Validate(); err != nil {
			return nil, err
		}
		k := PolicyKey{Tier: p.Tier, Class: p.EndpointClass, Scope: p.Scope}
		if _, dup := t.policies[k]; dup {
			return nil, domain.NewConfigurationError(p.Name, "key", "duplicate (tier, endpoint class, scope)")
		}
		t.policies[k] = p
		if (p.Scope == domain.ScopeEndpoint || p.Scope == domain.ScopeComposite) && !slices.Contains(t.explicit, p.Scope) {
			t.explicit = append(t.explicit, p.Scope)
		}
	}

	normalized := make([]domain.Policy, 0, len(defaults))
	for _, p := range defaults {
		p = p.Normalize()
		if err := p.Validate(); err != nil {
			return nil, err
		}
		normalized = append(normalized, p)
	}
	if len(normalized) == 0 {
		for _, p := range t.policies {
			normalized = append(normalized, p)
		}
	}
	fallback, ok := domain.MostRestrictive(normalized...)
	if !ok {
		return nil, domain.NewConfigurationError("", "policies", "at least one policy or default is required")
	}
	t.fallback = fallback
	slices.Sort(t.explicit)
	return t, nil
}

// Len é o número de políticas explícitas (sem contar os padrões).
func (t *PolicyTable) Len() int { return len(t.policies) }

// lookup procura, nesta ordem: (tier, classe), (sem tier, classe),
// (tier, default), (sem tier, default). Política sem tier vale para todos.
func (t *PolicyTable) lookup(scope domain.ScopeKind, tier domain.Tier, class domain.EndpointClass) (domain.Policy, bool) {
	keys := [...]PolicyKey{
		{Tier: tier, Class: class, Scope: scope},
		{Tier: domain.TierAnonymous, Class: class, Scope: scope},
		{Tier: tier, Class: domain.ClassDefault, Scope: scope},
		{Tier: domain.TierAnonymous, Class: domain.ClassDefault, Scope: scope},
	}
	for _, k := range keys {
		if p, ok := t.policies[k]; ok {
			return p, true
		}
	}
	return domain.Policy{}, false
}

func (t *PolicyTable) resolve(scope domain.ScopeKind, tier domain.Tier, class domain.EndpointClass) domain.Policy {
	if p, ok := t.lookup(scope, tier, class); ok {
		return p
	}
	p := t.fallback
	p.Scope = scope
	return p
}

// PolicyResolver é o lookup (escopo, tier, classe) -> política. Leitura sem lock;
// Reload troca a tabela de forma atômica.
type PolicyResolver struct {
	table atomic.Pointer[PolicyTable]
}

func NewPolicyResolver(t *PolicyTable) *PolicyResolver {
	r := &PolicyResolver{}
	r.table.Store(t)
	return r
}

// Resolve nunca falha: par (tier, classe) desconhecido recebe a política
// padrão mais restritiva.
func (r *PolicyResolver) Resolve(scope domain.ScopeKind, tier domain.Tier, class domain.EndpointClass) domain.Policy {
	return r.table.Load().resolve(scope, tier, class)
}

// Lookup só devolve políticas configuradas. Escopos opcionais (endpoint,
// composite) sem política não se aplicam à requisição.
func (r *PolicyResolver) Lookup(scope domain.ScopeKind, tier domain.Tier, class domain.EndpointClass) (domain.Policy, bool) {
	return r.table.Load().lookup(scope, tier, class)
}

// Default é a política mais restritiva, usada para identidades ambíguas.
func (r *PolicyResolver) Default(scope domain.ScopeKind) domain.Policy {
	p := r.table.Load().fallback
	p.Scope = scope
	return p
}

// Explicit lista os escopos opcionais (endpoint, composite) que a tabela configura.
func (r *PolicyResolver) Explicit() []domain.ScopeKind {
	return r.table.Load().explicit
}

func (r *PolicyResolver) Reload(t *PolicyTable) {
	if t != nil {
		r.table.Store(t)
	}
}
