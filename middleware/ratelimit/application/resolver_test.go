package application

import (
	"testing"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveScopes(t *testing.T) {
	cases := []struct {
		name string
		id   domain.Identity
		want []domain.Key
	}{
		{
			"user and ip",
			domain.Identity{UserID: "123", APIKey: "k", ClientIP: "1.2.3.4", Method: "POST", Route: "/orders"},
			[]domain.Key{"user:123|POST:/orders", "ip:1.2.3.4|POST:/orders"},
		},
		{
			"api key and ip",
			domain.Identity{APIKey: "k", ClientIP: "1.2.3.4", Method: "GET", Route: "/orders"},
			[]domain.Key{"api_key:k|GET:/orders", "ip:1.2.3.4|GET:/orders"},
		},
		{
			"anonymous",
			domain.Identity{ClientIP: "1.2.3.4", Method: "GET", Route: "/"},
			[]domain.Key{"ip:1.2.3.4|GET:/"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got []domain.Key
			for _, s := range ResolveScopes(tc.id, nil) {
				got = append(got, s.Key)
				assert.False(t, s.Fallback)
			}
			assert.Equal(t, tc.want, got)
		})
	}

	scopes := ResolveScopes(domain.Identity{Method: "GET", Route: "/x"},
		[]domain.ScopeKind{domain.ScopeComposite, domain.ScopeEndpoint})
	require.Len(t, scopes, 3)
	assert.True(t, scopes[0].Fallback)
	assert.Equal(t, domain.Key("composite:anonymous@unknown|GET:/x"), scopes[1].Key)
	assert.Equal(t, domain.Key("endpoint:*|GET:/x"), scopes[2].Key)
}

func TestPolicyResolver_LookupFallbackAndReload(t *testing.T) {
	pro := fw("pro-write-user", domain.ScopeUser, 500)
	pro.Tier = domain.TierProfessional
	pro.EndpointClass = domain.ClassWrite
	freeDefault := fw("free-user", domain.ScopeUser, 50)
	freeDefault.Tier = domain.TierFree

	table := mustTable(t,
		[]domain.Policy{pro, freeDefault},
		[]domain.Policy{fw("default-user", domain.ScopeUser, 20), fw("default-ip", domain.ScopeIP, 60)})
	r := NewPolicyResolver(table)

	assert.Equal(t, "pro-write-user", r.Resolve(domain.ScopeUser, domain.TierProfessional, domain.ClassWrite).Name)
	assert.Equal(t, "free-user", r.Resolve(domain.ScopeUser, domain.TierFree, domain.ClassRead).Name)
	assert.Equal(t, "default-user", r.Resolve(domain.ScopeUser, domain.TierEnterprise, domain.ClassRead).Name)
	ip := r.Resolve(domain.ScopeIP, domain.TierProfessional, domain.ClassWrite)
	assert.Equal(t, "default-user", ip.Name)
	assert.Equal(t, domain.ScopeIP, ip.Scope)

	fallback := r.Resolve(domain.ScopeAPIKey, domain.TierFree, domain.ClassRead)
	assert.Equal(t, "default-user", fallback.Name)
	assert.Equal(t, domain.ScopeAPIKey, fallback.Scope)
	assert.Empty(t, r.Explicit())

	ep := fw("endpoint", domain.ScopeEndpoint, 1000)
	r.Reload(mustTable(t, []domain.Policy{ep}, nil))
	assert.Equal(t, []domain.ScopeKind{domain.ScopeEndpoint}, r.Explicit())
	assert.Equal(t, "endpoint", r.Resolve(domain.ScopeUser, domain.TierFree, domain.ClassRead).Name)
}

func TestPolicyResolver_UnconfiguredTierGetsMostRestrictiveDefault(t *testing.T) {
	freeWrite := fw("free-write", domain.ScopeUser, 20)
	freeWrite.Tier = domain.TierFree
	freeWrite.EndpointClass = domain.ClassWrite
	authIP := fw("auth-ip", domain.ScopeIP, 10)
	authIP.EndpointClass = domain.ClassAuth
	looseUser := fw("default-user", domain.ScopeUser, 120)

	r := NewPolicyResolver(mustTable(t,
		[]domain.Policy{freeWrite, authIP},
		[]domain.Policy{looseUser, fw("default-ip", domain.ScopeIP, 60)}))

	assert.Equal(t, "free-write", r.Resolve(domain.ScopeUser, domain.TierFree, domain.ClassWrite).Name)

	got := r.Resolve(domain.ScopeUser, domain.TierStandard, domain.ClassWrite)
	assert.Equal(t, "default-ip", got.Name)
	assert.Equal(t, domain.ScopeUser, got.Scope)
	assert.Equal(t, int64(60), got.Limit)
	assert.Less(t, got.Rate(), looseUser.Rate())

	_, ok := r.Lookup(domain.ScopeUser, domain.TierStandard, domain.ClassWrite)
	assert.False(t, ok)

	// política sem tier vale para todos os tiers e vence o default da classe
	assert.Equal(t, "auth-ip", r.Resolve(domain.ScopeIP, domain.TierFree, domain.ClassAuth).Name)
	assert.Equal(t, "auth-ip", r.Resolve(domain.ScopeIP, domain.TierAnonymous, domain.ClassAuth).Name)
}

func TestNewPolicyTable_RejectsInvalid(t *testing.T) {
	_, err := NewPolicyTable([]domain.Policy{{Name: "bad", Algorithm: domain.AlgorithmFixedWindow, Limit: 0, Window: time.Second}}, nil)
	assert.True(t, domain.IsConfigurationError(err))

	_, err = NewPolicyTable([]domain.Policy{fw("a", domain.ScopeIP, 1), fw("b", domain.ScopeIP, 2)}, nil)
	assert.True(t, domain.IsConfigurationError(err), "duplicate keys")

	_, err = NewPolicyTable(nil, nil)
	assert.True(t, domain.IsConfigurationError(err))
}

func TestCombine(t *testing.T) {
	_, ok := Combine(nil)
	assert.False(t, ok)

	user := domain.Verdict{Allowed: true, Limit: 100, Remaining: 90, Scope: domain.ScopeUser}
	ip := domain.Verdict{Allowed: false, Limit: 10, Remaining: 0, RetryAfter: time.Second, Scope: domain.ScopeIP}
	got, ok := Combine([]domain.Verdict{user, ip})
	require.True(t, ok)
	assert.False(t, got.Allowed)
	assert.Equal(t, domain.ScopeIP, got.Scope)
	assert.Equal(t, int64(10), got.Limit)

	ip.Allowed, ip.Remaining = true, 5
	got, _ = Combine([]domain.Verdict{user, ip})
	assert.True(t, got.Allowed)
	assert.Equal(t, int64(5), got.Remaining)
	assert.Equal(t, domain.ScopeIP, got.Scope)
}
