package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
)

func mustProxies(t *testing.T, list ...string) []netip.Prefix {
	t.Helper()
	p, err := ParseTrustedProxies(list)
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	return p
}

func TestDefaultIdentityFunc_ReadsAPIKeyHeader(t *testing.T) {
	fn := DefaultIdentityFunc(IdentityOptions{KeyHeader: "X-Client"})

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Client", " client-123 ")

	id := fn(r)
	if id.APIKey != "client-123" {
		t.Fatalf("expected header key, got %q", id.APIKey)
	}
	if id.ClientIP != "10.0.0.1" {
		t.Fatalf("expected remote ip, got %q", id.ClientIP)
	}
	if id.Method != http.MethodGet || id.Route != RouteUnmatched {
		t.Fatalf("unexpected method/route %q %q", id.Method, id.Route)
	}
}

func TestClientIP_IgnoresXFFFromUntrustedPeer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "203.0.113.7:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	if got := ClientIP(r, mustProxies(t, "10.0.0.0/8")); got != "203.0.113.7" {
		t.Fatalf("spoofed XFF must be ignored, got %q", got)
	}
}

func TestClientIP_UsesRightmostUntrustedHop(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8, 10.0.0.2")

	if got := ClientIP(r, mustProxies(t, "10.0.0.0/8")); got != "5.6.7.8" {
		t.Fatalf("expected rightmost untrusted hop, got %q", got)
	}
}

func TestClientIP_MultipleXFFHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Add("X-Forwarded-For", "198.51.100.1")
	r.Header.Add("X-Forwarded-For", "10.1.1.1")

	if got := ClientIP(r, mustProxies(t, "10.0.0.0/8")); got != "198.51.100.1" {
		t.Fatalf("expected client from first header, got %q", got)
	}
}

func TestClientIP_MalformedHopStops(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, garbage")

	if got := ClientIP(r, mustProxies(t, "10.0.0.9")); got != "10.0.0.9" {
		t.Fatalf("expected proxy address, got %q", got)
	}
}

func TestClientIP_FallbacksToRemoteAddrHost(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "[::ffff:10.0.0.9]:5555"

	if got := ClientIP(r, nil); got != "10.0.0.9" {
		t.Fatalf("expected remote host, got %q", got)
	}

	r.RemoteAddr = "not-an-ip"
	if got := ClientIP(r, nil); got != "" {
		t.Fatalf("expected empty ip, got %q", got)
	}
}

func TestParseTrustedProxies_RejectsGarbage(t *testing.T) {
	if _, err := ParseTrustedProxies([]string{"10.0.0.0/8", "nope"}); err == nil {
		t.Fatalf("expected error")
	}
	p := mustProxies(t, " 192.168.1.7 ", "", "10.1.2.3/8")
	if len(p) != 2 || p[0].Bits() != 32 || p[1].String() != "10.0.0.0/8" {
		t.Fatalf("unexpected prefixes %v", p)
	}
}

func TestDefaultIdentityFunc_PrincipalWinsOverHeaders(t *testing.T) {
	fn := DefaultIdentityFunc(IdentityOptions{TrustIdentityHeaders: true})

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-User-ID", "spoofed")
	r = r.WithContext(WithPrincipal(r.Context(), Principal{UserID: "u-1", Tier: domain.TierProfessional}))

	id := fn(r)
	if id.UserID != "u-1" || id.Tier != domain.TierProfessional {
		t.Fatalf("expected principal identity, got %+v", id)
	}
}

func TestDefaultIdentityFunc_IdentityHeadersNeedTrust(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-User-ID", "u-2")
	r.Header.Set("X-User-Tier", "Standard")

	if id := DefaultIdentityFunc(IdentityOptions{})(r); id.UserID != "" {
		t.Fatalf("untrusted identity headers must be ignored, got %q", id.UserID)
	}
	id := DefaultIdentityFunc(IdentityOptions{TrustIdentityHeaders: true})(r)
	if id.UserID != "u-2" || id.Tier != domain.TierStandard {
		t.Fatalf("expected header identity, got %+v", id)
	}
}

func TestChiRouteFunc_UsesTemplate(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {})
	router.Route("/v1", func(r chi.Router) {
		r.Post("/users/{id}/keys", func(w http.ResponseWriter, r *http.Request) {})
	})
	fn := ChiRouteFunc(router)

	cases := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/orders/42", "/orders/{id}"},
		{http.MethodPost, "/v1/users/7/keys", "/v1/users/{id}/keys"},
		{http.MethodGet, "/nowhere", RouteUnmatched},
		{http.MethodDelete, "/orders/42", RouteUnmatched},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(tc.method, "http://example"+tc.path, nil)
		if got := fn(r); got != tc.want {
			t.Fatalf("%s %s: expected %q, got %q", tc.method, tc.path, tc.want, got)
		}
	}
}

func TestDefaultRoute_ServeMuxPattern(t *testing.T) {
	var got string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		got = DefaultRoute(r)
	})

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example/items/9", nil))
	if got != "/items/{id}" {
		t.Fatalf("expected mux pattern, got %q", got)
	}
}
