package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ratelimit-engine/middleware/ratelimit"
)

func TestRouteTemplates_MatchConfiguredPatterns(t *testing.T) {
	tpl, err := newRouteTemplates([]string{"/login", "/orders/*", "/users/{id}", "/login"})
	if err != nil {
		t.Fatalf("new templates: %v", err)
	}

	cases := map[string]string{
		"/login":        "/login",
		"/orders/42/x":  "/orders/*",
		"/users/7":      "/users/{id}",
		"/somewhere":    ratelimit.RouteUnmatched,
		"/users/7/keys": ratelimit.RouteUnmatched,
	}
	for path, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "http://gw"+path, nil)
		if got := tpl.RouteFunc(r); got != want {
			t.Fatalf("%s: expected %q, got %q", path, want, got)
		}
	}

	if err := tpl.Reload([]string{"/checkout"}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	r := httptest.NewRequest(http.MethodGet, "http://gw/login", nil)
	if got := tpl.RouteFunc(r); got != ratelimit.RouteUnmatched {
		t.Fatalf("expected old pattern to be gone, got %q", got)
	}
}

func TestRouteTemplates_InvalidPattern(t *testing.T) {
	if _, err := newRouteTemplates([]string{"/a/*/b"}); err == nil {
		t.Fatalf("expected error for wildcard in the middle")
	}
}

func TestTrustedProxies_TrustXFFAddsPrivateRanges(t *testing.T) {
	p, err := trustedProxies(&CLI{TrustXFF: true, TrustedProxies: []string{"203.0.113.0/24"}})
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}
	if len(p) != 1+len(privateNetworks) {
		t.Fatalf("expected %d prefixes, got %d", 1+len(privateNetworks), len(p))
	}

	r := httptest.NewRequest(http.MethodGet, "http://gw/", nil)
	r.RemoteAddr = "10.1.2.3:4444"
	r.Header.Set("X-Forwarded-For", "198.51.100.9")
	if got := ratelimit.ClientIP(r, p); got != "198.51.100.9" {
		t.Fatalf("expected forwarded client, got %q", got)
	}
}
