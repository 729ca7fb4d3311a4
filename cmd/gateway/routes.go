package main

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"ratelimit-engine/middleware/ratelimit"

	"github.com/go-chi/chi/v5"
)

// routeTemplates resolve o template das requisições proxiadas a partir dos
// padrões declarados no arquivo de políticas. O gateway não conhece as rotas do
// upstream; o que não casar vira ratelimit.RouteUnmatched.
type routeTemplates struct {
	routes atomic.Pointer[chi.Mux]
}

func newRouteTemplates(patterns []string) (*routeTemplates, error) {
	t := &routeTemplates{}
	if err := t.Reload(patterns); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *routeTemplates) Reload(patterns []string) (err error) {
	// chi entra em pânico com padrões inválidos
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid route pattern: %v", r)
		}
	}()

	mux := chi.NewMux()
	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	seen := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		if seen[p] {
			continue
		}
		seen[p] = true
		mux.Handle(p, noop)
	}
	t.routes.Store(mux)
	return nil
}

func (t *routeTemplates) RouteFunc(r *http.Request) string {
	return ratelimit.ChiRouteFunc(t.routes.Load())(r)
}
