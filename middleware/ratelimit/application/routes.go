package application

import (
	"net/http"
	"strings"

	"ratelimit-engine/middleware/ratelimit/domain"
)

// RouteRule classifica um template de rota. Pattern termina em "/*" para
// casar por prefixo; Method vazio casa qualquer método.
type RouteRule struct {
	Method    string
	Pattern   string
	Class     domain.EndpointClass
	Sensitive bool
}

// RouteClassifier resolve classe e sensibilidade de uma rota. A primeira regra
// que casar vence; sem regra, métodos seguros são read e os demais write.
type RouteClassifier struct {
	rules []RouteRule
}

func NewRouteClassifier(rules []RouteRule) (*RouteClassifier, error) {
	out := make([]RouteRule, 0, len(rules))
	for _, r := range rules {
		if r.Pattern == "" || r.Pattern[0] != '/' {
			return nil, domain.NewConfigurationError("routes", "pattern", "must start with / (got "+r.Pattern+")")
		}
		if r.Class == "" {
			r.Class = domain.ClassDefault
		}
		r.Method = strings.ToUpper(r.Method)
		out = append(out, r)
	}
	return &RouteClassifier{rules: out}, nil
}

func (c *RouteClassifier) Classify(method, route string) (domain.EndpointClass, bool) {
	if c != nil {
		for _, r := range c.rules {
			if r.Method != "" && r.Method != method {
				continue
			}
			if matchRoute(r.Pattern, route) {
				return r.Class, r.Sensitive
			}
		}
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return domain.ClassRead, false
	}
	return domain.ClassWrite, false
}

func matchRoute(pattern, route string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return route == prefix || strings.HasPrefix(route, prefix+"/")
	}
	return pattern == route
}
