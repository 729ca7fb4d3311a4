package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
)

// RouteUnmatched é usado quando a rota não tem template conhecido; nunca se usa
// o path cru como parte da chave.
const RouteUnmatched = "unmatched"

// Principal é a identidade autenticada por quem está antes do middleware.
type Principal struct {
	UserID string
	Tier   domain.Tier
}

type principalKey struct{}

// WithPrincipal é chamado pelo middleware de autenticação.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type IdentityFunc func(r *http.Request) domain.Identity

// RouteFunc devolve o template da rota (ex.: /orders/{id}).
type RouteFunc func(r *http.Request) string

type IdentityOptions struct {
	// KeyHeader é o header da API key. Vazio desliga.
	KeyHeader string
	// TrustIdentityHeaders aceita X-User-ID/X-User-Tier (só atrás de um proxy
	// que os sobrescreve).
	TrustIdentityHeaders bool
	// TrustedProxies: X-Forwarded-For só vale quando RemoteAddr está aqui.
	TrustedProxies []netip.Prefix
	RouteFn        RouteFunc
}

// ParseTrustedProxies aceita CIDRs ou IPs isolados.
func ParseTrustedProxies(list []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func DefaultIdentityFunc(o IdentityOptions) IdentityFunc {
	routeFn := o.RouteFn
	if routeFn == nil {
		routeFn = DefaultRoute
	}
	return func(r *http.Request) domain.Identity {
		id := domain.Identity{
			ClientIP: ClientIP(r, o.TrustedProxies),
			Method:   r.Method,
			Route:    routeFn(r),
		}

		if p, ok := PrincipalFrom(r.Context()); ok {
			id.UserID = p.UserID
			id.Tier = p.Tier
		} else if o.TrustIdentityHeaders {
			id.UserID = strings.TrimSpace(r.Header.Get("X-User-ID"))
			id.Tier = domain.ParseTier(r.Header.Get("X-User-Tier"))
		}

		if o.KeyHeader != "" {
			id.APIKey = strings.TrimSpace(r.Header.Get(o.KeyHeader))
		}
		return id
	}
}

// ClientIP devolve o IP do cliente. X-Forwarded-For só é lido quando o peer é
// um proxy confiável; a lista é percorrida da direita para a esquerda e o
// primeiro salto não confiável é o cliente. Vazio quando nada é parseável.
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	remote, ok := parseHost(r.RemoteAddr)
	if !ok {
		return ""
	}
	if !isTrusted(remote, trusted) {
		return remote.String()
	}

	hops := r.Header.Values("X-Forwarded-For")
	client := remote
	for i := len(hops) - 1; i >= 0; i-- {
		parts := strings.Split(hops[i], ",")
		for j := len(parts) - 1; j >= 0; j-- {
			a, err := netip.ParseAddr(strings.TrimSpace(parts[j]))
			if err != nil {
				// salto malformado: não dá para confiar no que vem antes
				return client.String()
			}
			client = a.Unmap()
			if !isTrusted(client, trusted) {
				return client.String()
			}
		}
	}
	return client.String()
}

func parseHost(remoteAddr string) (netip.Addr, bool) {
	remoteAddr = strings.TrimSpace(remoteAddr)
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

func isTrusted(a netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// DefaultRoute usa o padrão já resolvido pelo chi ou pelo ServeMux.
func DefaultRoute(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	if p := r.Pattern; p != "" {
		// ServeMux: "[METHOD ][HOST]/path"
		if i := strings.IndexByte(p, ' '); i >= 0 {
			p = p[i+1:]
		}
		if i := strings.IndexByte(p, '/'); i > 0 {
			p = p[i:]
		}
		return p
	}
	return RouteUnmatched
}

// ChiRouteFunc casa a requisição contra routes antes do roteamento, para
// quando o middleware roda na frente do chi (r.Use) ou de um proxy. Ignora o
// contexto de roteamento já presente na requisição.
func ChiRouteFunc(routes chi.Routes) RouteFunc {
	return func(r *http.Request) string {
		path := r.URL.RawPath
		if path == "" {
			path = r.URL.Path
		}
		rctx := chi.NewRouteContext()
		if routes.Match(rctx, r.Method, path) {
			if p := rctx.RoutePattern(); p != "" {
				return p
			}
		}
		return RouteUnmatched
	}
}
