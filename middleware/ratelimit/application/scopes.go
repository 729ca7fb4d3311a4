package application

import (
	"ratelimit-engine/middleware/ratelimit/domain"
)

const unknownIP = "unknown"

// ResolveScopes deriva as chaves de uma requisição. Nunca falha.
//
// Usuário (ou, sem usuário, API key) sempre vem acompanhado do escopo por IP.
// Sem nenhuma identidade, todos os clientes sem IP dividem a chave ip:unknown
// com a política mais restritiva. Endpoint e composite só entram se a tabela
// de políticas os configura.
func ResolveScopes(id domain.Identity, explicit []domain.ScopeKind) []domain.Scope {
	out := make([]domain.Scope, 0, 2+len(explicit))
	method, route := id.Method, id.Route

	principal := ""
	switch {
	case id.UserID != "":
		principal = "user=" + id.UserID
		out = append(out, domain.Scope{Kind: domain.ScopeUser, Key: domain.NewKey(domain.ScopeUser, id.UserID, method, route)})
	case id.APIKey != "":
		principal = "key=" + id.APIKey
		out = append(out, domain.Scope{Kind: domain.ScopeAPIKey, Key: domain.NewKey(domain.ScopeAPIKey, id.APIKey, method, route)})
	}

	ip := id.ClientIP
	ambiguous := ip == "" && principal == ""
	if ip == "" {
		ip = unknownIP
	}
	out = append(out, domain.Scope{Kind: domain.ScopeIP, Key: domain.NewKey(domain.ScopeIP, ip, method, route), Fallback: ambiguous})

	for _, kind := range explicit {
		switch kind {
		case domain.ScopeEndpoint:
			out = append(out, domain.Scope{Kind: kind, Key: domain.NewKey(kind, "*", method, route)})
		case domain.ScopeComposite:
			who := principal
			if who == "" {
				who = "anonymous"
			}
			out = append(out, domain.Scope{Kind: kind, Key: domain.NewKey(kind, who+"@"+ip, method, route), Fallback: ambiguous})
		}
	}
	return out
}
