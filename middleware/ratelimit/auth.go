package ratelimit

import (
	"context"
	"net/http"

	"ratelimit-engine/middleware/ratelimit/application"
	"ratelimit-engine/middleware/ratelimit/domain"
)

// authHook liga o handler de login à guarda de velocidade sem que ele precise
// conhecer o Service nem reconstruir a identidade.
type authHook struct {
	svc *application.Service
	id  domain.Identity
}

type authHookKey struct{}

func withAuthHook(ctx context.Context, svc *application.Service, id domain.Identity) context.Context {
	return context.WithValue(ctx, authHookKey{}, authHook{svc: svc, id: id})
}

// RecordAuthFailure registra uma tentativa de autenticação falha para a
// identidade da requisição. Fora do Middleware não faz nada.
func RecordAuthFailure(r *http.Request) (domain.GuardVerdict, error) {
	h, ok := r.Context().Value(authHookKey{}).(authHook)
	if !ok {
		return domain.GuardVerdict{}, nil
	}
	return h.svc.RecordAuthFailure(r.Context(), h.id)
}

// RecordAuthSuccess zera o histórico de falhas da identidade.
func RecordAuthSuccess(r *http.Request) error {
	h, ok := r.Context().Value(authHookKey{}).(authHook)
	if !ok {
		return nil
	}
	return h.svc.RecordAuthSuccess(r.Context(), h.id)
}
