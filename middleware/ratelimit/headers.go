package ratelimit

import (
	"net/http"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"

	HeaderDraftLimit     = "RateLimit-Limit"
	HeaderDraftRemaining = "RateLimit-Remaining"
	HeaderDraftReset     = "RateLimit-Reset"

	HeaderRetryAfter = "Retry-After"

	HeaderQuotaLimit     = "X-Quota-Limit"
	HeaderQuotaRemaining = "X-Quota-Remaining"
	HeaderQuotaReset     = "X-Quota-Reset"

	HeaderAdjusted    = "X-RateLimit-Adjusted"
	HeaderNormalLimit = "X-RateLimit-Normal-Limit"
)

// WriteHeaders emite o estado de limite da decisão. Retry-After fica de fora:
// só vai em respostas de rejeição (ver writeRejection).
func WriteHeaders(h http.Header, dec domain.Decision, now time.Time) {
	if v := dec.RateLimit; v != nil {
		remaining := max(v.Remaining, 0)
		h.Set(HeaderLimit, formatInt(v.Limit))
		h.Set(HeaderRemaining, formatInt(remaining))
		h.Set(HeaderReset, formatInt(resetUnix(v.ResetAt)))
		h.Set(HeaderDraftLimit, formatInt(v.Limit))
		h.Set(HeaderDraftRemaining, formatInt(remaining))
		h.Set(HeaderDraftReset, formatInt(ceilSeconds(v.ResetAt.Sub(now))))
	}

	if q := dec.Quota; q != nil && !q.Unlimited && !q.Degraded {
		h.Set(HeaderQuotaLimit, formatInt(q.Limit))
		h.Set(HeaderQuotaRemaining, formatInt(max(q.Remaining, 0)))
		h.Set(HeaderQuotaReset, formatInt(resetUnix(q.ResetAt)))
	}

	if dec.Adjusted {
		h.Set(HeaderAdjusted, "true")
		h.Set(HeaderNormalLimit, formatInt(dec.NormalLimit))
	}
}

// resetUnix arredonda para cima, para o cliente nunca voltar cedo demais.
func resetUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	s := t.Unix()
	if t.Nanosecond() > 0 {
		s++
	}
	return s
}

// StatusFor mapeia o motivo da rejeição para o status HTTP.
func StatusFor(reason domain.RejectReason) int {
	switch reason {
	case domain.ReasonQuotaExceeded:
		return http.StatusForbidden
	case domain.ReasonStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusTooManyRequests
}
