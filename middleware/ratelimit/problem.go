package ratelimit

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/google/uuid"
)

// DefaultProblemBase prefixa o campo type dos corpos de erro.
const DefaultProblemBase = "/problems"

const (
	ProblemRateLimitExceeded  = "rate-limit-exceeded"
	ProblemQuotaExceeded      = "quota-exceeded"
	ProblemTooManyAttempts    = "too-many-attempts"
	ProblemServiceUnavailable = "service-unavailable"
)

// Problem é o corpo application/problem+json de uma rejeição.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`

	RetryAfter   int64      `json:"retryAfter,omitempty"`
	Limit        *int64     `json:"limit,omitempty"`
	Remaining    *int64     `json:"remaining,omitempty"`
	QuotaResetAt *time.Time `json:"quotaResetAt,omitempty"`
	UnlockAt     *time.Time `json:"unlockAt,omitempty"`
}

// NewProblem monta o corpo para uma decisão bloqueada.
func NewProblem(base string, dec domain.Decision) Problem {
	base = strings.TrimSuffix(base, "/")
	if base == "" {
		base = DefaultProblemBase
	}
	p := Problem{
		Status:     StatusFor(dec.Reason),
		Instance:   "urn:uuid:" + uuid.NewString(),
		RetryAfter: retryAfterSeconds(dec.RetryAfter),
	}

	switch dec.Reason {
	case domain.ReasonQuotaExceeded:
		p.Type = base + "/" + ProblemQuotaExceeded
		p.Title = "Quota exceeded"
		if q := dec.Quota; q != nil {
			p.Detail = "The " + string(q.Period) + " request quota for this client is exhausted."
			p.Limit = ptr(q.Limit)
			p.Remaining = ptr(max(q.Remaining, 0))
			reset := q.ResetAt.UTC()
			p.QuotaResetAt = &reset
		} else {
			p.Detail = "The request quota for this client is exhausted."
		}

	case domain.ReasonLockedOut:
		p.Type = base + "/" + ProblemTooManyAttempts
		p.Title = "Too many attempts"
		if g := dec.Guard; g != nil {
			unlock := g.UnlockAt.UTC()
			p.UnlockAt = &unlock
			if g.Locked {
				p.Detail = "Too many failed attempts. Further attempts are blocked until unlockAt."
			} else {
				p.Detail = "Failed attempts detected. Wait before trying again."
			}
		} else {
			p.Detail = "Too many failed attempts."
		}

	case domain.ReasonStoreUnavailable:
		p.Type = base + "/" + ProblemServiceUnavailable
		p.Title = "Service unavailable"
		p.Detail = "Rate limiting is temporarily unavailable. Retry later."

	default:
		p.Type = base + "/" + ProblemRateLimitExceeded
		p.Title = "Rate limit exceeded"
		p.Detail = "Too many requests. Retry after the indicated number of seconds."
		if v := dec.RateLimit; v != nil {
			p.Limit = ptr(v.Limit)
			p.Remaining = ptr(max(v.Remaining, 0))
		}
	}
	return p
}

// writeRejection escreve Retry-After e o corpo. Os headers de limite já devem
// ter sido emitidos.
func writeRejection(w http.ResponseWriter, p Problem) {
	w.Header().Set(HeaderRetryAfter, formatInt(p.RetryAfter))
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func ptr[T any](v T) *T { return &v }
