package ratelimit

import (
	"net/http"
	"time"

	"ratelimit-engine/middleware/ratelimit/application"
	"ratelimit-engine/middleware/ratelimit/domain"
	"ratelimit-engine/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// Pool compartilhado (ex.: com a sonda de carga). Quando nil, um pool de
	// Max vagas é criado.
	Pool        domain.SlotPool
	ProblemBase string
}

// ConcurrencyMiddleware limita requisições em voo. Sem vagas dentro de
// AcquireTimeout, responde RejectStatus (503) com problem+json.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 && opts.Pool == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.Pool == nil {
		opts.Pool = infra.NewChanPool(opts.Max)
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				p := NewProblem(opts.ProblemBase, domain.Decision{Reason: domain.ReasonStoreUnavailable, RetryAfter: time.Second})
				p.Status = opts.RejectStatus
				p.Detail = "Too many requests in flight. Retry later."
				writeRejection(w, p)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
