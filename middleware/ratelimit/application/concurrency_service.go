package application

import (
	"context"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}

// Utilization é a fração de vagas ocupadas (0 sem pool).
func (s ConcurrencyService) Utilization() float64 {
	if s.Pool == nil || s.Pool.Cap() <= 0 {
		return 0
	}
	return float64(s.Pool.InUse()) / float64(s.Pool.Cap())
}

// StartLoadProbe empurra a ocupação do pool para o controlador adaptativo a
// cada intervalo. Pare cancelando o contexto.
func (s ConcurrencyService) StartLoadProbe(ctx context.Context, ctrl *LoadController, every time.Duration) {
	if ctrl == nil || s.Pool == nil || every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				ctrl.SetLoad(s.Utilization())
			}
		}
	}()
}
