package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"ratelimit-engine/middleware/ratelimit/application"
	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type AdminOptions struct {
	Service *application.Service
	// Reload relê a tabela de políticas. Nil desliga POST /reload.
	Reload func(ctx context.Context) error
	Logger *zap.Logger
}

type loadBody struct {
	Load *float64 `json:"load"`
}

type loadStatus struct {
	Load   float64 `json:"load"`
	Fresh  bool    `json:"fresh"`
	Factor float64 `json:"factor"`
}

type usageStatus struct {
	ClientID  string             `json:"clientId"`
	Period    domain.QuotaPeriod `json:"period"`
	Used      int64              `json:"used"`
	Limit     int64              `json:"limit"`
	ResetAt   time.Time          `json:"resetAt"`
	Exhausted bool               `json:"exhausted"`
}

// AdminHandler expõe o sinal de carga, o reload de políticas e o uso de cota.
// Deve ser montado atrás de autenticação de operador.
//
//	GET  /load            estado do controlador adaptativo
//	PUT  /load            {"load":0.7}
//	POST /reload
//	GET  /usage/{client}  ?period=daily|monthly
func AdminHandler(opts AdminOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	svc := opts.Service
	r := chi.NewRouter()

	r.Get("/load", func(w http.ResponseWriter, r *http.Request) {
		ctrl := svc.LoadController()
		if ctrl == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "adaptive load control disabled"})
			return
		}
		v, fresh := ctrl.Load()
		writeJSON(w, http.StatusOK, loadStatus{Load: v, Fresh: fresh, Factor: ctrl.Factor()})
	})

	r.Put("/load", func(w http.ResponseWriter, r *http.Request) {
		ctrl := svc.LoadController()
		if ctrl == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "adaptive load control disabled"})
			return
		}
		var body loadBody
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil || body.Load == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": `expected {"load": <0..1>}`})
			return
		}
		if v := *body.Load; math.IsNaN(v) || v < 0 || v > 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "load must be within [0, 1]"})
			return
		}
		ctrl.SetLoad(*body.Load)
		opts.Logger.Info("load signal updated", zap.Float64("load", *body.Load), zap.Float64("factor", ctrl.Factor()))
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/reload", func(w http.ResponseWriter, r *http.Request) {
		if opts.Reload == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "reload not configured"})
			return
		}
		if err := opts.Reload(r.Context()); err != nil {
			status := http.StatusInternalServerError
			if domain.IsConfigurationError(err) {
				status = http.StatusUnprocessableEntity
			}
			opts.Logger.Error("policy reload rejected", zap.Error(err))
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/usage/{client}", func(w http.ResponseWriter, r *http.Request) {
		q := svc.QuotaTracker()
		if q == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "quota tracking disabled"})
			return
		}
		period := domain.QuotaPeriod(r.URL.Query().Get("period"))
		if period == "" {
			period = domain.PeriodDaily
		}
		if !period.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "period must be daily or monthly"})
			return
		}
		client := chi.URLParam(r, "client")
		rec, ok, err := q.Usage(r.Context(), client, period)
		switch {
		case err != nil:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		case !ok:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no usage recorded"})
			return
		}
		writeJSON(w, http.StatusOK, usageStatus{
			ClientID:  client,
			Period:    period,
			Used:      rec.Used,
			Limit:     rec.Limit,
			ResetAt:   rec.PeriodEnd.UTC(),
			Exhausted: rec.State() == domain.QuotaExhausted,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
