// Upstream de teste para exercitar o gateway localmente:
//
//	go run ./teste-validacao/servidor-burrao
//	UPSTREAM_URL=http://localhost:9000 go run ./cmd/gateway
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"ratelimit-engine/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.New("development", "info", "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	r.Get("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
		logger.Info("endpoint acessado", zap.String("path", r.URL.Path), zap.String("request_id", middleware.GetReqID(r.Context())))
	})
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%q,"status":"shipped"}`, chi.URLParam(r, "id"))
	})
	r.Post("/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	// login sem o motor: sempre 401, para ver a guarda do gateway agir
	r.Post("/login", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	addr := ":9000"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	logger.Info("servidor rodando", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, r); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("erro ao subir o servidor", zap.Error(err))
	}
}
