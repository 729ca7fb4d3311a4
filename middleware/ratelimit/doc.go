// Package ratelimit é o adapter HTTP (net/http) do motor de rate limit e cota.
//
// Camadas:
//
//   - domain: tipos, contratos e algoritmos puros (sem net/http)
//   - application: casos de uso (escopos, políticas, carga adaptativa, cota,
//     guarda de força bruta, combinação de vereditos)
//   - infra: stores (memória, redis, sql), stats, métricas, sink de segurança
//   - config: tabela de políticas em YAML com reload
//   - ratelimit (este pacote): extração de identidade, headers, corpo
//     problem+json, hooks de resultado de autenticação e rotas de admin
//
// Fluxo no gateway:
//
//  1. Resolve a identidade (principal do contexto, API key, IP real, rota)
//  2. Chama application.Service.Decide
//  3. Emite os headers de limite em qualquer resposta
//  4. Se bloqueado, responde 429 (rate limit ou lockout), 403 (cota) ou 503
//     (store indisponível com fail-closed) com application/problem+json
//  5. Se permitido, chama o próximo handler (ex.: reverse proxy)
//
// O binário cmd/gateway lê a configuração de flags/variáveis de ambiente
// (LISTEN_ADDR, UPSTREAM_URL, POLICY_FILE, REDIS_ADDR, CONCURRENCY_MAX...).
package ratelimit
