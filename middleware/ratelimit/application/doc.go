// Package application contém os casos de uso do motor de rate limit: resolução
// de escopos e políticas, controle adaptativo de carga, cotas, guarda de
// velocidade e a combinação dos vereditos.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(ctx, identity) retorna uma Decision (allow/deny + headers de estado).
package application
