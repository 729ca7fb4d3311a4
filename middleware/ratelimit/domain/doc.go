// Package domain define contratos, tipos e algoritmos puros do motor de rate limit.
//
// Este pacote não depende de net/http nem de implementações concretas de storage.
// Os algoritmos (fixed window, sliding window, token bucket, leaky bucket) são funções
// puras (estado antigo, política, agora) -> (estado novo, veredito); quem garante a
// atomicidade é o CounterStore que aplica a função.
package domain
