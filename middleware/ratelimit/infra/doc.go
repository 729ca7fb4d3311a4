// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryStore / RedisStore: CounterStore local (shards + mutex) e distribuído (WATCH/MULTI)
//   - MemoryQuotaStore / SQLQuotaStore: cotas diárias e mensais
//   - MemoryVelocityStore / RedisVelocityStore: histórico de falhas da guarda de velocidade
//   - ChanPool: semáforo simples para limite de concorrência
//   - stats: memória, Redis, Prometheus
//   - KafkaSecuritySink: eventos de lockout
package infra
