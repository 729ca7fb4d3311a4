package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisVelocityStore compartilha o histórico de falhas entre instâncias, com a
// mesma transação otimista do RedisStore.
type RedisVelocityStore struct {
	rdb        redis.UniversalClient
	prefix     string
	maxRetries int
}

func NewRedisVelocityStore(rdb redis.UniversalClient, prefix string) *RedisVelocityStore {
	if prefix == "" {
		prefix = "ratelimit:velocity"
	}
	return &RedisVelocityStore{rdb: rdb, prefix: strings.TrimRight(prefix, ":") + ":", maxRetries: 16}
}

func (s *RedisVelocityStore) Update(ctx context.Context, id string, ttl time.Duration, fn func(domain.VelocityState) domain.VelocityState) (domain.VelocityState, error) {
	k := s.prefix + id

	var st domain.VelocityState
	txf := func(tx *redis.Tx) error {
		old, _, err := getJSON[domain.VelocityState](ctx, tx, k)
		if err != nil {
			return err
		}
		st = fn(old)
		b, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, b, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, k)
		if err == nil {
			return st, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return domain.VelocityState{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return domain.VelocityState{}, fmt.Errorf("%w: too many conflicts on %s", domain.ErrStoreUnavailable, id)
}

func (s *RedisVelocityStore) Get(ctx context.Context, id string) (domain.VelocityState, bool, error) {
	st, ok, err := getJSON[domain.VelocityState](ctx, s.rdb, s.prefix+id)
	if err != nil {
		return domain.VelocityState{}, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return st, ok, nil
}

func (s *RedisVelocityStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}
