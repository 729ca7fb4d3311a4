package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ratelimit-engine/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStore é o CounterStore distribuído. Usa transação otimista:
// WATCH key, GET, aplica a UpdateFunc em Go, MULTI SET PX EXEC. Se outra
// instância alterou a chave no meio, o EXEC falha e a operação é refeita.
type RedisStore struct {
	rdb        redis.UniversalClient
	prefix     string
	clock      domain.Clock
	maxRetries int
}

type RedisStoreOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = strings.TrimRight(prefix, ":") + ":"
	}
}

func WithMaxRetries(n int) RedisStoreOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func WithRedisClock(c domain.Clock) RedisStoreOption {
	return func(s *RedisStore) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:        rdb,
		prefix:     "ratelimit:counter:",
		clock:      SystemClock{},
		maxRetries: 16,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) IncrementAndCheck(ctx context.Context, key domain.Key, p domain.Policy, update domain.UpdateFunc) (domain.CounterState, domain.Verdict, error) {
	k := s.prefix + string(key)

	var (
		st domain.CounterState
		v  domain.Verdict
	)
	txf := func(tx *redis.Tx) error {
		old, _, err := getJSON[domain.CounterState](ctx, tx, k)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		st, v = update(old, p, now)
		st.LastSeen = now

		b, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, b, p.IdleTTL())
			return nil
		})
		return err
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, k)
		if err == nil {
			return st, v, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return domain.CounterState{}, domain.Verdict{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return domain.CounterState{}, domain.Verdict{}, fmt.Errorf("%w: too many conflicts on %s", domain.ErrStoreUnavailable, key)
}

func (s *RedisStore) Peek(ctx context.Context, key domain.Key) (domain.CounterState, bool, error) {
	st, ok, err := getJSON[domain.CounterState](ctx, s.rdb, s.prefix+string(key))
	if err != nil {
		return domain.CounterState{}, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return st, ok, nil
}

func (s *RedisStore) ExpireKey(ctx context.Context, key domain.Key) error {
	if err := s.rdb.Del(ctx, s.prefix+string(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// getter cobre *redis.Tx e redis.UniversalClient.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// getJSON lê e decodifica um valor JSON. Chave ausente devolve o zero value e ok=false.
func getJSON[T any](ctx context.Context, c getter, key string) (T, bool, error) {
	var out T
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, true, nil
}
