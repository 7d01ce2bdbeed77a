package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thy3368/rustlob-sub002/internal/command"
)

const defaultRedisPrefix = "core:idem:"

// RedisStore shares the response cache across instances. Responses are
// stored as JSON with the retention TTL applied per key.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisStore(client *redis.Client, ttl time.Duration, prefix string) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, ttl: ttl, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (command.Resp, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return command.Resp{}, false, nil
	}
	if err != nil {
		return command.Resp{}, false, err
	}

	var resp command.Resp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return command.Resp{}, false, err
	}
	return resp, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, resp command.Resp) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err()
}
