package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wudi/csrfguard/internal/logging"
	"go.uber.org/zap"
)

// createdField marks a saved session so that sessions without values still exist.
const createdField = "__created"

// RedisStore keeps each session in a Redis hash under prefix+id.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisStore creates a new Redis-backed session store.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "csrfguard:sess:"
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		timeout: 250 * time.Millisecond,
	}
}

// Load reads the session hash.
func (rs *RedisStore) Load(ctx context.Context, id string) (map[string]string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, rs.timeout)
	defer cancel()

	fields, err := rs.client.HGetAll(ctx, rs.prefix+id).Result()
	if err != nil {
		logging.Warn("Session Redis HGETALL error",
			zap.String("key", rs.prefix+id),
			zap.Error(err),
		)
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	delete(fields, createdField)
	return fields, true, nil
}

// Save replaces the hash inside a MULTI/EXEC so readers never observe a partial session.
func (rs *RedisStore) Save(ctx context.Context, id string, values map[string]string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, rs.timeout)
	defer cancel()

	key := rs.prefix + id
	args := make([]interface{}, 0, 2*len(values)+2)
	args = append(args, createdField, time.Now().Unix())
	for k, v := range values {
		args = append(args, k, v)
	}

	_, err := rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, args...)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		logging.Warn("Session Redis save error",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return err
}

// Delete removes the session hash.
func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, rs.timeout)
	defer cancel()

	err := rs.client.Del(ctx, rs.prefix+id).Err()
	if err != nil {
		logging.Warn("Session Redis DEL error",
			zap.String("key", rs.prefix+id),
			zap.Error(err),
		)
	}
	return err
}

// Close is a no-op (shared client).
func (rs *RedisStore) Close() {}

// Ping checks that Redis is reachable.
func (rs *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, rs.timeout)
	defer cancel()
	return rs.client.Ping(ctx).Err()
}
