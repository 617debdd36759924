package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	KeySeparator = ":"
	ScanCount    = 1000
)

type redisStore struct {
	ns  string
	cl  *redis.Client
	log *slog.Logger
}

// NewRedisStore keeps every key under "<namespace>:".
func NewRedisStore(cl *redis.Client, namespace string, log *slog.Logger) *redisStore {
	return &redisStore{
		ns:  namespace,
		cl:  cl,
		log: log.With(slog.String("item", "RedisStore"), slog.String("namespace", namespace)),
	}
}

func (s *redisStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	val, err := s.cl.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("cannot get %s: %w", key, err)
	}

	return val, true, nil
}

func (s *redisStore) SetItem(ctx context.Context, key, value string) error {
	if err := s.cl.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("cannot set %s: %w", key, err)
	}

	return nil
}

func (s *redisStore) RemoveItem(ctx context.Context, key string) error {
	if err := s.cl.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("cannot delete %s: %w", key, err)
	}

	return nil
}

func (s *redisStore) MultiGet(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = s.key(key)
	}

	vals, err := s.cl.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get %d keys: %w", len(keys), err)
	}

	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = str
	}

	return out, nil
}

func (s *redisStore) MultiSet(ctx context.Context, items map[string]string) error {
	if len(items) == 0 {
		return nil
	}

	pairs := make([]any, 0, len(items)*2)
	for k, v := range items {
		pairs = append(pairs, s.key(k), v)
	}

	if err := s.cl.MSet(ctx, pairs...).Err(); err != nil {
		return fmt.Errorf("cannot set %d keys: %w", len(items), err)
	}

	return nil
}

func (s *redisStore) MultiRemove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	pipe := s.cl.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, s.key(key))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cannot delete %d keys: %w", len(keys), err)
	}

	return nil
}

func (s *redisStore) GetAllKeys(ctx context.Context) ([]string, error) {
	pattern := s.key("*")
	prefix := s.key("")

	var (
		cursor uint64
		out    []string
	)

	for {
		keys, nextCursor, err := s.cl.Scan(ctx, cursor, pattern, ScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("error scanning keys: %w", err)
		}

		for _, key := range keys {
			out = append(out, strings.TrimPrefix(key, prefix))
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return out, nil
}

func (s *redisStore) key(key string) string {
	if s.ns == "" {
		return key
	}

	return getKey(s.ns, key)
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}
