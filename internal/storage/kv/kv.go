// Package kv holds the durable key/value backends used by the catalog and
// the response cache: redis for shared deployments and a file-per-key store
// for app-scoped data directories.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jgivc/offlinecache/internal/common"
	"github.com/jgivc/offlinecache/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
)

var ErrInvalidKey = errors.New("invalid key")

type Store interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	MultiGet(ctx context.Context, keys []string) (map[string]string, error)
	MultiSet(ctx context.Context, items map[string]string) error
	MultiRemove(ctx context.Context, keys []string) error
	GetAllKeys(ctx context.Context) ([]string, error)
}

// New opens the backend selected by cfg. The returned close func releases
// backend resources.
func New(ctx context.Context, cfg *config.KVConfig, fs afero.Fs, log *slog.Logger) (Store, func() error, error) {
	switch cfg.Backend {
	case config.KVBackendRedis:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot parse redis url: %w", err)
		}

		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()

			return nil, nil, fmt.Errorf("cannot ping redis: %w", err)
		}

		return NewRedisStore(rdb, cfg.Namespace, log), rdb.Close, nil
	case config.KVBackendFile:
		s, err := NewFileStore(fs, cfg.Dir, log)
		if err != nil {
			return nil, nil, err
		}

		return s, func() error { return nil }, nil
	}

	return nil, nil, fmt.Errorf("%w: %s", common.ErrUnknownStoreBackend, cfg.Backend)
}
