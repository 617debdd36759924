package kv

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jgivc/offlinecache/internal/common"
	"github.com/jgivc/offlinecache/internal/config"
	"github.com/jgivc/offlinecache/internal/util"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { rdb.Close() })

			return NewRedisStore(rdb, "test", testLogger())
		},
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(afero.NewMemMapFs(), "/kv", testLogger())
			require.NoError(t, err)

			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			_, ok, err := s.GetItem(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.SetItem(ctx, "offline_catalog", `[{"id":"1"}]`))
			val, ok, err := s.GetItem(ctx, "offline_catalog")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, `[{"id":"1"}]`, val)

			require.NoError(t, s.SetItem(ctx, "offline_catalog", `[]`))
			val, _, err = s.GetItem(ctx, "offline_catalog")
			require.NoError(t, err)
			require.Equal(t, `[]`, val)

			require.NoError(t, s.MultiSet(ctx, map[string]string{
				"cache_FEED_home":   "a",
				"cache_FEED_top":    "b",
				"cache_SEARCH_jazz": "c",
			}))

			got, err := s.MultiGet(ctx, []string{"cache_FEED_home", "cache_SEARCH_jazz", "nope"})
			require.NoError(t, err)
			require.Equal(t, map[string]string{"cache_FEED_home": "a", "cache_SEARCH_jazz": "c"}, got)

			keys, err := s.GetAllKeys(ctx)
			require.NoError(t, err)
			sort.Strings(keys)
			require.Equal(t, []string{"cache_FEED_home", "cache_FEED_top", "cache_SEARCH_jazz", "offline_catalog"}, keys)

			require.NoError(t, s.MultiRemove(ctx, []string{"cache_FEED_home", "cache_FEED_top"}))
			require.NoError(t, s.RemoveItem(ctx, "offline_catalog"))
			require.NoError(t, s.RemoveItem(ctx, "offline_catalog"))

			keys, err = s.GetAllKeys(ctx)
			require.NoError(t, err)
			require.Equal(t, []string{"cache_SEARCH_jazz"}, keys)

			require.NoError(t, s.MultiSet(ctx, nil))
			require.NoError(t, s.MultiRemove(ctx, nil))

			long := "cache_SEARCH_" + strings.Repeat("long query ", 30)
			require.NoError(t, s.SetItem(ctx, long, "first\nsecond"))
			val, ok, err = s.GetItem(ctx, long)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "first\nsecond", val)

			keys, err = s.GetAllKeys(ctx)
			require.NoError(t, err)
			sort.Strings(keys)
			require.Equal(t, []string{"cache_SEARCH_jazz", long}, keys)

			require.NoError(t, s.MultiRemove(ctx, []string{long}))
			_, ok, err = s.GetItem(ctx, long)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestRedisStoreNamespace(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	require.NoError(t, rdb.Set(ctx, "foreign", "x", 0).Err())

	s := NewRedisStore(rdb, "app", testLogger())
	require.NoError(t, s.SetItem(ctx, "k", "v"))

	raw, err := mr.Get("app:k")
	require.NoError(t, err)
	require.Equal(t, "v", raw)

	keys, err := s.GetAllKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"k"}, keys)
}

func TestFileStoreKeys(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s, err := NewFileStore(fs, "/kv", testLogger())
	require.NoError(t, err)

	require.ErrorIs(t, s.SetItem(ctx, "", "v"), ErrInvalidKey)

	long := strings.Repeat("k", maxFileKeyLength+1)
	require.NoError(t, s.SetItem(ctx, long, "v"))
	names, err := afero.ReadDir(fs, "/kv")
	require.NoError(t, err)
	require.Len(t, names, 1)
	require.Equal(t, util.GetIDFromString(&long)+hashedSuffix, names[0].Name())
	require.NoError(t, s.RemoveItem(ctx, long))

	require.NoError(t, s.SetItem(ctx, "cache_SEARCH_a/b c", "v"))
	require.NoError(t, afero.WriteFile(fs, "/kv/.leftover", []byte("x"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/kv/not base64!", []byte("x"), 0644))

	keys, err := s.GetAllKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"cache_SEARCH_a/b c"}, keys)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		s, closeFn, err := New(ctx, &config.KVConfig{Backend: config.KVBackendFile, Dir: "/kv"}, afero.NewMemMapFs(), testLogger())
		require.NoError(t, err)
		require.NotNil(t, s)
		require.NoError(t, closeFn())
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		s, closeFn, err := New(ctx, &config.KVConfig{Backend: config.KVBackendRedis, RedisURL: "redis://" + mr.Addr(), Namespace: "n"}, nil, testLogger())
		require.NoError(t, err)
		require.NoError(t, s.SetItem(ctx, "a", "b"))
		require.True(t, mr.Exists("n:a"))
		require.NoError(t, closeFn())
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := New(ctx, &config.KVConfig{Backend: "etcd"}, nil, testLogger())
		require.ErrorIs(t, err, common.ErrUnknownStoreBackend)
	})
}
