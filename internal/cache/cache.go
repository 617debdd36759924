// Package cache is a TTL cache for API responses, tagged by content type.
// Entries are disposable: they expire lazily on read and can be evicted per
// key or per content type. Downloaded media never goes through here.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jgivc/offlinecache/internal/common"
	"github.com/jgivc/offlinecache/internal/entity"
	"github.com/jgivc/offlinecache/internal/metrics"
)

const (
	KeyPrefix    = "cache"
	KeySeparator = "_"
)

type KeyValueStore interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	MultiRemove(ctx context.Context, keys []string) error
	GetAllKeys(ctx context.Context) ([]string, error)
}

type envelope struct {
	Data      json.RawMessage `json:"data"`
	WrittenAt int64           `json:"writtenAt"` // unix milliseconds
	ExpiresAt int64           `json:"expiresAt"` // WrittenAt + ttl
}

type Store struct {
	kv   KeyValueStore
	opts *Options

	// inflight holds storage keys with a write in progress.
	inflight sync.Map

	log *slog.Logger
}

func New(kv KeyValueStore, log *slog.Logger, opts ...OptionFunc) *Store {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Store{
		kv:   kv,
		opts: options,
		log:  log.With(slog.String("item", "Cache")),
	}
}

// StorageKey returns the key an entry is persisted under: cache_<TYPE>_<key>.
func StorageKey(ct entity.ContentType, key string) string {
	return strings.Join([]string{KeyPrefix, ct.String(), key}, KeySeparator)
}

func (s *Store) TTL(ct entity.ContentType) (time.Duration, bool) {
	ttl, ok := s.opts.Policy[ct]

	return ttl, ok
}

// GetRaw returns the stored JSON of a live entry. Expired and unreadable
// entries are deleted and reported as absent.
func (s *Store) GetRaw(ctx context.Context, ct entity.ContentType, key string) (json.RawMessage, bool) {
	data, _, ok := s.get(ctx, StorageKey(ct, key))

	return data, ok
}

// get returns the payload of a live entry along with the stored value it
// was read from.
func (s *Store) get(ctx context.Context, sk string) (json.RawMessage, string, bool) {
	raw, ok, err := s.kv.GetItem(ctx, sk)
	if err != nil {
		s.log.Warn("Cannot read entry", slog.String("key", sk), slog.Any("error", err))
		s.opts.Recorder.CacheOp(metrics.CacheOpGet, metrics.CacheResultError)

		return nil, "", false
	}

	if !ok {
		s.opts.Recorder.CacheOp(metrics.CacheOpGet, metrics.CacheResultMiss)

		return nil, "", false
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		s.log.Warn("Drop unreadable entry", slog.String("key", sk), slog.Any("error", err))
		s.removeStale(ctx, sk, raw)
		s.opts.Recorder.CacheOp(metrics.CacheOpGet, metrics.CacheResultError)

		return nil, "", false
	}

	if s.opts.Clock().UnixMilli() > env.ExpiresAt {
		s.removeStale(ctx, sk, raw)
		s.opts.Recorder.CacheOp(metrics.CacheOpGet, metrics.CacheResultExpired)

		return nil, "", false
	}

	s.opts.Recorder.CacheOp(metrics.CacheOpGet, metrics.CacheResultHit)

	return env.Data, raw, true
}

// PutRaw stores data, which must be valid JSON. See Put for the write rules.
func (s *Store) PutRaw(ctx context.Context, ct entity.ContentType, key string, data json.RawMessage) bool {
	return s.put(ctx, ct, key, func() ([]byte, error) {
		if !json.Valid(data) {
			return nil, fmt.Errorf("invalid json")
		}

		return data, nil
	})
}

func (s *Store) HasValid(ctx context.Context, ct entity.ContentType, key string) bool {
	_, ok := s.GetRaw(ctx, ct, key)

	return ok
}

func (s *Store) Evict(ctx context.Context, ct entity.ContentType, key string) {
	s.remove(ctx, StorageKey(ct, key))
	s.opts.Recorder.CacheOp(metrics.CacheOpEvict, metrics.CacheResultWritten)
}

// EvictAll removes every entry of the content type and returns how many were removed.
func (s *Store) EvictAll(ctx context.Context, ct entity.ContentType) int {
	keys, err := s.kv.GetAllKeys(ctx)
	if err != nil {
		s.log.Warn("Cannot list keys", slog.String("content_type", ct.String()), slog.Any("error", err))
		s.opts.Recorder.CacheOp(metrics.CacheOpEvict, metrics.CacheResultError)

		return 0
	}

	prefix := StorageKey(ct, "")

	var matched []string
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}

	if len(matched) == 0 {
		return 0
	}

	if err := s.kv.MultiRemove(ctx, matched); err != nil {
		s.log.Warn("Cannot evict entries", slog.String("content_type", ct.String()), slog.Any("error", err))
		s.opts.Recorder.CacheOp(metrics.CacheOpEvict, metrics.CacheResultError)

		return 0
	}

	s.log.Info("Evicted entries", slog.String("content_type", ct.String()), slog.Int("count", len(matched)))
	s.opts.Recorder.CacheOp(metrics.CacheOpEvict, metrics.CacheResultWritten)

	return len(matched)
}

// put writes the value produced by encode. A second put for the same key
// while the first is still running is skipped. Unknown content types,
// encode failures, oversized values and storage errors are logged and the
// write is dropped, leaving any previous entry in place.
func (s *Store) put(ctx context.Context, ct entity.ContentType, key string, encode func() ([]byte, error)) bool {
	sk := StorageKey(ct, key)
	log := s.log.With(slog.String("key", sk))

	ttl, ok := s.TTL(ct)
	if !ok {
		log.Warn("Skip write", slog.Any("error", common.ErrUnknownContentType))
		s.opts.Recorder.CacheOp(metrics.CacheOpPut, metrics.CacheResultRejected)

		return false
	}

	if _, busy := s.inflight.LoadOrStore(sk, struct{}{}); busy {
		log.Warn("Skip concurrent write")
		s.opts.Recorder.CacheOp(metrics.CacheOpPut, metrics.CacheResultSkipped)

		return false
	}
	defer s.inflight.Delete(sk)

	data, err := encode()
	if err != nil {
		log.Warn("Cannot encode value", slog.Any("error", err))
		s.opts.Recorder.CacheOp(metrics.CacheOpPut, metrics.CacheResultRejected)

		return false
	}

	now := s.opts.Clock()
	payload, err := json.Marshal(envelope{
		Data:      data,
		WrittenAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	})
	if err != nil {
		log.Warn("Cannot encode entry", slog.Any("error", err))
		s.opts.Recorder.CacheOp(metrics.CacheOpPut, metrics.CacheResultRejected)

		return false
	}

	if len(payload) > s.opts.MaxValueSize {
		log.Warn("Skip write", slog.Int("size", len(payload)), slog.Int("limit", s.opts.MaxValueSize), slog.Any("error", common.ErrValueTooLarge))
		s.opts.Recorder.CacheOp(metrics.CacheOpPut, metrics.CacheResultRejected)

		return false
	}

	if err := s.kv.SetItem(ctx, sk, string(payload)); err != nil {
		log.Warn("Cannot write entry", slog.Any("error", err))
		s.opts.Recorder.CacheOp(metrics.CacheOpPut, metrics.CacheResultError)

		return false
	}

	s.opts.Recorder.CacheOp(metrics.CacheOpPut, metrics.CacheResultWritten)

	return true
}

// removeStale deletes the entry at sk only if it still holds seen. It takes
// the in-flight marker of the key, so a write that overlaps the removal is
// skipped as a concurrent write and a value written after seen was read is
// left alone.
func (s *Store) removeStale(ctx context.Context, sk, seen string) {
	if _, busy := s.inflight.LoadOrStore(sk, struct{}{}); busy {
		return
	}
	defer s.inflight.Delete(sk)

	cur, ok, err := s.kv.GetItem(ctx, sk)
	if err != nil || !ok || cur != seen {
		return
	}

	s.remove(ctx, sk)
}

func (s *Store) remove(ctx context.Context, sk string) {
	if err := s.kv.RemoveItem(ctx, sk); err != nil {
		s.log.Warn("Cannot remove entry", slog.String("key", sk), slog.Any("error", err))
	}
}

// Get returns the live value stored for (ct, key).
func Get[T any](ctx context.Context, s *Store, ct entity.ContentType, key string) (T, bool) {
	var v T

	sk := StorageKey(ct, key)

	data, raw, ok := s.get(ctx, sk)
	if !ok {
		return v, false
	}

	if err := json.Unmarshal(data, &v); err != nil {
		s.log.Warn("Drop entry of unexpected shape", slog.String("key", sk), slog.Any("error", err))
		s.removeStale(ctx, sk, raw)

		var zero T
		return zero, false
	}

	return v, true
}

// Put serializes v and stores it with the TTL of ct. It reports whether the value was written.
func Put[T any](ctx context.Context, s *Store, ct entity.ContentType, key string, v T) bool {
	return s.put(ctx, ct, key, func() ([]byte, error) {
		return json.Marshal(v)
	})
}
