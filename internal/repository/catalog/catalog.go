package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jgivc/offlinecache/internal/adapter/fsadapter"
	"github.com/jgivc/offlinecache/internal/common"
	"github.com/jgivc/offlinecache/internal/entity"
)

// KeyCatalog holds the whole catalog as one JSON array. Every mutation
// rewrites the full list, which is fine for hundreds of entries.
const KeyCatalog = "offline_catalog"

type KeyValueStore interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

type FileStore interface {
	Stat(path string) (fsadapter.FileStat, error)
	Remove(path string) error
}

type catalogRepository struct {
	// mu serializes read-modify-write cycles of the index within this process.
	mu  sync.Mutex
	kv  KeyValueStore
	fs  FileStore
	log *slog.Logger
}

func NewCatalogRepository(kv KeyValueStore, fs FileStore, log *slog.Logger) *catalogRepository {
	return &catalogRepository{
		kv:  kv,
		fs:  fs,
		log: log.With(slog.String("item", "CatalogRepository")),
	}
}

// List returns the entries whose backing file still exists. Entries with a
// missing file are dropped from the persisted index. Entries that cannot be
// checked right now are left out of the result but kept in the index.
func (r *catalogRepository) List(ctx context.Context) []entity.CatalogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(ctx)
	if err != nil {
		r.log.Error("Cannot load catalog", slog.Any("error", err))

		return []entity.CatalogEntry{}
	}

	kept := make([]entity.CatalogEntry, 0, len(entries))
	verified := make([]entity.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		st, err := r.fs.Stat(e.LocalPath)
		if err != nil {
			r.log.Warn("Cannot verify entry", slog.String("id", e.ID), slog.String("path", e.LocalPath), slog.Any("error", err))
			kept = append(kept, e)

			continue
		}

		if !st.Exists {
			r.log.Warn("Drop entry with missing file", slog.String("id", e.ID), slog.String("path", e.LocalPath))

			continue
		}

		kept = append(kept, e)
		verified = append(verified, e)
	}

	if len(kept) != len(entries) {
		if err := r.save(ctx, kept); err != nil {
			r.log.Error("Cannot persist pruned catalog", slog.Any("error", err))
		}
	}

	return verified
}

func (r *catalogRepository) Get(ctx context.Context, id string) (entity.CatalogEntry, bool) {
	for _, e := range r.List(ctx) {
		if e.ID == id {
			return e, true
		}
	}

	return entity.CatalogEntry{}, false
}

// Upsert inserts entry or replaces the one with the same id. On failure the
// persisted index is left as it was.
func (r *catalogRepository) Upsert(ctx context.Context, entry entity.CatalogEntry) error {
	if entry.ID == "" || entry.LocalPath == "" {
		return fmt.Errorf("%w: id and local path are required", common.ErrInvalidEntry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(ctx)
	if err != nil {
		return fmt.Errorf("cannot load catalog: %w", err)
	}

	replaced := false
	for i := range entries {
		if entries[i].ID == entry.ID {
			entries[i] = entry
			replaced = true

			break
		}
	}

	if !replaced {
		entries = append(entries, entry)
	}

	if err := r.save(ctx, entries); err != nil {
		return fmt.Errorf("cannot save catalog: %w", err)
	}

	r.log.Debug("Upsert entry", slog.String("id", entry.ID), slog.Bool("replaced", replaced))

	return nil
}

// Remove deletes the backing file and the entry. It reports whether the entry existed.
func (r *catalogRepository) Remove(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(ctx)
	if err != nil {
		r.log.Error("Cannot load catalog", slog.Any("error", err))

		return false
	}

	idx := -1
	for i := range entries {
		if entries[i].ID == id {
			idx = i

			break
		}
	}

	if idx < 0 {
		return false
	}

	if err := r.fs.Remove(entries[idx].LocalPath); err != nil {
		r.log.Warn("Cannot remove file", slog.String("id", id), slog.Any("error", err))
	}

	entries = append(entries[:idx], entries[idx+1:]...)
	if err := r.save(ctx, entries); err != nil {
		r.log.Error("Cannot save catalog", slog.String("id", id), slog.Any("error", err))
	}

	return true
}

// Clear deletes every backing file and the index. It returns the number of entries removed.
func (r *catalogRepository) Clear(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(ctx)
	if err != nil {
		r.log.Error("Cannot load catalog", slog.Any("error", err))

		return 0
	}

	for _, e := range entries {
		if err := r.fs.Remove(e.LocalPath); err != nil {
			r.log.Warn("Cannot remove file", slog.String("id", e.ID), slog.Any("error", err))
		}
	}

	if err := r.kv.RemoveItem(ctx, KeyCatalog); err != nil {
		r.log.Error("Cannot clear catalog", slog.Any("error", err))
	}

	r.log.Info("Catalog cleared", slog.Int("count", len(entries)))

	return len(entries)
}

func (r *catalogRepository) load(ctx context.Context) ([]entity.CatalogEntry, error) {
	raw, ok, err := r.kv.GetItem(ctx, KeyCatalog)
	if err != nil {
		return nil, err
	}

	if !ok || raw == "" {
		return nil, nil
	}

	var entries []entity.CatalogEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		// An unreadable index is treated as empty; the next write replaces it.
		r.log.Error("Cannot decode catalog", slog.Any("error", err))

		return nil, nil
	}

	return entries, nil
}

func (r *catalogRepository) save(ctx context.Context, entries []entity.CatalogEntry) error {
	if entries == nil {
		entries = []entity.CatalogEntry{}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("cannot encode catalog: %w", err)
	}

	return r.kv.SetItem(ctx, KeyCatalog, string(data))
}
