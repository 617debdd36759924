// Package offline is the in-process surface other services use to manage
// offline media and the response cache.
package offline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jgivc/offlinecache/internal/adapter/manifest"
	"github.com/jgivc/offlinecache/internal/cache"
	"github.com/jgivc/offlinecache/internal/common"
	"github.com/jgivc/offlinecache/internal/entity"
	"github.com/jgivc/offlinecache/internal/service/download"
)

const (
	serviceName = "offline"
)

type Coordinator interface {
	DownloadItem(ctx context.Context, d entity.Descriptor) bool
	DownloadBatch(ctx context.Context, items []entity.Descriptor) int
	ProgressOf(id string) (entity.DownloadProgress, bool)
	Subscribe(fn download.Listener) func()
	IsOffline(ctx context.Context, id string) bool
	OfflinePathFor(ctx context.Context, id string) (string, bool)
	StorageUsage(ctx context.Context) entity.StorageUsage
}

type CatalogRepository interface {
	List(ctx context.Context) []entity.CatalogEntry
	Get(ctx context.Context, id string) (entity.CatalogEntry, bool)
	Remove(ctx context.Context, id string) bool
	Clear(ctx context.Context) int
}

type ManifestParser interface {
	Parse(r io.Reader) (*manifest.Manifest, error)
}

type Service struct {
	coordinator Coordinator
	catalog     CatalogRepository
	manifest    ManifestParser
	cache       *cache.Store
	log         *slog.Logger
}

func NewService(coordinator Coordinator, catalog CatalogRepository, parser ManifestParser, cache *cache.Store, log *slog.Logger) *Service {
	return &Service{
		coordinator: coordinator,
		catalog:     catalog,
		manifest:    parser,
		cache:       cache,
		log:         log.With(slog.String("service", serviceName)),
	}
}

// Download makes one item available offline and reports whether a catalog
// entry exists for it afterwards. Failures are published as progress.
func (s *Service) Download(ctx context.Context, d entity.Descriptor) bool {
	return s.coordinator.DownloadItem(ctx, d)
}

func (s *Service) DownloadBatch(ctx context.Context, items []entity.Descriptor) int {
	return s.coordinator.DownloadBatch(ctx, items)
}

// DownloadManifest parses a manifest from r and downloads its items as one
// batch. Only parse failures are returned as errors.
func (s *Service) DownloadManifest(ctx context.Context, r io.Reader) (int, error) {
	m, err := s.manifest.Parse(r)
	if err != nil {
		return 0, fmt.Errorf("cannot parse manifest: %w", err)
	}

	s.log.Info("Download manifest", slog.String("title", m.Title), slog.Int("items", len(m.Items)))

	return s.coordinator.DownloadBatch(ctx, m.Items), nil
}

func (s *Service) IsOffline(ctx context.Context, id string) bool {
	return s.coordinator.IsOffline(ctx, id)
}

func (s *Service) OfflinePath(ctx context.Context, id string) (string, bool) {
	return s.coordinator.OfflinePathFor(ctx, id)
}

func (s *Service) Catalog(ctx context.Context) []entity.CatalogEntry {
	return s.catalog.List(ctx)
}

func (s *Service) Entry(ctx context.Context, id string) (entity.CatalogEntry, error) {
	e, ok := s.catalog.Get(ctx, id)
	if !ok {
		return entity.CatalogEntry{}, fmt.Errorf("%w: %s", common.ErrEntryNotFound, id)
	}

	return e, nil
}

// Evict removes the downloaded file and its catalog entry.
func (s *Service) Evict(ctx context.Context, id string) bool {
	removed := s.catalog.Remove(ctx, id)
	if removed {
		s.log.Info("Evicted", slog.String("id", id))
	}

	return removed
}

func (s *Service) EvictAll(ctx context.Context) int {
	n := s.catalog.Clear(ctx)
	s.log.Info("Evicted all", slog.Int("count", n))

	return n
}

func (s *Service) StorageUsage(ctx context.Context) entity.StorageUsage {
	return s.coordinator.StorageUsage(ctx)
}

func (s *Service) Progress(id string) (entity.DownloadProgress, bool) {
	return s.coordinator.ProgressOf(id)
}

func (s *Service) Subscribe(fn download.Listener) func() {
	return s.coordinator.Subscribe(fn)
}

// Cache returns the content cache for typed reads and writes through
// cache.Get and cache.Put.
func (s *Service) Cache() *cache.Store {
	return s.cache
}
