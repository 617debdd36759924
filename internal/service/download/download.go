// Package download runs item downloads into the offline catalog and
// publishes per-item progress.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jgivc/offlinecache/internal/adapter/fsadapter"
	"github.com/jgivc/offlinecache/internal/config"
	"github.com/jgivc/offlinecache/internal/entity"
)

const (
	serviceName = "download"

	defaultConcurrency = 3
	transferPercentCap = 99
)

type CatalogRepository interface {
	List(ctx context.Context) []entity.CatalogEntry
	Get(ctx context.Context, id string) (entity.CatalogEntry, bool)
	Upsert(ctx context.Context, entry entity.CatalogEntry) error
}

type FSAdapter interface {
	PathFor(id string) string
	DownloadToFile(ctx context.Context, url, path string, headers map[string]string, onProgress fsadapter.ProgressFunc) (int, error)
	Stat(path string) (fsadapter.FileStat, error)
	Capacity() int64
}

type Metrics interface {
	DownloadStarted()
	DownloadFinished(state entity.DownloadState, size int64)
	DownloadSkipped()
}

type downloadService struct {
	catalog     CatalogRepository
	fs          FSAdapter
	metrics     Metrics
	concurrency int
	clock       func() time.Time

	// emitMu orders progress mutations and their place in the event queue.
	emitMu     sync.Mutex
	progressMu sync.RWMutex
	progress   map[string]entity.DownloadProgress
	events     *broker

	inflightMu sync.Mutex
	inflight   map[string]int

	log *slog.Logger
}

func NewDownloadService(catalog CatalogRepository, fs FSAdapter, cfg *config.DownloadConfig, metrics Metrics, log *slog.Logger) *downloadService {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	if metrics == nil {
		metrics = nopMetrics{}
	}

	log = log.With(slog.String("service", serviceName))

	return &downloadService{
		catalog:     catalog,
		fs:          fs,
		metrics:     metrics,
		concurrency: concurrency,
		clock:       time.Now,
		progress:    make(map[string]entity.DownloadProgress),
		events:      newBroker(log),
		inflight:    make(map[string]int),
		log:         log,
	}
}

// DownloadItem makes the item available offline. It returns true once a
// catalog entry for the item is persisted, immediately if one already
// exists. Failures are reported as a failed progress event; the target
// file may be left partially written but is never linked from the catalog.
func (s *downloadService) DownloadItem(ctx context.Context, d entity.Descriptor) bool {
	log := s.log.With(slog.String("id", d.ID))

	if err := d.Validate(); err != nil {
		log.Error("Reject download", slog.Any("error", err))

		return false
	}

	if _, ok := s.catalog.Get(ctx, d.ID); ok {
		log.Debug("Already offline")
		s.setProgress(entity.DownloadProgress{ItemID: d.ID, PercentComplete: 100, State: entity.StateCompleted})
		s.metrics.DownloadSkipped()

		return true
	}

	s.enter(d.ID)
	defer s.leave(d.ID)

	s.setProgress(entity.DownloadProgress{ItemID: d.ID, State: entity.StateDownloading})
	s.metrics.DownloadStarted()

	path := s.fs.PathFor(d.ID)

	size, err := s.transfer(ctx, d, path)
	if err != nil {
		s.fail(log, d.ID, err)

		return false
	}

	entry := d.ToEntry(path, s.clock().UnixMilli(), size)
	if err := s.catalog.Upsert(ctx, entry); err != nil {
		s.fail(log, d.ID, fmt.Errorf("cannot save catalog entry: %w", err))

		return false
	}

	s.setProgress(entity.DownloadProgress{ItemID: d.ID, PercentComplete: 100, State: entity.StateCompleted})
	s.metrics.DownloadFinished(entity.StateCompleted, size)

	log.Info("Download completed", slog.String("path", path), slog.Int64("size", size))

	return true
}

// DownloadBatch downloads items in consecutive groups of the configured
// concurrency. Items of a group run together and the whole group settles
// before the next one starts. It returns the number of successful items.
func (s *downloadService) DownloadBatch(ctx context.Context, items []entity.Descriptor) int {
	var succeeded atomic.Int64

	for start := 0; start < len(items); start += s.concurrency {
		group := items[start:min(start+s.concurrency, len(items))]

		var wg sync.WaitGroup
		wg.Add(len(group))
		for _, d := range group {
			go func(d entity.Descriptor) {
				defer wg.Done()

				if s.DownloadItem(ctx, d) {
					succeeded.Add(1)
				}
			}(d)
		}
		wg.Wait()

		s.log.Debug("Group settled", slog.Int("from", start), slog.Int("size", len(group)))
	}

	s.log.Info("Batch finished", slog.Int("total", len(items)), slog.Int64("succeeded", succeeded.Load()))

	return int(succeeded.Load())
}

func (s *downloadService) ProgressOf(id string) (entity.DownloadProgress, bool) {
	s.progressMu.RLock()
	defer s.progressMu.RUnlock()

	p, ok := s.progress[id]

	return p, ok
}

// Subscribe registers fn for every progress mutation of any item. The
// returned func removes this registration; calling it again is a no-op.
func (s *downloadService) Subscribe(fn Listener) func() {
	return s.events.subscribe(fn)
}

func (s *downloadService) IsOffline(ctx context.Context, id string) bool {
	_, ok := s.catalog.Get(ctx, id)

	return ok
}

func (s *downloadService) OfflinePathFor(ctx context.Context, id string) (string, bool) {
	e, ok := s.catalog.Get(ctx, id)
	if !ok {
		return "", false
	}

	return e.LocalPath, true
}

// StorageUsage sums the sizes of verified catalog entries. TotalBytes is
// advisory and zero when the filesystem size is unknown.
func (s *downloadService) StorageUsage(ctx context.Context) entity.StorageUsage {
	var used int64
	for _, e := range s.catalog.List(ctx) {
		used += e.FileSizeBytes
	}

	return entity.StorageUsage{UsedBytes: used, TotalBytes: s.fs.Capacity()}
}

func (s *downloadService) transfer(ctx context.Context, d entity.Descriptor, path string) (int64, error) {
	lastPercent := 0
	onProgress := func(written, total int64) {
		if total <= 0 {
			return
		}

		// 100 is reported only once the catalog entry is saved.
		percent := min(int(written*100/total), transferPercentCap)
		if percent > lastPercent {
			lastPercent = percent
			s.setProgress(entity.DownloadProgress{ItemID: d.ID, PercentComplete: percent, State: entity.StateDownloading})
		}
	}

	if _, err := s.fs.DownloadToFile(ctx, d.SourceURL, path, d.Headers, onProgress); err != nil {
		return 0, err
	}

	st, err := s.fs.Stat(path)
	if err != nil {
		return 0, err
	}

	if !st.Exists {
		return 0, fmt.Errorf("downloaded file %s is missing", path)
	}

	return st.SizeBytes, nil
}

func (s *downloadService) fail(log *slog.Logger, id string, err error) {
	log.Error("Download failed", slog.Any("error", err))

	percent := 0
	if p, ok := s.ProgressOf(id); ok {
		percent = p.PercentComplete
	}

	s.setProgress(entity.DownloadProgress{ItemID: id, PercentComplete: percent, State: entity.StateFailed, ErrorMessage: err.Error()})
	s.metrics.DownloadFinished(entity.StateFailed, 0)
}

// setProgress records p and queues it for listeners in the same critical
// section; delivery happens after the lock is released.
func (s *downloadService) setProgress(p entity.DownloadProgress) {
	s.emitMu.Lock()
	s.progressMu.Lock()
	s.progress[p.ItemID] = p
	s.progressMu.Unlock()
	s.events.enqueue(p)
	s.emitMu.Unlock()

	s.events.drain()
}

// enter records an in-flight transfer. Requests for an id already in flight
// are not deduplicated; both write the same path and the last catalog write wins.
func (s *downloadService) enter(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	if s.inflight[id] > 0 {
		s.log.Warn("Duplicate in-flight download", slog.String("id", id), slog.Int("in_flight", s.inflight[id]))
	}

	s.inflight[id]++
}

func (s *downloadService) leave(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	s.inflight[id]--
	if s.inflight[id] <= 0 {
		delete(s.inflight, id)
	}
}

type nopMetrics struct{}

func (nopMetrics) DownloadStarted() {}

func (nopMetrics) DownloadFinished(entity.DownloadState, int64) {}

func (nopMetrics) DownloadSkipped() {}
