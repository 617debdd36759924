package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jgivc/offlinecache/internal/adapter/fsadapter"
	"github.com/jgivc/offlinecache/internal/adapter/manifest"
	"github.com/jgivc/offlinecache/internal/cache"
	"github.com/jgivc/offlinecache/internal/config"
	"github.com/jgivc/offlinecache/internal/entity"
	httphandler "github.com/jgivc/offlinecache/internal/handler/http"
	"github.com/jgivc/offlinecache/internal/metrics"
	"github.com/jgivc/offlinecache/internal/repository/catalog"
	"github.com/jgivc/offlinecache/internal/service/download"
	"github.com/jgivc/offlinecache/internal/service/offline"
	"github.com/jgivc/offlinecache/internal/storage/kv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
)

const (
	metricsNamespace = "offlinecache"

	startTimeout = 5 * time.Second
	dumpTimeout  = 5 * time.Second
	stopTimeout  = 5 * time.Second
)

type App struct {
	cfgPath string
	cfg     *config.Config
	srv     *http.Server
	offline *offline.Service
	closeKV func() error
	log     *slog.Logger
}

func New(cfgPath string) *App {
	return &App{
		cfgPath: cfgPath,
	}
}

func (a *App) Start() {
	a.cfg = config.MustLoad(a.cfgPath)

	log := newLogger(a.cfg.LogLevel)
	a.log = log

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	fs := afero.NewOsFs()

	store, closeKV, err := kv.New(ctx, &a.cfg.KVConfig, fs, log)
	if err != nil {
		panic(err)
	}
	a.closeKV = closeKV

	client := &http.Client{Timeout: a.cfg.DownloadConfig.HTTPTimeout}
	fsa, err := fsadapter.NewFSAdapterWithFS(fs, a.cfg.FSAdapterConfig(), client, log)
	if err != nil {
		panic(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metricsNamespace, reg)

	repo := catalog.NewCatalogRepository(store, fsa, log)
	contentCache := cache.New(store, log,
		cache.WithMaxValueSize(a.cfg.CacheConfig.MaxValueSize),
		cache.WithPolicy(cachePolicy(a.cfg.CacheConfig.TTL, log)),
		cache.WithRecorder(m),
	)
	coordinator := download.NewDownloadService(repo, fsa, &a.cfg.DownloadConfig, m, log)
	a.offline = offline.NewService(coordinator, repo, manifest.NewManifestAdapter(log), contentCache, log)

	a.srv = &http.Server{
		Addr:    a.cfg.Listen,
		Handler: httphandler.NewMux(a.offline, reg, log),
	}

	go func() {
		log.Info("Start listen", slog.String("addr", a.cfg.Listen))

		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Could not serve", slog.String("listen_addr", a.cfg.Listen), slog.Any("error", err))
			os.Exit(2)
		}
	}()
}

// Batch downloads the items of the configured manifest.
func (a *App) Batch() {
	if a.cfg.Manifest == "" {
		fmt.Println("No manifest configured.")

		return
	}

	f, err := os.Open(a.cfg.Manifest)
	if err != nil {
		fmt.Printf("Cannot open manifest: %s\n", err)

		return
	}
	defer f.Close()

	fmt.Println("Downloading...")

	n, err := a.offline.DownloadManifest(context.Background(), f)
	if err != nil {
		fmt.Printf("Cannot download manifest: %s\n", err)

		return
	}

	fmt.Printf("Done, %d items offline.\n", n)
}

// Dump prints the catalog and the storage usage.
func (a *App) Dump() {
	ctx, cancel := context.WithTimeout(context.Background(), dumpTimeout)
	defer cancel()

	for i, e := range a.offline.Catalog(ctx) {
		fmt.Printf("%d. %s - %s (%s) -> %s, %d bytes\n", i+1, e.Artist, e.Title, e.ID, e.LocalPath, e.FileSizeBytes)
	}

	usage := a.offline.StorageUsage(ctx)
	fmt.Printf("Used %d of %d bytes\n", usage.UsedBytes, usage.TotalBytes)
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := a.srv.Shutdown(ctx); err != nil {
		a.log.Error("Cannot shutdown server", slog.Any("error", err))
	}

	if err := a.closeKV(); err != nil {
		a.log.Error("Cannot close key/value store", slog.Any("error", err))
	}
}

func newLogger(level string) *slog.Logger {
	lo := &slog.HandlerOptions{}
	switch level {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		panic("unknown log level")
	}

	return slog.New(slog.NewTextHandler(os.Stderr, lo))
}

// cachePolicy maps config TTL keys to content types, case insensitively.
// Keys that cannot name a content type are skipped.
func cachePolicy(ttl map[string]time.Duration, log *slog.Logger) map[entity.ContentType]time.Duration {
	policy := make(map[entity.ContentType]time.Duration, len(ttl))
	for k, v := range ttl {
		ct := entity.ContentType(strings.ToUpper(k))
		if !cache.ValidContentType(ct) {
			log.Warn("Skip cache ttl", slog.String("content_type", k))

			continue
		}

		policy[ct] = v
	}

	return policy
}
