package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/jgivc/offlinecache/internal/common"
	"github.com/jgivc/offlinecache/internal/entity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxDescriptorSize = 64 << 10
	maxManifestSize   = 1 << 20
)

var (
	idRegexp = regexp.MustCompile(`^[\w.:-]{1,256}$`)
)

type CatalogService interface {
	Catalog(ctx context.Context) []entity.CatalogEntry
	Entry(ctx context.Context, id string) (entity.CatalogEntry, error)
	Evict(ctx context.Context, id string) bool
	StorageUsage(ctx context.Context) entity.StorageUsage
}

type DownloadService interface {
	Download(ctx context.Context, d entity.Descriptor) bool
	DownloadManifest(ctx context.Context, r io.Reader) (int, error)
	Progress(id string) (entity.DownloadProgress, bool)
}

type OfflineService interface {
	CatalogService
	DownloadService
}

type BatchResult struct {
	Succeeded int `json:"succeeded"`
}

// NewMux registers the admin endpoints. Metrics are served from gatherer
// when it is not nil.
func NewMux(srv OfflineService, gatherer prometheus.Gatherer, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /catalog/{$}", NewCatalogHandler(srv, log))
	mux.Handle("GET /offline/{id}/{$}", NewEntryHandler(srv, log))
	mux.Handle("DELETE /offline/{id}/{$}", NewEvictHandler(srv, log))
	mux.Handle("GET /usage/{$}", NewUsageHandler(srv, log))
	mux.Handle("POST /download/{$}", NewDownloadHandler(srv, log))
	mux.Handle("POST /batch/{$}", NewBatchHandler(srv, log))
	mux.Handle("GET /progress/{id}/{$}", NewProgressHandler(srv, log))

	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

func NewCatalogHandler(srv CatalogService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "CatalogHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, srv.Catalog(r.Context()), log)
	}
}

func NewEntryHandler(srv CatalogService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "EntryHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !idRegexp.MatchString(id) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		e, err := srv.Entry(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, common.ErrEntryNotFound):
				http.Error(w, "Not offline", http.StatusNotFound)
			default:
				http.Error(w, "Cannot get entry", http.StatusInternalServerError)
			}

			return
		}

		writeJSON(w, http.StatusOK, e, log)
	}
}

func NewEvictHandler(srv CatalogService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "EvictHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !idRegexp.MatchString(id) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		if !srv.Evict(r.Context(), id) {
			http.Error(w, "Not offline", http.StatusNotFound)

			return
		}

		log.Info("Evict", slog.String("id", id))

		w.WriteHeader(http.StatusNoContent)
	}
}

func NewUsageHandler(srv CatalogService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "UsageHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, srv.StorageUsage(r.Context()), log)
	}
}

// NewDownloadHandler runs the download in the request and answers with the
// final progress of the item: 200 when it is offline, 502 otherwise.
func NewDownloadHandler(srv DownloadService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "DownloadHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		var d entity.Descriptor
		if err := json.NewDecoder(io.LimitReader(r.Body, maxDescriptorSize)).Decode(&d); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		if err := d.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		// The download outlives a client that hangs up.
		ctx := context.WithoutCancel(r.Context())

		status := http.StatusOK
		if !srv.Download(ctx, d) {
			status = http.StatusBadGateway
		}

		p, _ := srv.Progress(d.ID)
		writeJSON(w, status, p, log)
	}
}

func NewBatchHandler(srv DownloadService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "BatchHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithoutCancel(r.Context())

		n, err := srv.DownloadManifest(ctx, io.LimitReader(r.Body, maxManifestSize))
		if err != nil {
			log.Warn("Cannot run batch", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		writeJSON(w, http.StatusOK, BatchResult{Succeeded: n}, log)
	}
}

func NewProgressHandler(srv DownloadService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "ProgressHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !idRegexp.MatchString(id) {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		p, ok := srv.Progress(id)
		if !ok {
			http.Error(w, "No progress", http.StatusNotFound)

			return
		}

		writeJSON(w, http.StatusOK, p, log)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Cannot write response", slog.Any("error", err))
	}
}
