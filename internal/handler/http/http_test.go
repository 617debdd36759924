package httphandler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jgivc/offlinecache/internal/common"
	"github.com/jgivc/offlinecache/internal/entity"
	"github.com/jgivc/offlinecache/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	entries  map[string]entity.CatalogEntry
	progress map[string]entity.DownloadProgress
	batch    []string
}

func newFakeService() *fakeService {
	return &fakeService{
		entries: map[string]entity.CatalogEntry{
			"a": {ID: "a", Title: "A", LocalPath: "/media/a.mp3", FileSizeBytes: 10},
		},
		progress: make(map[string]entity.DownloadProgress),
	}
}

func (f *fakeService) Catalog(context.Context) []entity.CatalogEntry {
	out := make([]entity.CatalogEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out
}

func (f *fakeService) Entry(_ context.Context, id string) (entity.CatalogEntry, error) {
	e, ok := f.entries[id]
	if !ok {
		return entity.CatalogEntry{}, fmt.Errorf("%w: %s", common.ErrEntryNotFound, id)
	}
	return e, nil
}

func (f *fakeService) Evict(_ context.Context, id string) bool {
	_, ok := f.entries[id]
	delete(f.entries, id)
	return ok
}

func (f *fakeService) StorageUsage(context.Context) entity.StorageUsage {
	return entity.StorageUsage{UsedBytes: 10, TotalBytes: 100}
}

func (f *fakeService) Download(_ context.Context, d entity.Descriptor) bool {
	if strings.Contains(d.SourceURL, "fail") {
		f.progress[d.ID] = entity.DownloadProgress{ItemID: d.ID, State: entity.StateFailed, ErrorMessage: "boom"}
		return false
	}
	f.progress[d.ID] = entity.DownloadProgress{ItemID: d.ID, PercentComplete: 100, State: entity.StateCompleted}
	return true
}

func (f *fakeService) DownloadManifest(_ context.Context, r io.Reader) (int, error) {
	data, _ := io.ReadAll(r)
	if len(data) == 0 {
		return 0, common.ErrEmptyManifest
	}
	f.batch = strings.Fields(string(data))
	return len(f.batch), nil
}

func (f *fakeService) Progress(id string) (entity.DownloadProgress, bool) {
	p, ok := f.progress[id]
	return p, ok
}

func newTestMux(srv *fakeService) *http.ServeMux {
	reg := prometheus.NewRegistry()
	metrics.New("test", reg).DownloadStarted()

	return NewMux(srv, reg, slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})))
}

func do(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))

	return rec
}

func TestCatalogEndpoints(t *testing.T) {
	srv := newFakeService()
	mux := newTestMux(srv)

	testCases := []struct {
		name   string
		method string
		target string
		status int
		body   string
	}{
		{name: "list", method: http.MethodGet, target: "/catalog/", status: http.StatusOK, body: `"id":"a"`},
		{name: "entry", method: http.MethodGet, target: "/offline/a/", status: http.StatusOK, body: `"localPath":"/media/a.mp3"`},
		{name: "missing entry", method: http.MethodGet, target: "/offline/b/", status: http.StatusNotFound},
		{name: "bad id", method: http.MethodGet, target: "/offline/a%20b/", status: http.StatusBadRequest},
		{name: "usage", method: http.MethodGet, target: "/usage/", status: http.StatusOK, body: `{"usedBytes":10,"totalBytes":100}`},
		{name: "metrics", method: http.MethodGet, target: "/metrics", status: http.StatusOK, body: "test_downloads_in_flight 1"},
		{name: "evict", method: http.MethodDelete, target: "/offline/a/", status: http.StatusNoContent},
		{name: "evict again", method: http.MethodDelete, target: "/offline/a/", status: http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(mux, tc.method, tc.target, "")
			require.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				require.Contains(t, rec.Body.String(), tc.body)
			}
		})
	}
}

func TestDownloadEndpoints(t *testing.T) {
	srv := newFakeService()
	mux := newTestMux(srv)

	rec := do(mux, http.MethodPost, "/download/", `{"id":"x","sourceUrl":"https://cdn.example.com/x.mp3"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var p entity.DownloadProgress
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	require.Equal(t, entity.DownloadProgress{ItemID: "x", PercentComplete: 100, State: entity.StateCompleted}, p)

	rec = do(mux, http.MethodPost, "/download/", `{"id":"y","sourceUrl":"https://cdn.example.com/fail"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), `"errorMessage":"boom"`)

	require.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/download/", `{"id":"z","sourceUrl":"ftp://x"}`).Code)
	require.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/download/", `not json`).Code)

	rec = do(mux, http.MethodGet, "/progress/y/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"failed"`)
	require.Equal(t, http.StatusNotFound, do(mux, http.MethodGet, "/progress/nope/", "").Code)

	rec = do(mux, http.MethodPost, "/batch/", "one two three")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"succeeded":3}`, rec.Body.String())
	require.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/batch/", "").Code)

	require.Equal(t, http.StatusMethodNotAllowed, do(mux, http.MethodGet, "/download/", "").Code)
}
