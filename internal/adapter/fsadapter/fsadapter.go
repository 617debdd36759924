package fsadapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jgivc/offlinecache/internal/common"
	"github.com/jgivc/offlinecache/internal/config"
	"github.com/jgivc/offlinecache/internal/util"
	"github.com/spf13/afero"
)

const (
	dirMode  = 0755
	fileMode = 0644

	drainLimit = 4096
)

type FileStat struct {
	Exists    bool
	SizeBytes int64
}

// ProgressFunc receives the bytes written so far and the expected total, -1 if unknown.
type ProgressFunc func(written, total int64)

type fsAdapter struct {
	fs     afero.Fs
	cfg    *config.FSAdapterConfig
	client *http.Client
	osFS   bool

	log *slog.Logger
}

func NewFSAdapter(cfg *config.FSAdapterConfig, client *http.Client, log *slog.Logger) (*fsAdapter, error) {
	return NewFSAdapterWithFS(afero.NewOsFs(), cfg, client, log)
}

func NewFSAdapterWithFS(fs afero.Fs, cfg *config.FSAdapterConfig, client *http.Client, log *slog.Logger) (*fsAdapter, error) {
	if client == nil {
		client = http.DefaultClient
	}

	if err := fs.MkdirAll(cfg.DownloadDir, dirMode); err != nil {
		return nil, fmt.Errorf("cannot create download dir %s: %w", cfg.DownloadDir, err)
	}

	_, osFS := fs.(*afero.OsFs)

	return &fsAdapter{
		fs:     fs,
		cfg:    cfg,
		client: client,
		osFS:   osFS,
		log:    log.With(slog.String("item", "FSAdapter")),
	}, nil
}

// PathFor returns the deterministic local path of the item id.
func (a *fsAdapter) PathFor(id string) string {
	ext := strings.TrimPrefix(a.cfg.FileExt, ".")

	return filepath.Join(a.cfg.DownloadDir, util.FileNameFromID(id)+"."+ext)
}

// Exists reports whether path is present. Errors other than a missing file
// are returned so callers never mistake them for absence.
func (a *fsAdapter) Exists(path string) (bool, error) {
	st, err := a.Stat(path)

	return st.Exists, err
}

func (a *fsAdapter) MkdirAll(path string) error {
	return a.fs.MkdirAll(path, dirMode)
}

func (a *fsAdapter) Stat(path string) (FileStat, error) {
	info, err := a.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileStat{}, nil
		}

		return FileStat{}, fmt.Errorf("cannot stat %s: %w", path, err)
	}

	return FileStat{Exists: true, SizeBytes: info.Size()}, nil
}

// Remove deletes the file at path. A missing file is not an error.
func (a *fsAdapter) Remove(path string) error {
	if err := a.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove %s: %w", path, err)
	}

	return nil
}

// DownloadToFile streams url into path. On a non-2xx response the target
// file is not touched. A failed transfer may leave a partial file behind.
func (a *fsAdapter) DownloadToFile(ctx context.Context, url, path string, headers map[string]string, onProgress ProgressFunc) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("cannot create request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("cannot request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

		return resp.StatusCode, fmt.Errorf("%w: %s returned %d", common.ErrBadStatus, url, resp.StatusCode)
	}

	if err := a.MkdirAll(filepath.Dir(path)); err != nil {
		return resp.StatusCode, fmt.Errorf("cannot create dir for %s: %w", path, err)
	}

	f, err := a.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("cannot create file %s: %w", path, err)
	}

	pw := &progressWriter{total: resp.ContentLength, onProgress: onProgress}
	written, err := io.Copy(f, io.TeeReader(resp.Body, pw))
	if err != nil {
		f.Close()

		return resp.StatusCode, fmt.Errorf("cannot write %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return resp.StatusCode, fmt.Errorf("cannot close %s: %w", path, err)
	}

	a.log.Debug("Downloaded file", slog.String("url", url), slog.String("path", path), slog.Int64("bytes", written))

	return resp.StatusCode, nil
}

// Capacity returns the best-effort size of the filesystem holding the
// download dir, zero when unknown.
func (a *fsAdapter) Capacity() int64 {
	if a.cfg.CapacityBytes > 0 {
		return a.cfg.CapacityBytes
	}

	if !a.osFS {
		return 0
	}

	total, err := diskCapacity(a.cfg.DownloadDir)
	if err != nil {
		a.log.Debug("Cannot get disk capacity", slog.String("path", a.cfg.DownloadDir), slog.Any("error", err))

		return 0
	}

	return total
}

type progressWriter struct {
	written    int64
	total      int64
	onProgress ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.onProgress != nil {
		w.onProgress(w.written, w.total)
	}

	return len(p), nil
}
