package entity

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jgivc/offlinecache/internal/common"
)

// CatalogEntry is one downloaded media item. LocalPath is expected to exist
// while the entry does.
type CatalogEntry struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	DurationSeconds int    `json:"durationSeconds"`
	CoverArtRef     string `json:"coverArtRef,omitempty"`
	SourceURL       string `json:"sourceUrl"`
	LocalPath       string `json:"localPath"`
	DownloadedAt    int64  `json:"downloadedAt"` // unix milliseconds
	FileSizeBytes   int64  `json:"fileSizeBytes"`
}

// Descriptor is what a caller knows about an item before it is downloaded.
type Descriptor struct {
	ID              string            `json:"id" yaml:"id"`
	Title           string            `json:"title" yaml:"title"`
	Artist          string            `json:"artist" yaml:"artist"`
	DurationSeconds int               `json:"durationSeconds" yaml:"duration"`
	CoverArtRef     string            `json:"coverArtRef" yaml:"cover"`
	SourceURL       string            `json:"sourceUrl" yaml:"url"`
	Headers         map[string]string `json:"headers,omitempty" yaml:"headers"`
}

func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: empty id", common.ErrInvalidDescriptor)
	}

	if strings.TrimSpace(d.SourceURL) == "" {
		return fmt.Errorf("%w: %s: empty source url", common.ErrInvalidDescriptor, d.ID)
	}

	u, err := url.Parse(d.SourceURL)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", common.ErrInvalidDescriptor, d.ID, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s: unsupported scheme %q", common.ErrInvalidDescriptor, d.ID, u.Scheme)
	}

	return nil
}

// ToEntry builds the catalog entry for a finished download.
func (d *Descriptor) ToEntry(localPath string, downloadedAt, size int64) CatalogEntry {
	return CatalogEntry{
		ID:              d.ID,
		Title:           d.Title,
		Artist:          d.Artist,
		DurationSeconds: d.DurationSeconds,
		CoverArtRef:     d.CoverArtRef,
		SourceURL:       d.SourceURL,
		LocalPath:       localPath,
		DownloadedAt:    downloadedAt,
		FileSizeBytes:   size,
	}
}

type StorageUsage struct {
	UsedBytes  int64 `json:"usedBytes"`
	TotalBytes int64 `json:"totalBytes"` // advisory, zero when unknown
}
