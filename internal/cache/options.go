package cache

import (
	"maps"
	"strings"
	"time"

	"github.com/jgivc/offlinecache/internal/entity"
)

const DefaultMaxValueSize = 2 << 20

// DefaultPolicy is the TTL table per content type. Time-sensitive lists
// expire within minutes, reference data lives longer.
var DefaultPolicy = map[entity.ContentType]time.Duration{
	entity.ContentFeed:   5 * time.Minute,
	entity.ContentSearch: 5 * time.Minute,
	entity.ContentCharts: 10 * time.Minute,
	entity.ContentAlbum:  30 * time.Minute,
	entity.ContentArtist: 30 * time.Minute,
	entity.ContentGenres: 60 * time.Minute,
}

type Recorder interface {
	CacheOp(op, result string)
}

type Options struct {
	Clock        func() time.Time
	MaxValueSize int
	Policy       map[entity.ContentType]time.Duration
	Recorder     Recorder
}

type OptionFunc func(opts *Options)

func WithClock(clock func() time.Time) OptionFunc {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// WithMaxValueSize sets the ceiling on a stored value, in bytes.
func WithMaxValueSize(size int) OptionFunc {
	return func(opts *Options) {
		if size > 0 {
			opts.MaxValueSize = size
		}
	}
}

// WithPolicy overrides TTLs of the given content types and adds new ones.
// Types that are empty or contain KeySeparator are ignored: their keys
// would fall under the prefix of another type.
func WithPolicy(policy map[entity.ContentType]time.Duration) OptionFunc {
	return func(opts *Options) {
		for ct, ttl := range policy {
			if ttl > 0 && ValidContentType(ct) {
				opts.Policy[ct] = ttl
			}
		}
	}
}

func ValidContentType(ct entity.ContentType) bool {
	return ct != "" && !strings.Contains(ct.String(), KeySeparator)
}

func WithRecorder(r Recorder) OptionFunc {
	return func(opts *Options) {
		opts.Recorder = r
	}
}

func defaultOptions() *Options {
	return &Options{
		Clock:        time.Now,
		MaxValueSize: DefaultMaxValueSize,
		Policy:       maps.Clone(DefaultPolicy),
		Recorder:     nopRecorder{},
	}
}

type nopRecorder struct{}

func (nopRecorder) CacheOp(string, string) {}
