package manifest

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jgivc/offlinecache/internal/common"
	"github.com/jgivc/offlinecache/internal/entity"
	"github.com/jgivc/offlinecache/internal/util"
	"github.com/stretchr/testify/require"
)

func newTestAdapter() *manifestAdapter {
	return NewManifestAdapter(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})))
}

func TestParseFrontmatter(t *testing.T) {
	src := `---
title: Road trip
items:
  - id: track-1
    title: First
    artist: Band
    duration: 180
    cover: covers/1
    url: https://cdn.example.com/1.mp3
    headers:
      Authorization: Bearer token
  - id: track-2
    title: Second
    url: https://cdn.example.com/2.mp3
---

# Road trip

Nothing else to fetch here.
`

	m, err := newTestAdapter().Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, "Road trip", m.Title)
	require.Equal(t, []entity.Descriptor{
		{
			ID:              "track-1",
			Title:           "First",
			Artist:          "Band",
			DurationSeconds: 180,
			CoverArtRef:     "covers/1",
			SourceURL:       "https://cdn.example.com/1.mp3",
			Headers:         map[string]string{"Authorization": "Bearer token"},
		},
		{ID: "track-2", Title: "Second", SourceURL: "https://cdn.example.com/2.mp3"},
	}, m.Items)
}

func TestParseBodyLinks(t *testing.T) {
	src := `---
title: Mixed
items:
  - id: track-1
    url: https://cdn.example.com/1.mp3
---

* [Already listed](https://cdn.example.com/1.mp3)
* [Some *great* song](https://cdn.example.com/3.mp3 "Band")
`

	m, err := newTestAdapter().Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, m.Items, 2)

	url := "https://cdn.example.com/3.mp3"
	require.Equal(t, entity.Descriptor{
		ID:        util.GetIDFromString(&url),
		Title:     "Some great song",
		Artist:    "Band",
		SourceURL: url,
	}, m.Items[1])
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name  string
		src   string
		empty bool
	}{
		{name: "no items", src: "---\ntitle: Empty\n---\n\nJust text.\n", empty: true},
		{name: "no frontmatter", src: "# Nothing\n", empty: true},
		{name: "broken yaml", src: "---\nitems: [\n---\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newTestAdapter().Parse(strings.NewReader(tc.src))
			require.Error(t, err)
			if tc.empty {
				require.ErrorIs(t, err, common.ErrEmptyManifest)
			}
		})
	}
}
