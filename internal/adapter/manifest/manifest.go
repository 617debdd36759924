// Package manifest reads download batches from markdown files.
//
// Items come from the YAML frontmatter:
//
//	---
//	title: Road trip
//	items:
//	  - id: track-1
//	    title: Song
//	    artist: Band
//	    duration: 180
//	    url: https://cdn.example.com/track-1.mp3
//	---
//
// Links in the markdown body are added as well, keyed by the sha1 of their
// URL. A body link whose URL is already listed in the frontmatter is skipped.
package manifest

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jgivc/offlinecache/internal/common"
	"github.com/jgivc/offlinecache/internal/entity"
	"github.com/jgivc/offlinecache/internal/util"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/frontmatter"
)

type Manifest struct {
	Title string              `yaml:"title"`
	Items []entity.Descriptor `yaml:"items"`
}

type manifestAdapter struct {
	md  goldmark.Markdown
	log *slog.Logger
}

func NewManifestAdapter(log *slog.Logger) *manifestAdapter {
	md := goldmark.New(
		goldmark.WithExtensions(
			&frontmatter.Extender{},
		),
	)

	return &manifestAdapter{
		md:  md,
		log: log.With(slog.String("item", "ManifestAdapter")),
	}
}

// Parse reads a manifest. It fails with common.ErrEmptyManifest when
// neither the frontmatter nor the body yields an item.
func (a *manifestAdapter) Parse(r io.Reader) (*Manifest, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cannot read manifest: %w", err)
	}

	pc := parser.NewContext()
	doc := a.md.Parser().Parse(text.NewReader(src), parser.WithContext(pc))

	var m Manifest
	if fm := frontmatter.Get(pc); fm != nil {
		if err := fm.Decode(&m); err != nil {
			return nil, fmt.Errorf("cannot decode frontmatter: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(m.Items))
	for _, d := range m.Items {
		seen[d.SourceURL] = struct{}{}
	}

	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		link, ok := n.(*ast.Link)
		if !ok {
			return ast.WalkContinue, nil
		}

		url := string(link.Destination)
		if _, ok := seen[url]; ok || url == "" {
			return ast.WalkSkipChildren, nil
		}
		seen[url] = struct{}{}

		m.Items = append(m.Items, entity.Descriptor{
			ID:        util.GetIDFromString(&url),
			Title:     linkText(link, src),
			Artist:    string(link.Title),
			SourceURL: url,
		})

		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot walk manifest: %w", err)
	}

	if len(m.Items) == 0 {
		return nil, common.ErrEmptyManifest
	}

	a.log.Debug("Manifest parsed", slog.String("title", m.Title), slog.Int("items", len(m.Items)))

	return &m, nil
}

func linkText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		default:
			buf.WriteString(linkText(c, src))
		}
	}

	return strings.TrimSpace(buf.String())
}
