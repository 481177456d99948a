// Package renderer converts markdown to HTML with caching, syntax highlighting and
// Mermaid diagram blocks.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	"go.abhg.dev/goldmark/anchor"

	"github.com/euforicio/mermaidmd/internal/mermaid"
	"github.com/euforicio/mermaidmd/internal/renderer/transform"
)

// Metadata captures optional frontmatter data rendered alongside a document.
type Metadata struct {
	Raw         map[string]any
	Title       string
	Description string
	Tags        []string
}

// IsZero reports whether the metadata carries any meaningful values.
func (m Metadata) IsZero() bool {
	if m.Title != "" || m.Description != "" || len(m.Tags) > 0 {
		return false
	}
	return len(m.Raw) == 0
}

// Document represents a rendered markdown file.
//
//nolint:govet // field order optimized for readability, not memory
type Document struct {
	HTML     string
	Scripts  string
	Metadata Metadata
	Modified time.Time
	Raw      string
	Diagrams int
	Warnings []error
}

type cacheEntry struct {
	modTime time.Time
	doc     Document
}

type cacheKey string

// Service renders markdown into HTML with caching.
// Fenced mermaid blocks become diagram blocks; every other fence is highlighted
// with chroma. Relative .md links are rewritten to the .html pages the exporter
// writes. Rendered documents are cached by path and modification time.
type Service struct {
	md       goldmark.Markdown
	logger   *slog.Logger
	sanitize bool
	cache    sync.Map // map[cacheKey]cacheEntry
}

// Options configure the renderer.
type Options struct {
	Mermaid mermaid.Config
	// Sanitize filters page HTML through an allow-list so raw HTML in
	// untrusted sources cannot inject scripts.
	Sanitize bool
}

// linkTransformer rewrites relative .md links to the sibling .html page.
type linkTransformer struct{}

func (t *linkTransformer) Transform(node *ast.Document, _ text.Reader, _ parser.Context) {
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if link, ok := n.(*ast.Link); ok {
			t.transformLink(link)
		}
		return ast.WalkContinue, nil
	})
}

func (t *linkTransformer) transformLink(link *ast.Link) {
	dest := string(link.Destination)
	if dest == "" || t.isExternalLink(dest) || strings.HasPrefix(dest, "#") {
		return
	}

	target, fragment, _ := strings.Cut(dest, "#")
	ext := path.Ext(target)
	if ext != ".md" && ext != ".markdown" {
		return
	}

	target = strings.TrimSuffix(target, ext) + ".html"
	if fragment != "" {
		target += "#" + fragment
	}
	link.Destination = []byte(target)
}

func (t *linkTransformer) isExternalLink(dest string) bool {
	return strings.HasPrefix(dest, "http://") || strings.HasPrefix(dest, "https://") || strings.HasPrefix(dest, "mailto:")
}

// NewService constructs a markdown renderer with GitHub-flavored markdown support.
// The renderer includes:
//   - GitHub-flavored markdown extensions (tables, strikethrough, task lists, autolinks, etc.)
//   - Mermaid diagram blocks, configured by opts.Mermaid and per-page front matter
//   - Syntax highlighting with the github-dark theme
//   - YAML frontmatter parsing for document metadata
//   - Raw HTML rendering enabled, filtered by an allow-list when opts.Sanitize is set
//
// If logger is nil, the default slog logger is used.
func NewService(logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	highlight := highlighting.NewHighlighting(
		highlighting.WithStyle("github-dark"),
		highlighting.WithFormatOptions(
			html.WithLineNumbers(false),
			html.WithClasses(true),
		),
	)

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			goldmarkmeta.Meta,
			highlight,
			&anchor.Extender{
				Position: anchor.After, // Place anchor link after heading text
			},
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithAttribute(), // Enable attribute syntax for blocks and inlines
			parser.WithASTTransformers(
				util.Prioritized(&linkTransformer{}, 100),
				util.Prioritized(transform.NewMermaidTransformer(opts.Mermaid, logger.With("component", "mermaid")), 200),
			),
		),
		goldmark.WithRendererOptions(
			// Enable unsafe HTML rendering to allow raw HTML like GitHub does.
			htmlrenderer.WithUnsafe(),
			htmlrenderer.WithXHTML(),
			renderer.WithNodeRenderers(
				util.Prioritized(transform.NewMermaidBlockRenderer(), 100),
			),
		),
	)

	return &Service{
		md:       md,
		logger:   logger.With("component", "renderer"),
		sanitize: opts.Sanitize,
	}
}

// Render converts markdown content to HTML, caching results by path and modification time.
// If a cached entry exists with a matching modification time, it is returned immediately.
// Otherwise, the markdown is parsed and rendered, then cached for future requests.
// The path parameter is used for cache key generation and seeds the generated diagram ids.
// ctx bounds any diagram pre-rendering done through the mermaid CLI.
func (s *Service) Render(ctx context.Context, path string, modTime time.Time, content []byte) (Document, error) {
	key := cacheKey(path)

	if entry, ok := s.cache.Load(key); ok {
		if cached, ok := entry.(cacheEntry); ok {
			if !cached.modTime.IsZero() && modTime.Equal(cached.modTime) {
				return cached.doc, nil
			}
		}
	}

	parserCtx := parser.NewContext()
	parserCtx.Set(transform.PagePathKey, path)
	parserCtx.Set(transform.RenderContextKey, ctx)
	buf := bytes.NewBuffer(nil)

	if err := s.md.Convert(content, buf, parser.WithContext(parserCtx)); err != nil {
		return Document{}, fmt.Errorf("render markdown: %w", err)
	}

	metadata := extractMetadata(parserCtx)
	body := buf.String()
	if s.sanitize {
		body = sanitizeHTML(body)
	}
	doc := Document{
		HTML:     body,
		Metadata: metadata,
		Modified: modTime,
		Raw:      string(content),
	}

	if state := transform.PageStateFrom(parserCtx); state != nil {
		var scripts bytes.Buffer
		if err := mermaid.RenderPageScripts(&scripts, state.Config, state.Registry); err != nil {
			return Document{}, fmt.Errorf("render page scripts: %w", err)
		}
		doc.Scripts = scripts.String()
		doc.Diagrams = state.Registry.Diagrams()
		doc.Warnings = state.Warnings
		if len(doc.Warnings) > 0 {
			s.logger.Debug("rendered with diagram warnings", slog.String("path", path), slog.Int("warnings", len(doc.Warnings)))
		}
	}

	s.cache.Store(key, cacheEntry{modTime: modTime, doc: doc})
	return doc, nil
}

// Invalidate removes the cached entry for the given path.
// This should be called when a document is updated or deleted to ensure
// the next Render call processes the latest content.
func (s *Service) Invalidate(path string) {
	s.cache.Delete(cacheKey(path))
}

func extractMetadata(ctx parser.Context) Metadata {
	raw, err := goldmarkmeta.TryGet(ctx)
	if err != nil {
		return Metadata{}
	}
	var meta Metadata
	if raw == nil {
		return meta
	}

	meta.Raw = make(map[string]any)
	for k, v := range raw {
		meta.Raw[k] = v
		switch k {
		case "title":
			if str, ok := toString(v); ok {
				meta.Title = str
			}
		case "description", "summary":
			if str, ok := toString(v); ok {
				meta.Description = str
			}
		case "tags", "keywords":
			meta.Tags = toStringSlice(v)
		case "mermaid":
			// Diagram settings are consumed by the transformer, not surfaced as metadata.
			delete(meta.Raw, k)
		}
	}

	if len(meta.Raw) == 0 {
		meta.Raw = nil
	}

	return meta
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if str, ok := toString(item); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	default:
		if str, ok := toString(v); ok {
			return []string{str}
		}
		return nil
	}
}
