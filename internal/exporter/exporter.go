// Package exporter generates static HTML sites from markdown content trees.
package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/euforicio/mermaidmd/internal/content"
	"github.com/euforicio/mermaidmd/internal/content/tree"
	"github.com/euforicio/mermaidmd/internal/mermaid"
	"github.com/euforicio/mermaidmd/internal/renderer"
	sitestatic "github.com/euforicio/mermaidmd/static"
)

const indexHTML = "index.html"

// ErrDiagramWarnings is returned by a strict export when any diagram failed.
var ErrDiagramWarnings = errors.New("diagrams failed to render")

// Options configure the static export behavior.
type Options struct {
	Root                string
	OutputDir           string
	AssetsDir           string
	SiteTitle           string
	AssetPrefix         string
	BaseURL             string
	Exclude             []string
	IncludeHidden       bool
	GenerateSearchIndex bool
	CleanOutput         bool
	Strict              bool
	// LiveReload adds a script that reloads pages when the preview server
	// announces a rebuild.
	LiveReload          bool
}

// Result summarises a finished export.
type Result struct {
	Output   string
	Duration time.Duration
	Pages    int
	Diagrams int
	Warnings int
}

// Exporter renders markdown content into a static HTML bundle.
type Exporter struct {
	renderer  *renderer.Service
	templates *templateRenderer
	images    mermaid.ImageRenderer
	logger    *slog.Logger
}

// New constructs an exporter instance ready for use. opts.Mermaid is the
// build-wide Mermaid configuration; pages may override parts of it in front matter.
func New(logger *slog.Logger, opts renderer.Options) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tmpl, err := newTemplateRenderer()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	return &Exporter{
		renderer:  renderer.NewService(logger, opts),
		templates: tmpl,
		images:    mermaid.NewCLI(opts.Mermaid.CLIPath, opts.Mermaid.CLIArgs, opts.Mermaid.CLITimeout),
		logger:    logger.With("component", "exporter"),
	}, nil
}

// Invalidate drops cached renders for the given root-relative paths so the
// next export picks up their new content.
func (e *Exporter) Invalidate(paths ...string) {
	for _, p := range paths {
		e.renderer.Invalidate(p)
	}
}

type renderedPage struct {
	page content.Page
	doc  renderer.Document
	raw  []byte
}

// Export walks the markdown tree rooted at opts.Root and writes a static site to opts.OutputDir.
// Diagram failures are logged and counted without stopping the build; with
// opts.Strict the finished export then fails with ErrDiagramWarnings.
//
//nolint:gocognit,gocyclo // export orchestration requires sequential steps and validation
func (e *Exporter) Export(ctx context.Context, opts Options) (Result, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return Result{}, errors.New("root directory is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return Result{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(opts.AssetPrefix) == "" {
		opts.AssetPrefix = "assets"
	}
	if strings.TrimSpace(opts.SiteTitle) == "" {
		opts.SiteTitle = "mermaidmd"
	}

	rootDir, err := filepath.Abs(opts.Root)
	if err != nil {
		return Result{}, fmt.Errorf("resolve root: %w", err)
	}
	outputDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return Result{}, fmt.Errorf("resolve output: %w", err)
	}
	if outputDir == rootDir {
		return Result{}, errors.New("output directory must differ from the root directory")
	}
	assetsDir := opts.AssetsDir
	if assetsDir != "" {
		if assetsDir, err = filepath.Abs(assetsDir); err != nil {
			return Result{}, fmt.Errorf("resolve assets: %w", err)
		}
	}

	generatedAt := time.Now().UTC()

	pages, err := content.Discover(ctx, rootDir, content.Options{
		Exclude:       opts.Exclude,
		SkipDirs:      []string{outputDir},
		IncludeHidden: opts.IncludeHidden,
	})
	if err != nil {
		return Result{}, fmt.Errorf("discover pages: %w", err)
	}

	if err := e.prepareOutputDir(outputDir, opts.CleanOutput); err != nil {
		return Result{}, err
	}

	result := Result{Output: outputDir}
	rendered := make(map[string]renderedPage, len(pages))
	info := make(map[string]tree.Info, len(pages))
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		raw, err := os.ReadFile(page.AbsPath) //nolint:gosec // path comes from discovery under root
		if err != nil {
			return result, fmt.Errorf("read %s: %w", page.RelativePath, err)
		}
		doc, err := e.renderer.Render(ctx, page.RelativePath, page.ModTime, raw)
		if err != nil {
			return result, fmt.Errorf("render %s: %w", page.RelativePath, err)
		}
		for _, warning := range doc.Warnings {
			e.logger.Warn("diagram failed", slog.String("page", page.RelativePath), slog.Any("err", warning))
		}
		result.Warnings += len(doc.Warnings)
		result.Diagrams += doc.Diagrams

		rendered[page.RelativePath] = renderedPage{page: page, doc: doc, raw: raw}
		info[page.RelativePath] = tree.Info{Title: doc.Metadata.Title, Diagrams: doc.Diagrams}
	}

	treeRoot := tree.Build(opts.SiteTitle, pages, info)
	site := siteViewData{
		Title:       opts.SiteTitle,
		GeneratedAt: generatedAt,
		Tree:        treeRoot,
		BaseURL:     strings.TrimRight(opts.BaseURL, "/"),
		LiveReload:  opts.LiveReload,
	}
	treePayload := struct {
		GeneratedAt time.Time  `json:"generatedAt"`
		Root        *tree.Node `json:"root"`
	}{
		GeneratedAt: generatedAt,
		Root:        treeRoot,
	}

	assetDest := filepath.Join(outputDir, filepath.FromSlash(opts.AssetPrefix))
	if err := e.copyAssetBundle(assetDest, assetsDir); err != nil {
		return result, err
	}

	var (
		defaultPage *layoutViewData
		searchIndex []searchEntry
	)
	for _, node := range tree.Files(treeRoot) {
		entry := rendered[node.RelativePath]
		doc := entry.doc
		url := toHTMLRel(node.RelativePath)

		page := pageViewData{
			Path:        node.RelativePath,
			Output:      url,
			URL:         url,
			Title:       firstNonEmpty(doc.Metadata.Title, titleFromPath(node.RelativePath)),
			HTML:        template.HTML(doc.HTML),    //nolint:gosec // HTML from trusted renderer
			Scripts:     template.HTML(doc.Scripts), //nolint:gosec // script block built by the mermaid package
			Metadata:    doc.Metadata,
			Modified:    doc.Modified,
			Diagrams:    doc.Diagrams,
			Breadcrumbs: breadcrumbsFor(treeRoot, node.RelativePath),
		}
		if site.BaseURL != "" {
			if page.URL == indexHTML {
				page.Canonical = site.BaseURL
			} else {
				page.Canonical = fmt.Sprintf("%s/%s", site.BaseURL, page.URL)
			}
		}

		layout := layoutViewData{
			Site:        site,
			Page:        page,
			Active:      node.RelativePath,
			HasDocument: true,
			Assets:      buildAssetRefs(opts.AssetPrefix, url),
		}
		if err := e.writeCustomPage(outputDir, page.Output, layout); err != nil {
			return result, fmt.Errorf("write page %s: %w", node.RelativePath, err)
		}
		result.Pages++

		if defaultPage == nil {
			defaultPage = &layout
		}

		if opts.GenerateSearchIndex {
			searchIndex = append(searchIndex, searchEntry{
				Path:     page.URL,
				Source:   node.RelativePath,
				Title:    page.Title,
				Summary:  doc.Metadata.Description,
				Modified: doc.Modified,
				Raw:      string(entry.raw),
			})
		}
	}

	switch {
	case defaultPage == nil:
		welcome := layoutViewData{
			Site:   site,
			Assets: buildAssetRefs(opts.AssetPrefix, indexHTML),
		}
		welcome.Page.Title = site.Title
		welcome.Page.URL = indexHTML
		welcome.Page.HTML = template.HTML(`<div class="empty">No markdown documents were found under the root directory. Add <code>.md</code> files and rerun <code>mermaidmd</code>.</div>`)
		if err := e.writeCustomPage(outputDir, indexHTML, welcome); err != nil {
			return result, fmt.Errorf("write welcome page: %w", err)
		}
	case defaultPage.Page.Output != indexHTML:
		if _, ok := rendered["index.md"]; !ok {
			landing := *defaultPage
			landing.Assets = buildAssetRefs(opts.AssetPrefix, indexHTML)
			landing.Page.HTML = rebaseHTML(landing.Page.HTML, landing.Page.Output)
			landing.Page.URL = indexHTML
			landing.Page.Canonical = site.BaseURL
			if err := e.writeCustomPage(outputDir, indexHTML, landing); err != nil {
				return result, fmt.Errorf("write landing page: %w", err)
			}
		}
	}

	if err := writeJSON(outputDir, "tree.json", treePayload); err != nil {
		return result, err
	}
	if opts.GenerateSearchIndex {
		payload := struct {
			GeneratedAt time.Time     `json:"generatedAt"`
			Entries     []searchEntry `json:"entries"`
		}{
			GeneratedAt: generatedAt,
			Entries:     searchIndex,
		}
		if err := writeJSON(outputDir, "search.json", payload); err != nil {
			return result, err
		}
	}

	result.Duration = time.Since(generatedAt)
	e.logger.Info("export complete",
		slog.Int("documents", result.Pages),
		slog.Int("diagrams", result.Diagrams),
		slog.Int("warnings", result.Warnings),
		slog.String("output", outputDir),
		slog.Duration("duration", result.Duration))

	if opts.Strict && result.Warnings > 0 {
		return result, fmt.Errorf("%w: %d diagram(s)", ErrDiagramWarnings, result.Warnings)
	}
	return result, nil
}

func (e *Exporter) prepareOutputDir(output string, clean bool) error {
	if clean {
		if err := os.RemoveAll(output); err != nil {
			return fmt.Errorf("clean output: %w", err)
		}
	}
	return os.MkdirAll(output, 0o755) //nolint:gosec // standard directory permissions
}

func (e *Exporter) writeCustomPage(root, rel string, data layoutViewData) error {
	dest := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { //nolint:gosec // standard directory permissions
		return err
	}
	buf := bytes.Buffer{}
	if err := e.templates.render(&buf, layoutTemplate, data); err != nil {
		return err
	}
	return os.WriteFile(dest, buf.Bytes(), 0o644) //nolint:gosec // standard file permissions
}

func (e *Exporter) copyAssetBundle(dest, override string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("reset assets dir: %w", err)
	}
	if err := sitestatic.CopyAll(dest); err != nil {
		return fmt.Errorf("copy embedded assets: %w", err)
	}

	override = strings.TrimSpace(override)
	if override == "" {
		return nil
	}
	info, err := os.Stat(override)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("assets directory %s does not exist", override)
		}
		return fmt.Errorf("stat assets override: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("assets path %s is not a directory", override)
	}
	// Files in the override directory replace embedded ones of the same name,
	// which lets a site ship a local mermaid build next to the stylesheets.
	if err := copyAssets(override, dest); err != nil {
		return fmt.Errorf("copy override assets: %w", err)
	}
	e.logger.Debug("exporter merged override assets", slog.String("source", override))
	return nil
}

func toHTMLRel(rel string) string {
	clean := strings.TrimSpace(rel)
	if clean == "" {
		return indexHTML
	}
	ext := filepath.Ext(clean)
	if ext != "" {
		clean = strings.TrimSuffix(clean, ext)
	}
	clean = strings.TrimSuffix(clean, "/")
	if clean == "" {
		return indexHTML
	}
	return clean + ".html"
}

// relTo returns target (a site-relative path) as seen from the page at from.
func relTo(from, target string) string {
	depth := strings.Count(path.Clean(from), "/")
	if depth == 0 {
		return target
	}
	return strings.Repeat("../", depth) + target
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func titleFromPath(p string) string {
	base := path.Base(p)
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.ReplaceAll(base, "_", " ")
	parts := strings.Split(base, "-")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
	}
	return strings.Join(parts, " ")
}

type breadcrumb struct {
	Title string
}

// breadcrumbsFor lists the directories above target and the page itself.
// Directories have no page of their own, so crumbs are plain labels.
func breadcrumbsFor(root *tree.Node, target string) []breadcrumb {
	nodes := tree.PathTo(root, target)
	if len(nodes) <= 1 {
		return nil
	}
	nodes = nodes[1:]
	out := make([]breadcrumb, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, breadcrumb{Title: firstNonEmpty(node.Title, titleFromPath(node.RelativePath))})
	}
	return out
}

// rebaseHTML rewrites relative links of a page rendered for output path from
// so they still resolve from the site root. Only the landing copy needs this.
func rebaseHTML(html template.HTML, from string) template.HTML {
	dir := path.Dir(from)
	if dir == "." {
		return html
	}
	doc := string(html)
	for _, attr := range []string{`href="`, `src="`} {
		var b strings.Builder
		rest := doc
		for {
			i := strings.Index(rest, attr)
			if i < 0 {
				b.WriteString(rest)
				break
			}
			i += len(attr)
			b.WriteString(rest[:i])
			rest = rest[i:]
			end := strings.IndexByte(rest, '"')
			if end < 0 {
				b.WriteString(rest)
				break
			}
			link := rest[:end]
			if isRelativeLink(link) {
				link = path.Join(dir, link)
			}
			b.WriteString(link)
			rest = rest[end:]
		}
		doc = b.String()
	}
	return template.HTML(doc) //nolint:gosec // rewritten from trusted renderer output
}

func isRelativeLink(link string) bool {
	if link == "" || strings.HasPrefix(link, "#") || strings.HasPrefix(link, "/") || strings.HasPrefix(link, "data:") {
		return false
	}
	return !strings.Contains(link, "://") && !strings.HasPrefix(link, "mailto:")
}

func buildAssetRefs(prefix, page string) assetRefs {
	clean := strings.Trim(prefix, "/")
	if clean == "" {
		clean = "assets"
	}
	join := func(parts ...string) string {
		return relTo(page, path.Join(append([]string{clean}, parts...)...))
	}
	return assetRefs{
		CSSApp:    join("css", "app.css"),
		CSSChroma: join("css", sitestatic.ChromaFile),
		Root:      relTo(page, ""),
	}
}

func copyAssets(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755) //nolint:gosec // standard directory permissions
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // standard directory permissions
			return err
		}
		data, err := os.ReadFile(p) //nolint:gosec // path from validated source directory
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644) //nolint:gosec // standard file permissions
	})
}

func writeJSON(output, name string, payload any) error {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(output, name), raw, 0o644); err != nil { //nolint:gosec // standard file permissions
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

type searchEntry struct {
	Path     string    `json:"path"`
	Source   string    `json:"source"`
	Title    string    `json:"title"`
	Summary  string    `json:"summary,omitempty"`
	Modified time.Time `json:"modified"`
	Raw      string    `json:"raw"`
}

//nolint:govet // field order optimized for readability, not memory
type layoutViewData struct {
	Page        pageViewData
	Site        siteViewData
	Assets      assetRefs
	Active      string
	HasDocument bool
}

type siteViewData struct {
	GeneratedAt time.Time
	Tree        *tree.Node
	Title       string
	BaseURL     string
	LiveReload  bool
}

type pageViewData struct {
	Metadata    renderer.Metadata
	Modified    time.Time
	Path        string
	Output      string
	URL         string
	Title       string
	HTML        template.HTML
	Scripts     template.HTML
	Canonical   string
	Breadcrumbs []breadcrumb
	Diagrams    int
}

type assetRefs struct {
	CSSApp    string
	CSSChroma string
	// Root is the relative path from the page back to the site root.
	Root string
}
