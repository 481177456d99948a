package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	pdf "github.com/stephenafamo/goldmark-pdf"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	sitestatic "github.com/euforicio/mermaidmd/static"
)

// Format represents an export format.
type Format string

const (
	// FormatHTML exports as HTML.
	FormatHTML Format = "html"
	// FormatMarkdown exports as markdown.
	FormatMarkdown Format = "markdown"
	// FormatPlainText exports as plain text.
	FormatPlainText Format = "txt"
	// FormatPDF exports as PDF.
	FormatPDF Format = "pdf"
)

// ValidFormats returns the list of supported export formats.
func ValidFormats() []Format {
	return []Format{FormatHTML, FormatMarkdown, FormatPlainText, FormatPDF}
}

// IsValidFormat checks if the given format is valid.
func IsValidFormat(format string) bool {
	f := Format(strings.ToLower(strings.TrimSpace(format)))
	for _, valid := range ValidFormats() {
		if f == valid {
			return true
		}
	}
	return false
}

// ExportPageOptions configures a single page export.
type ExportPageOptions struct {
	Writer  io.Writer
	Format  Format
	RootDir string
	// Path is relative to RootDir.
	Path    string
}

// ExportPage exports a single page in the specified format. HTML output is a
// standalone document carrying the page's diagram scripts; PDF output embeds
// diagrams pre-rendered by the mermaid CLI when it is available.
func (e *Exporter) ExportPage(ctx context.Context, opts ExportPageOptions) error {
	opts.Format = Format(strings.ToLower(strings.TrimSpace(string(opts.Format))))
	if err := validateExportPageOptions(opts); err != nil {
		return err
	}

	rootDir, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	absPath, err := resolveExportPath(rootDir, opts.Path)
	if err != nil {
		return err
	}

	info, raw, err := readExportSource(absPath, opts.Path)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(rootDir, absPath)
	if err != nil {
		return fmt.Errorf("resolve page path: %w", err)
	}
	rel = filepath.ToSlash(rel)

	switch opts.Format {
	case FormatHTML:
		return e.exportHTML(ctx, rel, info.ModTime(), raw, opts.Writer)
	case FormatMarkdown:
		return e.exportMarkdown(raw, opts.Writer)
	case FormatPlainText:
		return e.exportPlainText(ctx, rel, info.ModTime(), raw, opts.Writer)
	case FormatPDF:
		return e.exportPDF(ctx, filepath.Dir(absPath), raw, opts.Writer)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}
}

func validateExportPageOptions(opts ExportPageOptions) error {
	if strings.TrimSpace(opts.RootDir) == "" {
		return errors.New("root directory is required")
	}
	if strings.TrimSpace(opts.Path) == "" {
		return errors.New("page path is required")
	}
	if opts.Writer == nil {
		return errors.New("writer is required")
	}
	if !IsValidFormat(string(opts.Format)) {
		return fmt.Errorf("unsupported format: %s (allowed: html, pdf, markdown, txt)", opts.Format)
	}
	return nil
}

func resolveExportPath(rootDir, pagePath string) (string, error) {
	cleanPath := filepath.Clean(pagePath)
	if strings.Contains(cleanPath, "..") || filepath.IsAbs(cleanPath) {
		return "", errors.New("invalid path: directory traversal not allowed")
	}

	absPath := filepath.Join(rootDir, filepath.FromSlash(cleanPath))
	absPath, err := filepath.Abs(absPath)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	if !strings.HasPrefix(absPath, rootDir+string(filepath.Separator)) && absPath != rootDir {
		return "", errors.New("invalid path: must be within root directory")
	}

	return absPath, nil
}

func readExportSource(absPath, originalPath string) (os.FileInfo, []byte, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("page not found: %s", originalPath)
		}
		return nil, nil, fmt.Errorf("stat page: %w", err)
	}

	raw, err := os.ReadFile(absPath) //nolint:gosec // absPath constructed from validated root
	if err != nil {
		return nil, nil, fmt.Errorf("read page: %w", err)
	}

	return info, raw, nil
}

func (e *Exporter) exportHTML(ctx context.Context, rel string, modTime time.Time, raw []byte, w io.Writer) error {
	doc, err := e.renderer.Render(ctx, rel, modTime, raw)
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	e.logWarnings(rel, doc.Warnings)

	css, err := inlineCSS()
	if err != nil {
		return err
	}

	data := struct {
		Title   string
		CSS     template.CSS
		Scripts template.HTML
		HTML    template.HTML
	}{
		Title:   doc.Metadata.Title,
		CSS:     css,
		Scripts: template.HTML(doc.Scripts), //nolint:gosec // script block built by the mermaid package
		HTML:    template.HTML(doc.HTML),    //nolint:gosec // HTML from trusted renderer
	}

	return e.templates.render(w, standaloneTemplate, data)
}

// inlineCSS bundles the site stylesheet and the highlighting theme so a
// single exported page renders without the asset directory.
func inlineCSS() (template.CSS, error) {
	var buf bytes.Buffer
	app, err := fs.ReadFile(sitestatic.FS(), "css/app.css")
	if err != nil {
		return "", fmt.Errorf("read stylesheet: %w", err)
	}
	buf.Write(app)
	buf.WriteByte('\n')
	if err := sitestatic.WriteChromaCSS(&buf, sitestatic.ChromaStyle); err != nil {
		return "", err
	}
	return template.CSS(buf.String()), nil //nolint:gosec // embedded stylesheet
}

func (e *Exporter) exportMarkdown(raw []byte, w io.Writer) error {
	_, err := w.Write(raw)
	return err
}

func (e *Exporter) exportPlainText(ctx context.Context, rel string, modTime time.Time, raw []byte, w io.Writer) error {
	doc, err := e.renderer.Render(ctx, rel, modTime, raw)
	if err != nil {
		return fmt.Errorf("render text: %w", err)
	}
	e.logWarnings(rel, doc.Warnings)

	text, err := plainText(doc.HTML)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	_, err = io.WriteString(w, text)
	return err
}

// plainText returns the readable text of an HTML fragment. Scripts, styles
// and editor links are dropped; diagram sources stay as they were written.
func plainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, .mermaid-link").Remove()

	text := doc.Text()
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n")), nil
}

// exportPDF renders raw through goldmark-pdf. Relative images resolve against
// pageDir. Built-in PDF fonts are used so the export needs no font downloads.
func (e *Exporter) exportPDF(ctx context.Context, pageDir string, raw []byte, w io.Writer) error {
	enc := diagramEncoder{images: e.images}
	encoded, err := enc.encode(ctx, raw)
	if err != nil {
		return fmt.Errorf("encode diagrams: %w", err)
	}

	// The PDF renderer has no notion of the diagram node, so mermaid fences
	// reach it either as embedded PNG images or as plain code blocks.
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			meta.Meta,
			highlighting.NewHighlighting(
				highlighting.WithStyle("monokai"),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRenderer(pdf.New(
			pdf.WithContext(ctx),
			pdf.WithImageFS(http.Dir(pageDir)),
			pdf.WithHeadingFont(pdf.FontHelvetica),
			pdf.WithBodyFont(pdf.FontHelvetica),
			pdf.WithCodeFont(pdf.FontCourier),
		)),
	)

	if err := md.Convert(encoded, w); err != nil {
		return fmt.Errorf("convert markdown to PDF: %w", err)
	}
	return nil
}

func (e *Exporter) logWarnings(rel string, warnings []error) {
	for _, warning := range warnings {
		e.logger.Warn("diagram failed", slog.String("page", rel), slog.Any("err", warning))
	}
}

// ContentType returns the MIME type for the given format.
func ContentType(format Format) string {
	switch format {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatPlainText:
		return "text/plain; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// FileExtension returns the file extension for the given format.
func FileExtension(format Format) string {
	switch format {
	case FormatHTML:
		return ".html"
	case FormatMarkdown:
		return ".md"
	case FormatPlainText:
		return ".txt"
	case FormatPDF:
		return ".pdf"
	default:
		return ""
	}
}
