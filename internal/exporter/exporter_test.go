package exporter_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/euforicio/mermaidmd/internal/exporter"
	"github.com/euforicio/mermaidmd/internal/mermaid"
	"github.com/euforicio/mermaidmd/internal/renderer"
)

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func newExporter(t *testing.T, mutate func(*mermaid.Config)) *exporter.Exporter {
	t.Helper()
	cfg := mermaid.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	exp, err := exporter.New(logger, renderer.Options{Mermaid: cfg})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return exp
}

func openPage(t *testing.T, path string) *goquery.Document {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return doc
}

func TestExportBuildsSite(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	out := filepath.Join(t.TempDir(), "site")

	writeFile(t, root, "index.md", "---\ntitle: Home\n---\n\nSee [the guide](guide/flow.md).\n")
	writeFile(t, root, "guide/flow.md", "# Flow\n\n```mermaid {#checkout zoom=true}\ngraph TD;\nA-->B;\n```\n")
	writeFile(t, root, "drafts/wip.md", "# WIP\n")

	exp := newExporter(t, nil)
	res, err := exp.Export(context.Background(), exporter.Options{
		Root:                root,
		OutputDir:           out,
		SiteTitle:           "Handbook",
		BaseURL:             "https://docs.example.com/",
		Exclude:             []string{"drafts/**"},
		GenerateSearchIndex: true,
		CleanOutput:         true,
	})
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if res.Pages != 2 || res.Diagrams != 1 || res.Warnings != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := os.Stat(filepath.Join(out, "drafts", "wip.html")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("excluded page was written: %v", err)
	}
	for _, asset := range []string{"assets/css/app.css", "assets/css/chroma.css", "tree.json", "search.json"} {
		if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(asset))); err != nil {
			t.Fatalf("expected %s: %v", asset, err)
		}
	}

	home := openPage(t, filepath.Join(out, "index.html"))
	if href, _ := home.Find("article p a").Attr("href"); href != "guide/flow.html" {
		t.Fatalf("expected rewritten link, got %q", href)
	}
	if href, _ := home.Find(`link[rel="canonical"]`).Attr("href"); href != "https://docs.example.com" {
		t.Fatalf("unexpected canonical %q", href)
	}
	if home.Find("head script").Length() != 0 {
		t.Fatalf("page without diagrams should not load mermaid")
	}

	flow := openPage(t, filepath.Join(out, "guide", "flow.html"))
	if flow.Find("div.mermaid#checkout").Length() != 1 {
		t.Fatalf("expected diagram with explicit id")
	}
	if href, _ := flow.Find(`link[rel="stylesheet"]`).First().Attr("href"); href != "../assets/css/app.css" {
		t.Fatalf("unexpected stylesheet path %q", href)
	}
	scripts, _ := flow.Find("head").Html()
	if !strings.Contains(scripts, mermaid.ClassicScriptURL(mermaid.DefaultVersion)) || !strings.Contains(scripts, "#checkout") {
		t.Fatalf("expected library and zoom scripts in head, got %s", scripts)
	}
	if href, _ := flow.Find("nav li.file a").First().Attr("href"); !strings.HasPrefix(href, "../") {
		t.Fatalf("nav links must be relative to the page, got %q", href)
	}

	raw, err := os.ReadFile(filepath.Join(out, "search.json"))
	if err != nil {
		t.Fatalf("read search index: %v", err)
	}
	var index struct {
		Entries []struct {
			Path   string `json:"path"`
			Source string `json:"source"`
			Title  string `json:"title"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(raw, &index); err != nil {
		t.Fatalf("decode search index: %v", err)
	}
	if len(index.Entries) != 2 {
		t.Fatalf("expected 2 search entries, got %d", len(index.Entries))
	}
}

func TestExportStrictFailsOnDiagramErrors(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	out := filepath.Join(t.TempDir(), "site")
	writeFile(t, root, "broken.md", "```mermaid {#dup}\ngraph TD;\n```\n\n```mermaid {#dup}\ngraph LR;\n```\n")

	exp := newExporter(t, nil)
	opts := exporter.Options{Root: root, OutputDir: out, CleanOutput: true}

	res, err := exp.Export(context.Background(), opts)
	if err != nil {
		t.Fatalf("non-strict export should succeed, got %v", err)
	}
	if res.Warnings != 1 {
		t.Fatalf("expected 1 warning, got %d", res.Warnings)
	}
	page := openPage(t, filepath.Join(out, "broken.html"))
	if page.Find(".mermaid-error").Length() != 1 {
		t.Fatalf("expected rendered error block")
	}

	opts.Strict = true
	if _, err := exp.Export(context.Background(), opts); !errors.Is(err, exporter.ErrDiagramWarnings) {
		t.Fatalf("expected ErrDiagramWarnings, got %v", err)
	}
}

func TestExportLandingPageWithoutIndex(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	out := filepath.Join(t.TempDir(), "site")
	writeFile(t, root, "guide/install.md", "# Install\n\nNext: [start](start.md)\n")
	writeFile(t, root, "guide/start.md", "# Start\n")

	exp := newExporter(t, nil)
	if _, err := exp.Export(context.Background(), exporter.Options{Root: root, OutputDir: out}); err != nil {
		t.Fatalf("Export returned error: %v", err)
	}

	landing := openPage(t, filepath.Join(out, "index.html"))
	if href, _ := landing.Find("article p a").Attr("href"); href != "guide/start.html" {
		t.Fatalf("expected landing links rebased to the site root, got %q", href)
	}
	if href, _ := landing.Find(`link[rel="stylesheet"]`).First().Attr("href"); href != "assets/css/app.css" {
		t.Fatalf("unexpected landing stylesheet %q", href)
	}
}

func TestExportEmptyRoot(t *testing.T) {
	t.Parallel()
	out := filepath.Join(t.TempDir(), "site")

	exp := newExporter(t, nil)
	res, err := exp.Export(context.Background(), exporter.Options{Root: t.TempDir(), OutputDir: out})
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if res.Pages != 0 {
		t.Fatalf("expected no pages, got %d", res.Pages)
	}
	welcome := openPage(t, filepath.Join(out, "index.html"))
	if welcome.Find(".empty").Length() != 1 {
		t.Fatalf("expected welcome message")
	}
}

func TestExportRejectsOutputEqualToRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	exp := newExporter(t, nil)
	if _, err := exp.Export(context.Background(), exporter.Options{Root: root, OutputDir: root}); err == nil {
		t.Fatalf("expected error when output equals root")
	}
}
