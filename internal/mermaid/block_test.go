package mermaid_test

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/euforicio/mermaidmd/internal/mermaid"
)

const sequenceSource = "sequenceDiagram\n   participant Alice\n   participant Bob\n   Alice->John: Hello John, how are you?\n"

func rawConfig(mutate func(*mermaid.Config)) mermaid.PageConfig {
	cfg := mermaid.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return mermaid.Resolve(cfg, mermaid.Overrides{})
}

func TestRenderBlockEscapesSource(t *testing.T) {
	t.Parallel()
	reg := mermaid.NewRegistry("index.md")
	var buf bytes.Buffer
	if err := mermaid.RenderBlock(context.Background(), &buf, mermaid.Block{Source: sequenceSource}, rawConfig(nil), reg); err != nil {
		t.Fatalf("RenderBlock returned error: %v", err)
	}

	want := "<div class=\"mermaid\">\n" +
		"sequenceDiagram\n   participant Alice\n   participant Bob\n   Alice-&gt;John: Hello John, how are you?\n" +
		"</div>\n"
	if buf.String() != want {
		t.Fatalf("unexpected block html:\n%s", buf.String())
	}
	if reg.Diagrams() != 1 {
		t.Fatalf("expected 1 diagram registered, got %d", reg.Diagrams())
	}
	if len(reg.ZoomIDs()) != 0 {
		t.Fatalf("expected no zoom ids, got %v", reg.ZoomIDs())
	}
}

func TestRenderBlockZoomAssignsID(t *testing.T) {
	t.Parallel()
	reg := mermaid.NewRegistry("zoom.md")
	cfg := rawConfig(nil)
	ctx := context.Background()

	var first, second bytes.Buffer
	if err := mermaid.RenderBlock(ctx, &first, mermaid.Block{Source: sequenceSource}, cfg, reg); err != nil {
		t.Fatalf("first block: %v", err)
	}
	if err := mermaid.RenderBlock(ctx, &second, mermaid.Block{Source: "flowchart TD\n  A --> B\n", Zoom: true}, cfg, reg); err != nil {
		t.Fatalf("second block: %v", err)
	}

	if !strings.HasPrefix(first.String(), "<div class=\"mermaid\">\nsequenceDiagram") {
		t.Fatalf("expected first diagram without id, got %s", first.String())
	}
	match := regexp.MustCompile(`^<div id="(id-[a-fA-F0-9-]+)" class="mermaid">\nflowchart TD`).FindStringSubmatch(second.String())
	if match == nil {
		t.Fatalf("expected generated id on zoomable diagram, got %s", second.String())
	}
	ids := reg.ZoomIDs()
	if len(ids) != 1 || ids[0] != match[1] {
		t.Fatalf("expected zoom ids [%s], got %v", match[1], ids)
	}
}

func TestRenderBlockExplicitIDMustBeUnique(t *testing.T) {
	t.Parallel()
	reg := mermaid.NewRegistry("ids.md")
	cfg := rawConfig(nil)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := mermaid.RenderBlock(ctx, &buf, mermaid.Block{Source: "graph TD;A-->B;", ID: "overview"}, cfg, reg); err != nil {
		t.Fatalf("first block: %v", err)
	}
	if !strings.HasPrefix(buf.String(), `<div id="overview" class="mermaid">`) {
		t.Fatalf("expected explicit id, got %s", buf.String())
	}

	buf.Reset()
	err := mermaid.RenderBlock(ctx, &buf, mermaid.Block{Source: "graph TD;B-->C;", ID: "overview"}, cfg, reg)
	var cfgErr *mermaid.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError for duplicate id, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected nothing written on error, got %q", buf.String())
	}
	if reg.Diagrams() != 1 {
		t.Fatalf("failed block must not be counted, got %d", reg.Diagrams())
	}
}

func TestRenderBlockEditorLink(t *testing.T) {
	t.Parallel()
	reg := mermaid.NewRegistry("link.md")
	cfg := rawConfig(func(c *mermaid.Config) { c.LinkToEditor = true })

	var buf bytes.Buffer
	if err := mermaid.RenderBlock(context.Background(), &buf, mermaid.Block{Source: sequenceSource}, cfg, reg); err != nil {
		t.Fatalf("RenderBlock returned error: %v", err)
	}

	html := buf.String()
	prefix := `<a href="` + mermaid.DefaultEditorURL + "#pako:"
	start := strings.Index(html, prefix)
	if start < 0 {
		t.Fatalf("expected editor link, got %s", html)
	}
	rest := html[start+len(prefix):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		t.Fatalf("unterminated href in %s", html)
	}
	if !strings.HasPrefix(rest[end:], `" class="mermaid-link source" target="_blank">Open Graph in Editor</a>`+"\n") {
		t.Fatalf("unexpected anchor attributes: %s", rest[end:])
	}

	state, err := mermaid.DecodeEditorState(rest[:end])
	if err != nil {
		t.Fatalf("decode editor payload: %v", err)
	}
	if state.Code != sequenceSource {
		t.Fatalf("round trip mismatch:\ngot:  %q\nwant: %q", state.Code, sequenceSource)
	}
	if strings.Contains(html, "<p") {
		t.Fatalf("unaligned block must not be wrapped, got %s", html)
	}
}

func TestRenderBlockEditorLinkAligned(t *testing.T) {
	t.Parallel()
	reg := mermaid.NewRegistry("align.md")
	cfg := rawConfig(func(c *mermaid.Config) { c.LinkToEditor = true })

	var buf bytes.Buffer
	block := mermaid.Block{Source: sequenceSource, Align: mermaid.AlignCenter}
	if err := mermaid.RenderBlock(context.Background(), &buf, block, cfg, reg); err != nil {
		t.Fatalf("RenderBlock returned error: %v", err)
	}

	html := buf.String()
	if !strings.HasPrefix(html, `<div class="mermaid align-center">`) {
		t.Fatalf("expected aligned div, got %s", html)
	}
	if !strings.Contains(html, "<p align=\"center\">\n<a href=\"") || !strings.HasSuffix(html, "Open Graph in Editor</a>\n</p>\n") {
		t.Fatalf("expected anchor wrapped in aligned paragraph, got %s", html)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	if n := doc.Find(`p[align="center"] > a.mermaid-link`).Length(); n != 1 {
		t.Fatalf("expected 1 aligned editor link, found %d", n)
	}
	if n := doc.Find("p div.mermaid").Length(); n != 0 {
		t.Fatalf("diagram div must not sit inside a paragraph")
	}
	if got := strings.TrimPrefix(doc.Find("div.mermaid").Text(), "\n"); got != sequenceSource {
		t.Fatalf("diagram text changed by escaping:\ngot:  %q\nwant: %q", got, sequenceSource)
	}
}

func TestRenderBlockEmptySource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var buf bytes.Buffer
	err := mermaid.RenderBlock(ctx, &buf, mermaid.Block{Source: "  \n"}, rawConfig(nil), mermaid.NewRegistry("empty.md"))
	if !errors.Is(err, mermaid.ErrEmptyDiagram) {
		t.Fatalf("expected ErrEmptyDiagram, got %v", err)
	}
	var cfgErr *mermaid.ConfigError
	if errors.As(err, &cfgErr) {
		t.Fatalf("plain empty diagram should not be a config error")
	}

	linked := rawConfig(func(c *mermaid.Config) { c.LinkToEditor = true })
	err = mermaid.RenderBlock(ctx, &buf, mermaid.Block{}, linked, mermaid.NewRegistry("empty.md"))
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError with editor links enabled, got %v", err)
	}
	if !errors.Is(err, mermaid.ErrEmptyDiagram) {
		t.Fatalf("expected ConfigError to wrap ErrEmptyDiagram")
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestRenderBlockRejectsUnknownAlignment(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := mermaid.RenderBlock(context.Background(), &buf, mermaid.Block{Source: "graph TD;A-->B;", Align: "middle"}, rawConfig(nil), mermaid.NewRegistry("a.md"))
	var cfgErr *mermaid.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "align" {
		t.Fatalf("expected align ConfigError, got %v", err)
	}
}

func TestRenderBlockCaption(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	block := mermaid.Block{Source: "graph TD;A-->B;", Caption: "Flow <1>"}
	if err := mermaid.RenderBlock(context.Background(), &buf, block, rawConfig(nil), mermaid.NewRegistry("c.md")); err != nil {
		t.Fatalf("RenderBlock returned error: %v", err)
	}
	html := buf.String()
	if !strings.HasPrefix(html, "<figure class=\"mermaid-figure\">\n<div class=\"mermaid\">") {
		t.Fatalf("expected figure wrapper, got %s", html)
	}
	if !strings.HasSuffix(html, "<figcaption>Flow &lt;1&gt;</figcaption>\n</figure>\n") {
		t.Fatalf("expected escaped caption, got %s", html)
	}
}

type fakeImages struct {
	data   []byte
	err    error
	calls  int
	format mermaid.Format
}

func (f *fakeImages) Render(_ context.Context, _ string, format mermaid.Format) ([]byte, error) {
	f.calls++
	f.format = format
	return f.data, f.err
}

func TestRenderBlockPreRenderedSVG(t *testing.T) {
	t.Parallel()
	images := &fakeImages{data: []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 120 80"></svg>`)}
	cfg := rawConfig(func(c *mermaid.Config) { c.OutputFormat = "svg" })
	cfg.Images = images
	reg := mermaid.NewRegistry("img.md")

	var buf bytes.Buffer
	block := mermaid.Block{Source: "graph TD;A-->B;", Alt: "A to B", Zoom: true}
	if err := mermaid.RenderBlock(context.Background(), &buf, block, cfg, reg); err != nil {
		t.Fatalf("RenderBlock returned error: %v", err)
	}

	html := buf.String()
	if images.calls != 1 || images.format != mermaid.FormatSVG {
		t.Fatalf("expected one svg render, got %d calls (%s)", images.calls, images.format)
	}
	for _, want := range []string{`<img class="mermaid-image"`, `src="data:image/svg+xml;base64,`, `alt="A to B"`, `width="120" height="80"`} {
		if !strings.Contains(html, want) {
			t.Fatalf("expected %q in %s", want, html)
		}
	}
	if reg.Diagrams() != 0 || len(reg.ZoomIDs()) != 0 {
		t.Fatalf("pre-rendered images must not require page scripts")
	}
}

func TestRenderBlockPreRenderFailure(t *testing.T) {
	t.Parallel()
	images := &fakeImages{err: mermaid.ErrCLIUnavailable}
	cfg := rawConfig(func(c *mermaid.Config) { c.OutputFormat = "png" })
	cfg.Images = images
	reg := mermaid.NewRegistry("img.md")
	block := mermaid.Block{Source: "graph TD;A-->B;", ID: " chart "}

	var buf bytes.Buffer
	err := mermaid.RenderBlock(context.Background(), &buf, block, cfg, reg)
	if !errors.Is(err, mermaid.ErrCLIUnavailable) {
		t.Fatalf("expected ErrCLIUnavailable, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
	if reg.Has("chart") {
		t.Fatalf("failed render must not reserve its id")
	}

	images.err = nil
	images.data = []byte("not a png")
	if err := mermaid.RenderBlock(context.Background(), &buf, block, cfg, reg); err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if !strings.Contains(buf.String(), ` id="chart" `) {
		t.Fatalf("expected trimmed id on image, got %s", buf.String())
	}
	if !reg.Has("chart") {
		t.Fatalf("expected id reserved after a successful render")
	}
}
