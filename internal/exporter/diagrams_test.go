package exporter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/euforicio/mermaidmd/internal/mermaid"
)

type fakeImages struct {
	calls []string
	data  []byte
	err   error
}

func (f *fakeImages) Render(_ context.Context, source string, format mermaid.Format) ([]byte, error) {
	if format != mermaid.FormatPNG {
		return nil, errors.New("unexpected format " + string(format))
	}
	f.calls = append(f.calls, source)
	if f.err != nil {
		return nil, f.err
	}
	if f.data != nil {
		return f.data, nil
	}
	return []byte("png"), nil
}

func TestDiagramEncoderEmbedsMermaidFences(t *testing.T) {
	t.Parallel()
	images := &fakeImages{}
	enc := diagramEncoder{images: images}

	raw := "# Title\n\n```mermaid {#flow align=center}\ngraph TD;\nA-->B;\n```\n\n```go\nfmt.Println(1)\n```\n"
	out, err := enc.encode(context.Background(), []byte(raw))
	if err != nil {
		t.Fatalf("encode returned error: %v", err)
	}

	got := string(out)
	if len(images.calls) != 1 || images.calls[0] != "graph TD;\nA-->B;\n" {
		t.Fatalf("unexpected renderer calls: %#v", images.calls)
	}
	if !strings.Contains(got, "![Mermaid diagram](data:image/png;base64,cG5n)") {
		t.Fatalf("expected embedded image, got %q", got)
	}
	if strings.Contains(got, "```mermaid") {
		t.Fatalf("mermaid fence should be replaced, got %q", got)
	}
	if !strings.Contains(got, "```go\nfmt.Println(1)\n```\n") {
		t.Fatalf("other fences must be preserved, got %q", got)
	}
}

func TestDiagramEncoderKeepsFenceOnFailure(t *testing.T) {
	t.Parallel()
	enc := diagramEncoder{images: &fakeImages{err: mermaid.ErrCLIUnavailable}}

	raw := "~~~~mermaid\ngraph LR;\nX-->Y;\n~~~~\n"
	out, err := enc.encode(context.Background(), []byte(raw))
	if err != nil {
		t.Fatalf("encode returned error: %v", err)
	}
	if string(out) != raw {
		t.Fatalf("expected fence left intact:\ngot:  %q\nwant: %q", out, raw)
	}
}

func TestDiagramEncoderWithoutRenderer(t *testing.T) {
	t.Parallel()
	enc := diagramEncoder{}

	raw := "```mermaid\ngraph LR;\n```\n\n```mermaid\n```\n"
	out, err := enc.encode(context.Background(), []byte(raw))
	if err != nil {
		t.Fatalf("encode returned error: %v", err)
	}
	if string(out) != raw {
		t.Fatalf("expected input unchanged:\ngot:  %q\nwant: %q", out, raw)
	}
}

func TestIsMermaidFence(t *testing.T) {
	t.Parallel()
	f := func(lang string, expected bool) {
		t.Helper()
		if got := isMermaidFence(lang); got != expected {
			t.Errorf("isMermaidFence(%q) = %v, want %v", lang, got, expected)
		}
	}

	f("mermaid", true)
	f("Mermaid {zoom=true}", true)
	f("mermaidjs", false)
	f("go", false)
	f("", false)
}
