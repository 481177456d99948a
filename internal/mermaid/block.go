package mermaid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark/util"
)

const editorLinkLabel = "Open Graph in Editor"

// RenderBlock writes the HTML for one diagram. Ids it assigns, zoom requests and
// the diagram count are recorded in reg, which must belong to the page being
// rendered. Nothing is written to w when an error is returned.
func RenderBlock(ctx context.Context, w io.Writer, b Block, cfg PageConfig, reg *Registry) error {
	if reg == nil {
		return errors.New("mermaid: nil registry")
	}
	if strings.TrimSpace(b.Source) == "" {
		if cfg.LinkToEditor && cfg.Format == FormatRaw {
			return &ConfigError{Field: "link_to_editor", Reason: "no diagram source to encode", Err: ErrEmptyDiagram}
		}
		return ErrEmptyDiagram
	}
	align, err := ParseAlign(string(b.Align))
	if err != nil {
		return err
	}
	b.Align = align

	var buf bytes.Buffer
	if b.Caption != "" {
		buf.WriteString(`<figure class="mermaid-figure">` + "\n")
	}

	switch cfg.Format {
	case FormatSVG, FormatPNG:
		err = renderImage(ctx, &buf, b, cfg, reg)
	default:
		err = renderRaw(&buf, b, cfg, reg)
	}
	if err != nil {
		return err
	}

	if b.Caption != "" {
		buf.WriteString("<figcaption>")
		buf.Write(util.EscapeHTML([]byte(b.Caption)))
		buf.WriteString("</figcaption>\n</figure>\n")
	}

	_, err = w.Write(buf.Bytes())
	return err
}

func renderRaw(buf *bytes.Buffer, b Block, cfg PageConfig, reg *Registry) error {
	// Build the editor link first so a failure leaves the registry untouched.
	var link string
	if cfg.LinkToEditor {
		var err error
		if link, err = EditorLink(cfg.EditorURL, b.Source); err != nil {
			return err
		}
	}

	id := strings.TrimSpace(b.ID)
	switch {
	case id != "":
		if err := reg.Claim(id); err != nil {
			return err
		}
	case b.Zoom:
		id = reg.Generate()
	}
	if b.Zoom {
		reg.addZoom(id)
	}
	reg.addDiagram()

	buf.WriteString("<div ")
	if id != "" {
		buf.WriteString(`id="`)
		buf.Write(util.EscapeHTML([]byte(id)))
		buf.WriteString(`" `)
	}
	buf.WriteString(`class="mermaid`)
	if b.Align != AlignNone {
		buf.WriteString(" align-" + string(b.Align))
	}
	buf.WriteString(`">` + "\n")
	buf.Write(util.EscapeHTML([]byte(b.Source)))
	if !strings.HasSuffix(b.Source, "\n") {
		buf.WriteByte('\n')
	}
	buf.WriteString("</div>\n")

	if link == "" {
		return nil
	}
	if b.Align != AlignNone {
		fmt.Fprintf(buf, "<p align=\"%s\">\n", b.Align)
	}
	buf.WriteString(`<a href="`)
	buf.Write(util.EscapeHTML([]byte(link)))
	buf.WriteString(`" class="mermaid-link source" target="_blank">` + editorLinkLabel + "</a>\n")
	if b.Align != AlignNone {
		buf.WriteString("</p>\n")
	}
	return nil
}
