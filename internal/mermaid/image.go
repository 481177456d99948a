package mermaid

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"math"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/yuin/goldmark/util"
)

func renderImage(ctx context.Context, buf *bytes.Buffer, b Block, cfg PageConfig, reg *Registry) error {
	if cfg.Images == nil {
		return ErrCLIUnavailable
	}
	data, err := cfg.Images.Render(ctx, b.Source, cfg.Format)
	if err != nil {
		return fmt.Errorf("pre-render diagram: %w", err)
	}
	id := strings.TrimSpace(b.ID)
	if id != "" {
		if err := reg.Claim(id); err != nil {
			return err
		}
	}

	mime := "image/png"
	width, height := pngSize(data)
	if cfg.Format == FormatSVG {
		mime = "image/svg+xml"
		width, height = svgSize(data)
	}

	alt := b.Alt
	if alt == "" {
		alt = "Mermaid diagram"
	}

	buf.WriteString(`<img class="mermaid-image`)
	if b.Align != AlignNone {
		buf.WriteString(" align-" + string(b.Align))
	}
	buf.WriteString(`"`)
	if id != "" {
		buf.WriteString(` id="`)
		buf.Write(util.EscapeHTML([]byte(id)))
		buf.WriteString(`"`)
	}
	fmt.Fprintf(buf, ` src="data:%s;base64,%s" alt="`, mime, base64.StdEncoding.EncodeToString(data))
	buf.Write(util.EscapeHTML([]byte(alt)))
	buf.WriteString(`"`)
	if width > 0 && height > 0 {
		fmt.Fprintf(buf, ` width="%d" height="%d"`, width, height)
	}
	buf.WriteString(" />\n")
	return nil
}

// svgSize reads intrinsic dimensions from the SVG viewBox. Zero means unknown.
func svgSize(svg []byte) (int, int) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svg), oksvg.IgnoreErrorMode)
	if err != nil {
		return 0, 0
	}
	return int(math.Ceil(icon.ViewBox.W)), int(math.Ceil(icon.ViewBox.H))
}

func pngSize(data []byte) (int, int) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
