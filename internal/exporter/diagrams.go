package exporter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/euforicio/mermaidmd/internal/mermaid"
)

// diagramEncoder turns fenced mermaid blocks into data URI images so
// downstream renderers (PDF) don't need a browser to draw them.
type diagramEncoder struct {
	images mermaid.ImageRenderer
}

// encode rewrites ```mermaid fences into Markdown image tags with embedded
// PNG data. If a diagram cannot be rendered the original fence is left intact
// so the caller still shows the source.
func (e *diagramEncoder) encode(ctx context.Context, raw []byte) ([]byte, error) {
	var (
		out          bytes.Buffer
		scanner      = bufio.NewScanner(bytes.NewReader(raw))
		inFence      bool
		fenceLine    string
		fenceMarker  string
		fenceLang    string
		diagramLines bytes.Buffer
	)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if !inFence {
			if marker, lang, ok := parseFenceStart(trimmed); ok {
				inFence = true
				fenceLine = line
				fenceMarker = marker
				fenceLang = lang
				diagramLines.Reset()
				if !isMermaidFence(lang) {
					writeLine(&out, line)
				}
				continue
			}
			writeLine(&out, line)
			continue
		}

		if isFenceEnd(trimmed, fenceMarker) {
			if isMermaidFence(fenceLang) {
				if err := e.flush(ctx, &out, diagramLines.String()); err != nil {
					writeLine(&out, fenceLine)
					out.Write(diagramLines.Bytes())
					writeLine(&out, fenceMarker)
				}
			} else {
				writeLine(&out, line)
			}
			inFence = false
			fenceMarker = ""
			fenceLang = ""
			continue
		}

		if isMermaidFence(fenceLang) {
			writeLine(&diagramLines, line)
		} else {
			writeLine(&out, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Unclosed fence: emit buffered content as-is.
	if inFence && isMermaidFence(fenceLang) {
		writeLine(&out, fenceLine)
		out.Write(diagramLines.Bytes())
	}

	return out.Bytes(), nil
}

func (e *diagramEncoder) flush(ctx context.Context, out *bytes.Buffer, source string) error {
	if strings.TrimSpace(source) == "" {
		return mermaid.ErrEmptyDiagram
	}
	if e == nil || e.images == nil {
		return mermaid.ErrCLIUnavailable
	}

	pngData, err := e.images.Render(ctx, source, mermaid.FormatPNG)
	if err != nil {
		return fmt.Errorf("render mermaid: %w", err)
	}

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
	_, err = fmt.Fprintf(out, "![Mermaid diagram](%s)\n\n", dataURI)
	return err
}

func parseFenceStart(line string) (marker, lang string, ok bool) {
	for _, ch := range []rune{'`', '~'} {
		n := leadingCount(line, ch)
		if n < 3 {
			continue
		}
		marker = line[:n]
		lang = strings.TrimSpace(strings.TrimPrefix(line, marker))
		return marker, lang, true
	}
	return "", "", false
}

func isFenceEnd(line, marker string) bool {
	if marker == "" {
		return false
	}
	return leadingCount(line, rune(marker[0])) >= len(marker) && strings.Trim(line, marker[:1]) == ""
}

// isMermaidFence accepts "mermaid" optionally followed by attributes, as in
// ```mermaid {#flow align=center}.
func isMermaidFence(lang string) bool {
	fields := strings.Fields(strings.ToLower(lang))
	return len(fields) > 0 && fields[0] == "mermaid"
}

func leadingCount(line string, char rune) int {
	count := 0
	for _, r := range line {
		if r != char {
			break
		}
		count++
	}
	return count
}

func writeLine(buf *bytes.Buffer, line string) {
	buf.WriteString(line)
	buf.WriteByte('\n')
}
