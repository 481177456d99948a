// Package mermaid renders Mermaid diagram blocks into HTML fragments and emits the
// per-page script block that loads and initialises the Mermaid library.
//
// Rendering is split in two steps. RenderBlock is called for every diagram on a
// page and records what it needs in a page-scoped Registry. RenderPageScripts is
// called once afterwards and consults the registry to decide which script tags
// the page requires. Neither step touches process-wide state, so pages can be
// rendered concurrently as long as each one owns its Registry.
package mermaid

import (
	"errors"
	"fmt"
	"strings"
)

// Align is the horizontal placement of a diagram.
type Align string

// Supported alignments. The zero value leaves the block unaligned.
const (
	AlignNone   Align = ""
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// ParseAlign normalises an alignment attribute.
func ParseAlign(raw string) (Align, error) {
	switch a := Align(strings.ToLower(strings.TrimSpace(raw))); a {
	case AlignNone, AlignLeft, AlignCenter, AlignRight:
		return a, nil
	default:
		return AlignNone, &ConfigError{Field: "align", Reason: fmt.Sprintf("unsupported alignment %q (want left, center or right)", raw)}
	}
}

// Format selects how diagrams are emitted.
type Format string

const (
	// FormatRaw leaves the diagram source in the page for Mermaid.js to hydrate.
	FormatRaw Format = "raw"
	// FormatSVG pre-renders diagrams with the mermaid CLI and inlines the SVG as an image.
	FormatSVG Format = "svg"
	// FormatPNG pre-renders diagrams with the mermaid CLI and inlines a PNG image.
	FormatPNG Format = "png"
)

// ParseFormat normalises an output format name.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatRaw, nil
	case FormatRaw, FormatSVG, FormatPNG:
		return f, nil
	default:
		return "", &ConfigError{Field: "output_format", Reason: fmt.Sprintf("unsupported format %q (want raw, svg or png)", raw)}
	}
}

// Block is a single diagram directive as found in a document.
type Block struct {
	Source  string
	ID      string
	Caption string
	Alt     string
	Align   Align
	Zoom    bool
}

var (
	// ErrEmptyDiagram is returned when a diagram block has no source text.
	ErrEmptyDiagram = errors.New("empty mermaid diagram")
	// ErrCLIUnavailable is returned when pre-rendering is requested but mmdc cannot be found.
	ErrCLIUnavailable = errors.New("mermaid cli unavailable")
)

// ConfigError reports an invalid configuration value or combination.
type ConfigError struct {
	Err    error
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	msg := "mermaid config"
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause, if any.
func (e *ConfigError) Unwrap() error {
	return e.Err
}
