package mermaid

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	unpkgBaseURL    = "https://unpkg.com/mermaid"
	jsdelivrBaseURL = "https://cdn.jsdelivr.net/npm/mermaid"
	d3BaseURL       = "https://cdn.jsdelivr.net/npm/d3"

	// pageZoomSelector addresses every diagram on the page.
	pageZoomSelector = ".mermaid svg"
)

const zoomScriptTemplate = `<script>
window.addEventListener("load", function () {
  var svgs = d3.selectAll("%s");
  svgs.each(function() {
    var svg = d3.select(this);
    svg.html("<g>" + svg.html() + "</g>");
    var inner = svg.select("g");
    var zoom = d3.zoom().on("zoom", function(event) {
      inner.attr("transform", event.transform);
    });
    svg.call(zoom);
  });
});
</script>
`

// ClassicScriptURL returns the CDN URL of the classic (global) build for version.
func ClassicScriptURL(version string) string {
	if version == LatestVersion {
		return unpkgBaseURL + "/dist/mermaid.min.js"
	}
	return unpkgBaseURL + "@" + version + "/dist/mermaid.min.js"
}

// ModuleScriptURL returns the CDN URL of the ES module build for version.
func ModuleScriptURL(version string) string {
	if version == LatestVersion {
		return jsdelivrBaseURL + "/dist/mermaid.esm.min.mjs"
	}
	return jsdelivrBaseURL + "@" + version + "/dist/mermaid.esm.min.mjs"
}

// RenderPageScripts writes the script block a page needs once all of its
// diagrams have been rendered into reg. Pages without raw diagrams get nothing.
func RenderPageScripts(w io.Writer, cfg PageConfig, reg *Registry) error {
	if reg == nil {
		return errors.New("mermaid: nil registry")
	}
	if reg.Diagrams() == 0 {
		return nil
	}

	var buf bytes.Buffer
	switch {
	case cfg.Version == "":
		if cfg.LocalScript != "" {
			fmt.Fprintf(&buf, "<script src=\"%s\"></script>\n", cfg.LocalScript)
		}
	case cfg.LinkToEditor || cfg.ESM:
		fmt.Fprintf(&buf, "<script type=\"module\">import mermaid from '%s';\n", ModuleScriptURL(cfg.Version))
		buf.WriteString("let config = { startOnLoad: true };\n")
		buf.WriteString("mermaid.initialize(config);</script>\n")
	default:
		fmt.Fprintf(&buf, "<script src=\"%s\"></script>\n", ClassicScriptURL(cfg.Version))
	}
	if cfg.InitJS != "" {
		buf.WriteString("<script>" + cfg.InitJS + "</script>\n")
	}

	if selector := zoomSelector(cfg, reg); selector != "" {
		fmt.Fprintf(&buf, "<script src=\"%s@%s/dist/d3.min.js\"></script>\n", d3BaseURL, firstNonEmpty(cfg.D3Version, DefaultD3Version))
		fmt.Fprintf(&buf, zoomScriptTemplate, selector)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func zoomSelector(cfg PageConfig, reg *Registry) string {
	if cfg.Zoom {
		return pageZoomSelector
	}
	ids := reg.ZoomIDs()
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = ".mermaid#" + id + " svg"
	}
	return strings.Join(parts, ", ")
}
