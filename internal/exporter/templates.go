package exporter

import (
	"embed"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/euforicio/mermaidmd/internal/content/tree"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

// Template names defined in templates/.
const (
	layoutTemplate     = "layout"
	standaloneTemplate = "standalone"
)

// navScope is what the recursive "tree" template sees at each level: the
// directory being listed plus the page the whole sidebar is rendered for.
type navScope struct {
	Node   *tree.Node
	From   string
	Active string
}

// Sub descends into a child directory.
func (s navScope) Sub(n *tree.Node) navScope {
	return navScope{Node: n, From: s.From, Active: s.Active}
}

// Href links a page in the tree relative to the page being rendered.
func (s navScope) Href(n *tree.Node) string {
	return relTo(s.From, toHTMLRel(n.RelativePath))
}

// IsActive reports whether n is the page being rendered.
func (s navScope) IsActive(n *tree.Node) bool {
	return n.RelativePath == s.Active
}

type templateRenderer struct {
	tmpl *template.Template
}

func newTemplateRenderer() (*templateRenderer, error) {
	funcs := template.FuncMap{
		"nav": func(root *tree.Node, from, active string) navScope {
			return navScope{Node: root, From: from, Active: active}
		},
		"isDir": func(n *tree.Node) bool {
			return n != nil && n.Type == tree.NodeTypeDirectory
		},
		"updated":      formatUpdated,
		"diagramCount": diagramCount,
	}

	tmpl, err := template.New(layoutTemplate).Funcs(funcs).ParseFS(templateFS, "templates/*.gohtml")
	if err != nil {
		return nil, err
	}
	return &templateRenderer{tmpl: tmpl}, nil
}

func (r *templateRenderer) render(w io.Writer, name string, data any) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

func formatUpdated(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("Jan 2, 2006 3:04 PM")
}

// diagramCount labels the footer of a page, e.g. "3 diagrams". Pages without
// diagrams get no label.
func diagramCount(n int) string {
	switch n {
	case 0:
		return ""
	case 1:
		return "1 diagram"
	default:
		return strconv.Itoa(n) + " diagrams"
	}
}
