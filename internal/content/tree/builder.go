// Package tree arranges discovered pages into the navigation tree shown in the
// site sidebar.
package tree

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/euforicio/mermaidmd/internal/content"
)

// NodeType identifies what a tree node represents.
type NodeType string

// Node type constants for directory and file entries.
const (
	NodeTypeDirectory NodeType = "directory"
	NodeTypeFile      NodeType = "file"
)

// Node represents a navigation entry (directory or markdown file).
type Node struct {
	Modified     time.Time `json:"modified"`
	Name         string    `json:"name"`
	RawName      string    `json:"rawName"`
	RelativePath string    `json:"relativePath"`
	Slug         string    `json:"slug"`
	Type         NodeType  `json:"type"`
	Title        string    `json:"title"`
	Children     []*Node   `json:"children,omitempty"`
	Diagrams     int       `json:"diagrams,omitempty"`
	Size         int64     `json:"size"`
}

// Info carries what the build learned about a page while rendering it.
type Info struct {
	Title    string
	Diagrams int
}

// Build arranges pages into a tree rooted at a directory node named rootName.
// info supplies rendered titles and diagram counts keyed by relative path;
// pages without an entry fall back to a title derived from the file name.
// Directories come before files; siblings are ordered by title.
func Build(rootName string, pages []content.Page, info map[string]Info) *Node {
	root := &Node{
		Name:    rootName,
		RawName: rootName,
		Type:    NodeTypeDirectory,
		Title:   rootName,
	}
	dirs := map[string]*Node{"": root}

	for _, page := range pages {
		rel := normalizeRelative(page.RelativePath)
		parent := ensureDir(dirs, path.Dir(rel), page.ModTime)

		display := fileDisplayName(path.Base(rel))
		node := &Node{
			Name:         display,
			RawName:      path.Base(rel),
			RelativePath: rel,
			Slug:         slugify(strings.TrimSuffix(rel, path.Ext(rel))),
			Type:         NodeTypeFile,
			Title:        display,
			Modified:     page.ModTime,
			Size:         page.Size,
		}
		if meta, ok := info[rel]; ok {
			if meta.Title != "" {
				node.Title = meta.Title
			}
			node.Diagrams = meta.Diagrams
		}
		parent.Children = append(parent.Children, node)
	}

	sortChildren(root)
	return root
}

func ensureDir(dirs map[string]*Node, rel string, modTime time.Time) *Node {
	if rel == "." {
		rel = ""
	}
	if node, ok := dirs[rel]; ok {
		if modTime.After(node.Modified) {
			node.Modified = modTime
		}
		return node
	}
	parent := ensureDir(dirs, path.Dir(rel), modTime)
	display := fileDisplayName(path.Base(rel))
	node := &Node{
		Name:         display,
		RawName:      path.Base(rel),
		RelativePath: rel,
		Slug:         slugify(rel),
		Type:         NodeTypeDirectory,
		Title:        display,
		Modified:     modTime,
	}
	parent.Children = append(parent.Children, node)
	dirs[rel] = node
	return node
}

func sortChildren(n *Node) {
	sort.SliceStable(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Type == b.Type {
			return strings.Compare(a.Title, b.Title) < 0
		}
		return a.Type == NodeTypeDirectory
	})
	for _, child := range n.Children {
		if child.Type == NodeTypeDirectory {
			sortChildren(child)
		}
	}
}

// Files returns the file nodes in navigation order.
func Files(root *Node) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		if n.Type == NodeTypeFile {
			out = append(out, n)
			return
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return out
}

// PathTo returns the chain of nodes from root to the node at rel, or nil.
func PathTo(root *Node, rel string) []*Node {
	if root == nil {
		return nil
	}
	if root.RelativePath == rel && (root.Type == NodeTypeFile || rel == "") {
		return []*Node{root}
	}
	for _, child := range root.Children {
		if found := PathTo(child, rel); len(found) > 0 {
			return append([]*Node{root}, found...)
		}
	}
	return nil
}

func normalizeRelative(rel string) string {
	clean := strings.ReplaceAll(rel, "\\", "/")
	return strings.TrimPrefix(clean, "./")
}

func fileDisplayName(name string) string {
	name = strings.TrimSuffix(name, path.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(name)
}

func slugify(p string) string {
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		part = strings.ReplaceAll(part, "_", " ")
		part = strings.ToLower(strings.TrimSpace(part))
		part = strings.ReplaceAll(part, " ", "-")
		parts[i] = part
	}
	return strings.Join(parts, "/")
}
