// Package transform provides custom rendering transformations for markdown elements.
package transform

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/euforicio/mermaidmd/internal/mermaid"
)

const mermaidLanguage = "mermaid"

// PagePathKey carries the page-relative path of the document being converted.
var PagePathKey = parser.NewContextKey()

// RenderContextKey carries the context.Context of the Render call.
var RenderContextKey = parser.NewContextKey()

var pageStateKey = parser.NewContextKey()

// PageState is the per-page rendering state left in the parser context once the
// transformer has run.
type PageState struct {
	Registry *mermaid.Registry
	Config   mermaid.PageConfig
	Warnings []error
}

// PageStateFrom returns the state recorded during conversion, or nil when the
// document went through a pipeline without the transformer.
func PageStateFrom(pc parser.Context) *PageState {
	if v := pc.Get(pageStateKey); v != nil {
		if st, ok := v.(*PageState); ok {
			return st
		}
	}
	return nil
}

// MermaidTransformer finds fenced ```mermaid blocks and replaces them with
// pre-rendered MermaidBlock nodes.
type MermaidTransformer struct {
	logger *slog.Logger
	config mermaid.Config
}

// NewMermaidTransformer constructs an AST transformer bound to the build-wide config.
func NewMermaidTransformer(cfg mermaid.Config, logger *slog.Logger) parser.ASTTransformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MermaidTransformer{
		config: cfg,
		logger: logger,
	}
}

// Transform implements parser.ASTTransformer.
func (t *MermaidTransformer) Transform(node *ast.Document, reader text.Reader, pc parser.Context) {
	if node == nil {
		return
	}

	path := ""
	if v, ok := pc.Get(PagePathKey).(string); ok {
		path = v
	}

	ctx, ok := pc.Get(RenderContextKey).(context.Context)
	if !ok || ctx == nil {
		ctx = context.Background()
	}

	state := &PageState{Registry: mermaid.NewRegistry(path)}
	overrides, err := pageOverrides(pc)
	if err != nil {
		t.logger.Warn("mermaid: ignoring front matter overrides", slog.String("path", path), slog.Any("err", err))
		state.Warnings = append(state.Warnings, fmt.Errorf("front matter: %w", err))
	}
	state.Config = mermaid.Resolve(t.config, overrides)
	pc.Set(pageStateKey, state)

	t.walk(ctx, node, reader, state, path)
}

func (t *MermaidTransformer) walk(ctx context.Context, parent ast.Node, reader text.Reader, state *PageState, path string) {
	for child := parent.FirstChild(); child != nil; {
		next := child.NextSibling()

		if block, ok := child.(*ast.FencedCodeBlock); ok && isMermaidBlock(block, reader.Source()) {
			replacement := t.renderBlock(ctx, block, reader, state, path)
			replacement.SetBlankPreviousLines(block.HasBlankPreviousLines())
			parent.ReplaceChild(parent, block, replacement)
			child = next
			continue
		}

		if child.HasChildren() {
			t.walk(ctx, child, reader, state, path)
		}
		child = next
	}
}

func (t *MermaidTransformer) renderBlock(ctx context.Context, fence *ast.FencedCodeBlock, reader text.Reader, state *PageState, path string) *MermaidBlock {
	options, source := splitOptions(blockSource(fence, reader))
	for k, v := range infoAttributes(fence, reader.Source()) {
		options[k] = v
	}

	node := &MermaidBlock{}
	block, err := buildBlock(source, options)
	if err == nil {
		var buf bytes.Buffer
		err = mermaid.RenderBlock(ctx, &buf, block, state.Config, state.Registry)
		node.HTML = buf.Bytes()
	}
	node.Block = block
	if err != nil {
		line := lineOf(fence, reader.Source())
		t.logger.Warn("mermaid: render failed", slog.String("path", path), slog.Int("line", line), slog.Any("err", err))
		node.Err = err
		state.Warnings = append(state.Warnings, fmt.Errorf("%s:%d: %w", path, line, err))
	}
	return node
}

func isMermaidBlock(block *ast.FencedCodeBlock, source []byte) bool {
	lang := strings.TrimSpace(string(block.Language(source)))
	lang = strings.TrimSuffix(strings.TrimPrefix(lang, "{"), "}")
	return strings.EqualFold(lang, mermaidLanguage)
}

func blockSource(block *ast.FencedCodeBlock, reader text.Reader) string {
	var buf bytes.Buffer
	for i := 0; i < block.Lines().Len(); i++ {
		segment := block.Lines().At(i)
		buf.Write(segment.Value(reader.Source()))
	}
	return buf.String()
}

func lineOf(block *ast.FencedCodeBlock, source []byte) int {
	if block.Lines().Len() == 0 {
		return 0
	}
	// The fence itself sits one line above the first content line.
	return bytes.Count(source[:block.Lines().At(0).Start], []byte("\n"))
}

// splitOptions peels leading ":name: value" lines off the diagram body.
func splitOptions(body string) (map[string]string, string) {
	options := make(map[string]string)
	rest := body
	for rest != "" {
		line, tail, _ := strings.Cut(rest, "\n")
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, ":") {
			break
		}
		name, value, ok := strings.Cut(trimmed[1:], ":")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			break
		}
		options[strings.ToLower(name)] = strings.TrimSpace(value)
		rest = tail
	}
	return options, rest
}

// infoAttributes parses a {#id key=value} attribute list following the language.
func infoAttributes(block *ast.FencedCodeBlock, source []byte) map[string]string {
	out := make(map[string]string)
	if block.Info == nil {
		return out
	}
	info := block.Info.Segment.Value(source)
	i := bytes.IndexByte(info, '{')
	if i == 0 {
		// "{mermaid} {...}" style info strings carry the language in braces.
		if j := bytes.IndexByte(info, '}'); j > 0 {
			if k := bytes.IndexByte(info[j:], '{'); k > 0 {
				i = j + k
			} else {
				return out
			}
		}
	}
	if i < 0 {
		return out
	}
	attrs, ok := parser.ParseAttributes(text.NewReader(info[i:]))
	if !ok {
		return out
	}
	for _, attr := range attrs {
		out[strings.ToLower(string(attr.Name))] = attributeString(attr.Value)
	}
	return out
}

func attributeString(v any) string {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func buildBlock(source string, options map[string]string) (mermaid.Block, error) {
	block := mermaid.Block{
		Source:  source,
		ID:      firstNonEmpty(options["id"], options["name"]),
		Caption: options["caption"],
		Alt:     options["alt"],
	}
	align, err := mermaid.ParseAlign(options["align"])
	if err != nil {
		return block, err
	}
	block.Align = align
	if raw, ok := options["zoom"]; ok {
		switch strings.ToLower(raw) {
		case "", "true", "yes", "1":
			block.Zoom = true
		case "false", "no", "0":
		default:
			return block, &mermaid.ConfigError{Field: "zoom", Reason: fmt.Sprintf("expected a boolean, got %q", raw)}
		}
	}
	return block, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// pageOverrides reads mermaid settings from front matter: either a nested
// "mermaid:" mapping or top-level keys prefixed with mermaid_.
func pageOverrides(pc parser.Context) (mermaid.Overrides, error) {
	meta, err := goldmarkmeta.TryGet(pc)
	if err != nil {
		return mermaid.Overrides{}, err
	}
	if len(meta) == 0 {
		return mermaid.Overrides{}, nil
	}

	settings := make(map[string]any)
	for key, value := range meta {
		if strings.HasPrefix(strings.ToLower(key), "mermaid_") {
			settings[key] = value
		}
	}
	if nested, ok := meta["mermaid"]; ok {
		m, ok := stringKeyed(nested)
		if !ok {
			return mermaid.Overrides{}, fmt.Errorf("mermaid front matter must be a mapping, got %T", nested)
		}
		for key, value := range m {
			settings[key] = value
		}
	}
	return mermaid.OverridesFromMap(settings)
}

func stringKeyed(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// MermaidBlock is a rendered diagram included directly in the AST.
type MermaidBlock struct {
	ast.BaseBlock
	Err   error
	HTML  []byte
	Block mermaid.Block
}

// KindMermaidBlock represents a rendered Mermaid node kind.
var KindMermaidBlock = ast.NewNodeKind("MermaidBlock")

// Kind implements ast.Node.
func (b *MermaidBlock) Kind() ast.NodeKind {
	return KindMermaidBlock
}

// IsRaw marks the node as raw HTML.
func (b *MermaidBlock) IsRaw() bool {
	return true
}

// Dump aids debugging.
func (b *MermaidBlock) Dump(source []byte, level int) {
	info := map[string]string{
		"Source": fmt.Sprintf("%d bytes", len(b.Block.Source)),
	}
	if b.Block.ID != "" {
		info["ID"] = b.Block.ID
	}
	if b.Err != nil {
		info["Error"] = fmt.Sprintf("%q", b.Err.Error())
	}
	ast.DumpHelper(b, source, level, info, nil)
}

// MermaidBlockRenderer writes rendered nodes into HTML output.
type MermaidBlockRenderer struct{}

// NewMermaidBlockRenderer returns a renderer for Mermaid nodes.
func NewMermaidBlockRenderer() renderer.NodeRenderer {
	return &MermaidBlockRenderer{}
}

// RegisterFuncs implements renderer.NodeRenderer.
func (r *MermaidBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindMermaidBlock, r.renderMermaidBlock)
}

func (r *MermaidBlockRenderer) renderMermaidBlock(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	block := node.(*MermaidBlock)

	var err error
	if block.Err != nil {
		_, err = w.WriteString(`<div class="mermaid-error">` + html.EscapeString(block.Err.Error()) + "</div>\n")
	} else {
		_, err = w.Write(block.HTML)
	}
	if err != nil {
		return ast.WalkStop, err
	}
	return ast.WalkSkipChildren, nil
}
