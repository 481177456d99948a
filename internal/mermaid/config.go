package mermaid

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when a setting is not configured.
const (
	DefaultVersion    = "10.2.0"
	DefaultD3Version  = "7.9.0"
	DefaultInitJS     = "mermaid.initialize({startOnLoad:true});"
	DefaultEditorURL  = "https://mermaid-js.github.io/mermaid-live-editor/edit"
	DefaultCLIPath    = "mmdc"
	DefaultCLITimeout = 15 * time.Second

	// LatestVersion loads whatever release the CDN currently serves.
	LatestVersion = "latest"
)

// Config holds build-wide Mermaid settings. It is read-only once a build starts;
// per-page differences are expressed with Overrides and folded in by Resolve.
type Config struct {
	// Version pins the CDN release. An empty string means no CDN script is
	// emitted and the site is expected to ship the library itself.
	Version      string        `koanf:"version"`
	LocalScript  string        `koanf:"local_script"`
	D3Version    string        `koanf:"d3_version"`
	InitJS       string        `koanf:"init_js"`
	EditorURL    string        `koanf:"editor_url"`
	OutputFormat string        `koanf:"output_format"`
	CLIPath      string        `koanf:"cli_path"`
	CLIArgs      []string      `koanf:"cli_args"`
	CLITimeout   time.Duration `koanf:"cli_timeout"`
	Zoom         bool          `koanf:"zoom"`
	LinkToEditor bool          `koanf:"link_to_editor"`
	ESM          bool          `koanf:"esm"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Version:      DefaultVersion,
		D3Version:    DefaultD3Version,
		InitJS:       DefaultInitJS,
		EditorURL:    DefaultEditorURL,
		OutputFormat: string(FormatRaw),
		CLIPath:      DefaultCLIPath,
		CLITimeout:   DefaultCLITimeout,
	}
}

// NormalizeVersion maps the spellings of "no version" onto the empty string.
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "none", "null", "false":
		return ""
	}
	return v
}

// Validate checks the configuration and normalises it in place.
func (c *Config) Validate() error {
	c.Version = NormalizeVersion(c.Version)
	c.LocalScript = strings.TrimSpace(c.LocalScript)
	if isRemote(c.LocalScript) {
		return &ConfigError{Field: "local_script", Reason: "must be a site-relative path, got " + strconv.Quote(c.LocalScript)}
	}
	if strings.TrimSpace(c.D3Version) == "" {
		c.D3Version = DefaultD3Version
	}
	if strings.TrimSpace(c.EditorURL) == "" {
		c.EditorURL = DefaultEditorURL
	}
	c.EditorURL = strings.TrimRight(c.EditorURL, "/#")
	format, err := ParseFormat(c.OutputFormat)
	if err != nil {
		return err
	}
	c.OutputFormat = string(format)
	if strings.TrimSpace(c.CLIPath) == "" {
		c.CLIPath = DefaultCLIPath
	}
	if c.CLITimeout <= 0 {
		c.CLITimeout = DefaultCLITimeout
	}
	return nil
}

// Overrides carries page-local settings, typically read from front matter.
// Nil fields inherit the build-wide value.
type Overrides struct {
	Version      *string
	InitJS       *string
	OutputFormat *string
	Zoom         *bool
	LinkToEditor *bool
	ESM          *bool
}

// IsZero reports whether no override is set.
func (o Overrides) IsZero() bool {
	return o == Overrides{}
}

// OverridesFromMap reads overrides from a decoded front matter section. A key
// present with a null value is meaningful for version: it disables CDN loading.
// When several spellings name the same setting, zoom beats d3_zoom and the
// plain spelling beats mermaid_ prefixed or hyphenated ones.
func OverridesFromMap(m map[string]any) (Overrides, error) {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := keyPrecedence(keys[i]), keyPrecedence(keys[j])
		if pi != pj {
			return pi < pj
		}
		return keys[i] < keys[j]
	})

	var o Overrides
	for _, key := range keys {
		raw := m[key]
		switch normalizeKey(key) {
		case "version":
			v := ""
			if raw != nil {
				v = fmt.Sprint(raw)
			}
			v = NormalizeVersion(v)
			o.Version = &v
		case "init_js":
			v := ""
			if raw != nil {
				v = fmt.Sprint(raw)
			}
			o.InitJS = &v
		case "output_format":
			v := fmt.Sprint(raw)
			if _, err := ParseFormat(v); err != nil {
				return Overrides{}, err
			}
			o.OutputFormat = &v
		case "zoom", "d3_zoom":
			b, err := toBool(key, raw)
			if err != nil {
				return Overrides{}, err
			}
			o.Zoom = &b
		case "link_to_editor":
			b, err := toBool(key, raw)
			if err != nil {
				return Overrides{}, err
			}
			o.LinkToEditor = &b
		case "esm":
			b, err := toBool(key, raw)
			if err != nil {
				return Overrides{}, err
			}
			o.ESM = &b
		}
	}
	return o, nil
}

// keyPrecedence orders keys so that later ones win when applied in sequence.
func keyPrecedence(key string) int {
	p := 0
	norm := normalizeKey(key)
	if norm != "d3_zoom" {
		p += 2
	}
	if key == norm {
		p++
	}
	return p
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.ReplaceAll(key, "-", "_")
	return strings.TrimPrefix(key, "mermaid_")
}

func toBool(key string, raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, &ConfigError{Field: key, Reason: "expected a boolean", Err: err}
		}
		return b, nil
	case nil:
		return false, nil
	default:
		return false, &ConfigError{Field: key, Reason: fmt.Sprintf("expected a boolean, got %T", raw)}
	}
}

// PageConfig is the fully resolved configuration for one page.
type PageConfig struct {
	Images       ImageRenderer
	Version      string
	LocalScript  string
	D3Version    string
	InitJS       string
	EditorURL    string
	Format       Format
	Zoom         bool
	LinkToEditor bool
	ESM          bool
}

// Resolve merges build-wide settings with page overrides. The global config is
// not modified; the result is a value owned by the caller.
func Resolve(global Config, o Overrides) PageConfig {
	format, err := ParseFormat(global.OutputFormat)
	if err != nil {
		format = FormatRaw
	}
	pc := PageConfig{
		Version:      NormalizeVersion(global.Version),
		LocalScript:  global.LocalScript,
		D3Version:    firstNonEmpty(global.D3Version, DefaultD3Version),
		InitJS:       global.InitJS,
		EditorURL:    firstNonEmpty(global.EditorURL, DefaultEditorURL),
		Format:       format,
		Zoom:         global.Zoom,
		LinkToEditor: global.LinkToEditor,
		ESM:          global.ESM,
		Images:       NewCLI(global.CLIPath, global.CLIArgs, global.CLITimeout),
	}
	if o.Version != nil {
		pc.Version = NormalizeVersion(*o.Version)
	}
	if o.InitJS != nil {
		pc.InitJS = *o.InitJS
	}
	if o.OutputFormat != nil {
		if f, err := ParseFormat(*o.OutputFormat); err == nil {
			pc.Format = f
		}
	}
	if o.Zoom != nil {
		pc.Zoom = *o.Zoom
	}
	if o.LinkToEditor != nil {
		pc.LinkToEditor = *o.LinkToEditor
	}
	if o.ESM != nil {
		pc.ESM = *o.ESM
	}
	return pc
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func isRemote(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "//")
}
