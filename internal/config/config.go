// Package config manages build configuration from a YAML file, environment
// variables and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/euforicio/mermaidmd/internal/mermaid"
)

const envPrefix = "MERMAIDMD_"

// DefaultFile is the config file looked up when --config is not given.
const DefaultFile = "mermaidmd.yaml"

// Config holds settings for a site build.
type Config struct {
	RootDir       string         `koanf:"root"`
	OutputDir     string         `koanf:"out"`
	Title         string         `koanf:"title"`
	BaseURL       string         `koanf:"base_url"`
	AssetPrefix   string         `koanf:"asset_prefix"`
	Exclude       []string       `koanf:"exclude"`
	Mermaid       mermaid.Config `koanf:"mermaid"`
	IncludeHidden bool           `koanf:"hidden"`
	Strict        bool           `koanf:"strict"`
	Sanitize      bool           `koanf:"sanitize"`
	Clean         bool           `koanf:"clean"`
	SearchIndex   bool           `koanf:"search_index"`
	Verbose       bool           `koanf:"verbose"`
}

// Default returns ready-to-use defaults prior to file, env and flag overrides.
func Default() Config {
	return Config{
		RootDir:     ".",
		OutputDir:   "site",
		Title:       "mermaidmd",
		AssetPrefix: "assets",
		Clean:       true,
		Mermaid:     mermaid.DefaultConfig(),
	}
}

// flagKeys maps flag names onto config keys. Flags missing here (config,
// watch, serve, version) steer the CLI rather than the build.
var flagKeys = map[string]string{
	"root":                   "root",
	"out":                    "out",
	"title":                  "title",
	"base-url":               "base_url",
	"asset-prefix":           "asset_prefix",
	"exclude":                "exclude",
	"hidden":                 "hidden",
	"strict":                 "strict",
	"sanitize":               "sanitize",
	"clean":                  "clean",
	"search-index":           "search_index",
	"verbose":                "verbose",
	"mermaid-version":        "mermaid.version",
	"mermaid-local-script":   "mermaid.local_script",
	"mermaid-init-js":        "mermaid.init_js",
	"mermaid-editor-url":     "mermaid.editor_url",
	"zoom":                   "mermaid.zoom",
	"link-to-editor":         "mermaid.link_to_editor",
	"esm":                    "mermaid.esm",
	"format":                 "mermaid.output_format",
	"mmdc":                   "mermaid.cli_path",
	"mmdc-timeout":           "mermaid.cli_timeout",
	"mermaid-d3-version":     "mermaid.d3_version",
	"mermaid-mmdc-extra-arg": "mermaid.cli_args",
}

// RegisterFlags attaches configuration flags to the provided FlagSet. The
// values bound into cfg only serve as defaults shown in --help; Load reads
// the flags that were actually set.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.RootDir, "root", "r", cfg.RootDir, "root directory containing markdown files")
	fs.StringVarP(&cfg.OutputDir, "out", "o", cfg.OutputDir, "output directory for the generated site")
	fs.StringVar(&cfg.Title, "title", cfg.Title, "site title used in page layouts")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "optional absolute base URL for canonical link tags")
	fs.StringVar(&cfg.AssetPrefix, "asset-prefix", cfg.AssetPrefix, "relative directory for copied assets within the output")
	fs.StringSliceVar(&cfg.Exclude, "exclude", cfg.Exclude, "glob patterns (relative to root) to skip, e.g. 'drafts/**'")
	fs.BoolVar(&cfg.IncludeHidden, "hidden", cfg.IncludeHidden, "include hidden files and directories")
	fs.BoolVar(&cfg.Strict, "strict", cfg.Strict, "fail the build when any diagram fails to render")
	fs.BoolVar(&cfg.Sanitize, "sanitize", cfg.Sanitize, "filter raw HTML in pages through an allow-list")
	fs.BoolVar(&cfg.Clean, "clean", cfg.Clean, "wipe the output directory before building")
	fs.BoolVar(&cfg.SearchIndex, "search-index", cfg.SearchIndex, "write a JSON search index alongside the site")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable debug logging")

	m := &cfg.Mermaid
	fs.StringVar(&m.Version, "mermaid-version", m.Version, "mermaid release loaded from the CDN ('none' to skip loading, 'latest' for unpinned)")
	fs.StringVar(&m.LocalScript, "mermaid-local-script", m.LocalScript, "site-relative mermaid script used when no version is set")
	fs.StringVar(&m.InitJS, "mermaid-init-js", m.InitJS, "initialisation script emitted after the library")
	fs.StringVar(&m.EditorURL, "mermaid-editor-url", m.EditorURL, "base URL of the mermaid live editor")
	fs.StringVar(&m.D3Version, "mermaid-d3-version", m.D3Version, "d3 release used for diagram zoom")
	fs.BoolVar(&m.Zoom, "zoom", m.Zoom, "enable pan and zoom on every diagram")
	fs.BoolVar(&m.LinkToEditor, "link-to-editor", m.LinkToEditor, "add an 'Open Graph in Editor' link under each diagram")
	fs.BoolVar(&m.ESM, "esm", m.ESM, "load mermaid as an ES module")
	fs.StringVar(&m.OutputFormat, "format", m.OutputFormat, "diagram output: raw, svg or png (svg and png need mmdc)")
	fs.StringVar(&m.CLIPath, "mmdc", m.CLIPath, "path to the mermaid CLI")
	fs.DurationVar(&m.CLITimeout, "mmdc-timeout", m.CLITimeout, "timeout for a single mmdc invocation")
	fs.StringSliceVar(&m.CLIArgs, "mermaid-mmdc-extra-arg", m.CLIArgs, "extra argument passed to mmdc (repeatable)")
}

// Load builds the configuration from defaults, the YAML file at path (if it
// exists), MERMAIDMD_* environment variables and finally the flags set on fs.
// Nested keys use a double underscore in env names:
// MERMAIDMD_MERMAID__VERSION sets mermaid.version.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("loading env overrides: %w", err)
	}

	if fs != nil {
		var setErr error
		fs.Visit(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok || setErr != nil {
				return
			}
			var value any = f.Value.String()
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				value = sv.GetSlice()
			}
			if err := k.Set(key, value); err != nil {
				setErr = fmt.Errorf("applying flag --%s: %w", f.Name, err)
			}
		})
		if setErr != nil {
			return Config{}, setErr
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	// "version: null" turns CDN loading off; decoding a null leaves the default in place.
	if k.Exists("mermaid.version") && k.Get("mermaid.version") == nil {
		cfg.Mermaid.Version = ""
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Finalize validates and normalizes paths and settings.
func Finalize(cfg *Config) error {
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return fmt.Errorf("resolve root directory: %w", err)
	}
	cfg.RootDir = root

	if strings.TrimSpace(cfg.OutputDir) == "" {
		cfg.OutputDir = "site"
	}
	out, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("resolve output directory: %w", err)
	}
	if out == root {
		return errors.New("output directory must differ from the root directory")
	}
	cfg.OutputDir = out

	if strings.TrimSpace(cfg.Title) == "" {
		cfg.Title = "mermaidmd"
	}
	cfg.AssetPrefix = strings.Trim(strings.TrimSpace(cfg.AssetPrefix), "/")
	if cfg.AssetPrefix == "" {
		cfg.AssetPrefix = "assets"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	patterns := cfg.Exclude[:0]
	for _, p := range cfg.Exclude {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
		patterns = append(patterns, p)
	}
	cfg.Exclude = patterns

	if err := cfg.Mermaid.Validate(); err != nil {
		return err
	}
	return nil
}
