package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"

	"github.com/euforicio/mermaidmd/internal/config"
	"github.com/euforicio/mermaidmd/internal/mermaid"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mermaidmd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	scratch := config.Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs, &scratch)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadFileEnvAndFlagPrecedence(t *testing.T) {
	path := writeConfig(t, `
title: Handbook
out: public
exclude:
  - drafts/**
mermaid:
  version: "9.4.3"
  zoom: true
  init_js: "mermaid.initialize({theme:'dark'});"
  cli_timeout: 30s
`)
	t.Setenv("MERMAIDMD_TITLE", "Env Handbook")
	t.Setenv("MERMAIDMD_MERMAID__LINK_TO_EDITOR", "true")

	fs := newFlags(t, "--mermaid-version", "8.3", "--exclude", "tmp/**,old/*.md", "--sanitize")
	cfg, err := config.Load(path, fs)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	want := config.Default()
	want.Title = "Env Handbook"
	want.OutputDir = "public"
	want.Exclude = []string{"tmp/**", "old/*.md"}
	want.Sanitize = true
	want.Mermaid.Version = "8.3"
	want.Mermaid.Zoom = true
	want.Mermaid.LinkToEditor = true
	want.Mermaid.InitJS = "mermaid.initialize({theme:'dark'});"
	want.Mermaid.CLITimeout = 30 * time.Second

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoadNullVersionDisablesCDN(t *testing.T) {
	path := writeConfig(t, "mermaid:\n  version: null\n")
	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Mermaid.Version != "" {
		t.Fatalf("expected no-version sentinel, got %q", cfg.Mermaid.Version)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := writeConfig(t, "mermaid: [unterminated\n")
	if _, err := config.Load(path, nil); err == nil {
		t.Fatalf("expected error for malformed YAML")
	}
}

func TestFinalize(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.RootDir = t.TempDir()
	cfg.OutputDir = filepath.Join(cfg.RootDir, "out")
	cfg.AssetPrefix = "/static/"
	cfg.BaseURL = "https://docs.example.com/"
	cfg.Exclude = []string{" drafts/** ", ""}
	cfg.Mermaid.Version = "None"

	if err := config.Finalize(&cfg); err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if cfg.AssetPrefix != "static" {
		t.Fatalf("unexpected asset prefix %q", cfg.AssetPrefix)
	}
	if cfg.BaseURL != "https://docs.example.com" {
		t.Fatalf("unexpected base url %q", cfg.BaseURL)
	}
	if diff := cmp.Diff([]string{"drafts/**"}, cfg.Exclude); diff != "" {
		t.Fatalf("unexpected exclude patterns (-want +got):\n%s", diff)
	}
	if cfg.Mermaid.Version != "" {
		t.Fatalf("expected normalised no-version, got %q", cfg.Mermaid.Version)
	}
}

func TestFinalizeRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	tests := map[string]func(*config.Config){
		"bad glob":     func(c *config.Config) { c.Exclude = []string{"docs/[a-"} },
		"same out":     func(c *config.Config) { c.OutputDir = c.RootDir },
		"bad format":   func(c *config.Config) { c.Mermaid.OutputFormat = "gif" },
		"remote local": func(c *config.Config) { c.Mermaid.LocalScript = "https://cdn.example.com/mermaid.js" },
	}
	for name, mutate := range tests {
		name := name
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.RootDir = t.TempDir()
			mutate(&cfg)
			if err := config.Finalize(&cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestRegisterFlagsDefaults(t *testing.T) {
	t.Parallel()
	fs := newFlags(t)
	if got := fs.Lookup("mermaid-version").DefValue; got != mermaid.DefaultVersion {
		t.Fatalf("unexpected mermaid-version default %q", got)
	}
	if fs.Lookup("zoom") == nil || fs.Lookup("link-to-editor") == nil {
		t.Fatalf("mermaid flags not registered")
	}
}
