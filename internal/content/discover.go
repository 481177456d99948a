// Package content finds the markdown pages of a documentation tree and watches
// it for changes.
package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Page is a markdown source found under the root.
type Page struct {
	ModTime      time.Time
	RelativePath string
	AbsPath      string
	Size         int64
}

// Options control which files Discover returns.
type Options struct {
	// Exclude holds doublestar patterns matched against slash-separated
	// paths relative to the root, e.g. "drafts/**" or "**/_*.md".
	Exclude []string
	// SkipDirs are absolute directories never descended into, such as the
	// build output when it lives inside the root.
	SkipDirs      []string
	IncludeHidden bool
}

var defaultExcludedDirs = []string{
	"node_modules",
	"vendor",
	"venv",
	".venv",
	"deps",
	"third_party",
	".git",
	".hg",
	".svn",
	".idea",
	".vscode",
	"__pycache__",
}

// Discover walks root and returns its markdown pages sorted by relative path.
func Discover(ctx context.Context, root string, opts Options) ([]Page, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", absRoot)
	}

	f := newFilter(absRoot, opts)
	var pages []Page
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == absRoot {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if f.skipDir(path, rel, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsMarkdown(d.Name()) || f.skipFile(rel, d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat file %s: %w", rel, err)
		}
		pages = append(pages, Page{
			RelativePath: rel,
			AbsPath:      path,
			ModTime:      info.ModTime(),
			Size:         info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(pages, func(i, j int) bool {
		return pages[i].RelativePath < pages[j].RelativePath
	})
	return pages, nil
}

// filter decides which entries the walk and the watcher ignore.
type filter struct {
	exclude  map[string]struct{}
	skipDirs map[string]struct{}
	patterns []string
	root     string
	hidden   bool
}

func newFilter(absRoot string, opts Options) *filter {
	f := &filter{
		root:     absRoot,
		hidden:   opts.IncludeHidden,
		patterns: opts.Exclude,
		exclude:  make(map[string]struct{}, len(defaultExcludedDirs)),
		skipDirs: make(map[string]struct{}, len(opts.SkipDirs)),
	}
	for _, name := range defaultExcludedDirs {
		f.exclude[strings.ToLower(name)] = struct{}{}
	}
	for _, dir := range opts.SkipDirs {
		if abs, err := filepath.Abs(dir); err == nil {
			f.skipDirs[abs] = struct{}{}
		}
	}
	return f
}

func (f *filter) skipDir(abs, rel, name string) bool {
	if !f.hidden && strings.HasPrefix(name, ".") {
		return true
	}
	if _, ok := f.exclude[strings.ToLower(name)]; ok {
		return true
	}
	if _, ok := f.skipDirs[abs]; ok {
		return true
	}
	return f.matches(rel)
}

func (f *filter) skipFile(rel, name string) bool {
	if !f.hidden && strings.HasPrefix(name, ".") {
		return true
	}
	return f.matches(rel)
}

func (f *filter) matches(rel string) bool {
	for _, pattern := range f.patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// IsMarkdown reports whether name has a markdown extension.
func IsMarkdown(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".md") || strings.HasSuffix(name, ".markdown")
}
