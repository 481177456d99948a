package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits for a burst of events to settle.
const DefaultDebounce = 150 * time.Millisecond

// WatchOptions configure Watch.
type WatchOptions struct {
	Logger *slog.Logger
	Options
	Debounce time.Duration
}

// Watch observes root and its subdirectories and calls onChange with the
// relative paths of markdown files that were written, created, removed or
// renamed. Events arriving within the debounce window are batched into one
// call. Watch blocks until ctx is cancelled and then returns nil.
func Watch(ctx context.Context, root string, opts WatchOptions, onChange func(context.Context, []string)) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "watch")
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	w := &dirWatcher{
		watcher: watcher,
		filter:  newFilter(absRoot, opts.Options),
		logger:  logger,
		root:    absRoot,
	}
	if err := w.addRecursive(absRoot); err != nil {
		return err
	}

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if rel, ok := w.handle(event); ok {
				pending[rel] = struct{}{}
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", slog.Any("err", err))
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for rel := range pending {
				changed = append(changed, rel)
			}
			sort.Strings(changed)
			clear(pending)
			logger.Debug("content changed", slog.Any("paths", changed))
			onChange(ctx, changed)
		}
	}
}

type dirWatcher struct {
	watcher *fsnotify.Watcher
	filter  *filter
	logger  *slog.Logger
	root    string
}

// handle returns the relative markdown path an event refers to, if any.
func (w *dirWatcher) handle(event fsnotify.Event) (string, bool) {
	if event.Name == "" {
		return "", false
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	w.logger.Debug("fsnotify event", slog.String("path", rel), slog.String("op", event.Op.String()))

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.filter.skipDir(event.Name, rel, info.Name()) {
				if err := w.addRecursive(event.Name); err != nil {
					w.logger.Warn("failed to watch new directory", slog.String("path", rel), slog.Any("err", err))
				}
			}
			return "", false
		}
	}

	if !IsMarkdown(event.Name) || w.filter.skipFile(rel, filepath.Base(event.Name)) || w.insideSkipped(event.Name) {
		return "", false
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return "", false
	}
	return rel, true
}

func (w *dirWatcher) insideSkipped(abs string) bool {
	for dir := filepath.Dir(abs); dir != w.root && len(dir) > len(w.root); dir = filepath.Dir(dir) {
		rel, err := filepath.Rel(w.root, dir)
		if err != nil {
			return false
		}
		if w.filter.skipDir(dir, filepath.ToSlash(rel), filepath.Base(dir)) {
			return true
		}
	}
	return false
}

func (w *dirWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root {
			rel, err := filepath.Rel(w.root, path)
			if err != nil {
				return err
			}
			if w.filter.skipDir(path, filepath.ToSlash(rel), d.Name()) {
				return filepath.SkipDir
			}
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", slog.String("path", path), slog.Any("err", err))
		}
		return nil
	})
}
