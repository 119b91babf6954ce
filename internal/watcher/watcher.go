// # internal/watcher/watcher.go
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/SShadowS/al-call-hierarchy/internal/shared/util"
)

// Watcher watches a set of directory roots recursively, filters events down
// to a single file extension (case-insensitive), and coalesces bursts of
// changes per path before delivering a batch to onChange. A second event
// for a path already pending replaces its timestamp rather than queuing a
// duplicate, so a save storm delivers each path once.
type Watcher struct {
	fsWatcher    *fsnotify.Watcher
	debounce     time.Duration
	includeExt   string
	excludeDirs  patternSet
	excludeFiles patternSet
	onChange     func([]string)
	callbackMu   sync.Mutex

	pending   map[string]time.Time
	pendingMu sync.Mutex
	timer     *time.Timer
}

// patternSet splits exclude patterns by shape: a pattern containing a path
// separator matches the normalized full path ("**/.alpackages/*"), anything
// else matches the base name alone (".git", "*.g.al").
type patternSet struct {
	base []glob.Glob
	path []glob.Glob
}

func compilePatterns(patterns []string) (patternSet, error) {
	var ps patternSet
	for _, pattern := range patterns {
		if util.ContainsPathSeparator(pattern) {
			g, err := glob.Compile(util.NormalizePatternPath(pattern), '/')
			if err != nil {
				return patternSet{}, err
			}
			ps.path = append(ps.path, g)
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return patternSet{}, err
		}
		ps.base = append(ps.base, g)
	}
	return ps, nil
}

func (ps patternSet) match(fullPath string) bool {
	base := filepath.Base(fullPath)
	for _, g := range ps.base {
		if g.Match(base) {
			return true
		}
	}
	if len(ps.path) > 0 {
		normalized := util.NormalizePatternPath(fullPath)
		for _, g := range ps.path {
			if g.Match(normalized) {
				return true
			}
		}
	}
	return false
}

// NewWatcher creates a Watcher. includeExt, if non-empty, restricts
// delivered events to files with that extension (e.g. ".al"); an empty
// string watches every file.
func NewWatcher(debounce time.Duration, includeExt string, excludeDirs, excludeFiles []string, onChange func([]string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher:  fsw,
		debounce:   debounce,
		includeExt: includeExt,
		onChange:   onChange,
		pending:    make(map[string]time.Time),
	}

	if w.excludeDirs, err = compilePatterns(excludeDirs); err != nil {
		return nil, err
	}
	if w.excludeFiles, err = compilePatterns(excludeFiles); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Watcher) Watch(paths []string) error {
	for _, path := range paths {
		if err := w.watchRecursive(path); err != nil {
			return err
		}
	}

	go w.run()
	return nil
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if w.shouldExcludeDir(path) {
				return filepath.SkipDir
			}
			return w.fsWatcher.Add(path)
		}

		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if event.Op&fsnotify.Create == fsnotify.Create {
				info, err := os.Stat(event.Name)
				if err == nil && info.IsDir() {
					if !w.shouldExcludeDir(event.Name) {
						if err := w.watchRecursive(event.Name); err != nil {
							slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
						} else {
							w.enqueueExistingFiles(event.Name)
						}
					}
					continue
				}
			}

			if w.shouldExcludeFile(event.Name) {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create ||
				event.Op&fsnotify.Remove == fsnotify.Remove {
				w.scheduleChange(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleChange(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] = time.Now()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		w.flushChanges()
	})
}

func (w *Watcher) flushChanges() {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]time.Time)
	w.pendingMu.Unlock()

	if len(paths) > 0 {
		w.callbackMu.Lock()
		defer w.callbackMu.Unlock()
		w.onChange(paths)
	}
}

func (w *Watcher) shouldExcludeDir(path string) bool {
	return w.excludeDirs.match(path)
}

func (w *Watcher) shouldExcludeFile(path string) bool {
	if w.includeExt != "" && !strings.EqualFold(filepath.Ext(path), w.includeExt) {
		return true
	}
	return w.excludeFiles.match(path)
}

func (w *Watcher) Close() error {
	if w.timer != nil {
		w.timer.Stop()
	}
	return w.fsWatcher.Close()
}

func (w *Watcher) enqueueExistingFiles(root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if w.shouldExcludeFile(path) {
			return nil
		}
		w.scheduleChange(path)
		return nil
	})
}
