// Package watch observes the repository's ref store while a rewrite run is
// in flight. The commit list is a snapshot, so a source branch that moves
// mid-run silently diverges from what is being rewritten; the watcher makes
// that visible instead of letting the operator find out after the swap.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 350 * time.Millisecond

// RefWatcher watches .git/refs/heads and .git/packed-refs and invokes the
// callback after a short quiet period following any ref update.
type RefWatcher struct {
	watcher  *fsnotify.Watcher
	onChange func()

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// Start begins watching the ref store of the repository rooted at repoRoot.
// onChange runs on the watcher goroutine; keep it short.
func Start(repoRoot string, onChange func()) (*RefWatcher, error) {
	if repoRoot == "" {
		return nil, fmt.Errorf("repository root not set")
	}
	gitDir := filepath.Join(repoRoot, ".git")
	if info, err := os.Stat(gitDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("ref store not found under %s", gitDir)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	w := &RefWatcher{watcher: watcher, onChange: onChange}
	for _, path := range refWatchPaths(gitDir) {
		slog.Debug("adding path to ref watcher", slog.String("path", path))
		if err := watcher.Add(path); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
	}
	go w.loop()
	return w, nil
}

func refWatchPaths(gitDir string) []string {
	paths := []string{gitDir}
	headsDir := filepath.Join(gitDir, "refs", "heads")
	if info, err := os.Stat(headsDir); err == nil && info.IsDir() {
		paths = append(paths, headsDir)
	}
	return paths
}

func (w *RefWatcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isRefPath(ev.Name) {
				continue
			}
			slog.Debug("ref store event",
				slog.String("op", ev.Op.String()),
				slog.String("path", ev.Name),
			)
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("ref watcher error", slog.Any("error", err))
		}
	}
}

// isRefPath filters watcher events down to branch ref updates: loose refs
// under refs/heads and rewrites of packed-refs. Lock files churn on every git
// operation and are ignored.
func isRefPath(name string) bool {
	if strings.HasSuffix(name, ".lock") {
		return false
	}
	base := filepath.Base(name)
	if base == "packed-refs" {
		return true
	}
	sep := string(filepath.Separator)
	return strings.Contains(name, sep+"refs"+sep+"heads"+sep)
}

func (w *RefWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.onChange)
}

// Close stops watching and cancels any pending callback.
func (w *RefWatcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
