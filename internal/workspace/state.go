// Package workspace tracks the project directory tools operate in and
// derives a state token that changes whenever the workspace mutates.
// The token feeds result-cache fingerprints so cached read-only tool
// output never outlives the files it was computed from.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Tracker observes a workspace root and produces state tokens.
type Tracker struct {
	root   string
	logger *slog.Logger

	// revision is bumped on every observed filesystem mutation.
	revision atomic.Uint64

	watcher    *fsnotify.Watcher
	watchMu    sync.Mutex
	watchWg    sync.WaitGroup
	watchStop  context.CancelFunc
	watchPaths map[string]struct{}
}

// NewTracker resolves root and begins watching it. The tracker watches
// the root and its subdirectories, skipping .git and hidden directories.
func NewTracker(root string, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create workspace watcher: %w", err)
	}

	t := &Tracker{
		root:       abs,
		logger:     logger,
		watcher:    watcher,
		watchPaths: map[string]struct{}{},
	}
	if err := t.addWatchTree(abs); err != nil {
		watcher.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.watchStop = cancel
	t.watchWg.Add(1)
	go t.watchLoop(ctx)
	return t, nil
}

// Root returns the absolute workspace root.
func (t *Tracker) Root() string { return t.root }

// Token returns the current state token. It combines the git HEAD
// commit (when the workspace is a repository) with a revision counter
// bumped on every filesystem mutation since the tracker started.
func (t *Tracker) Token() string {
	head := gitHead(t.root)
	if head == "" {
		head = "no-git"
	}
	return fmt.Sprintf("%s:%d", head, t.revision.Load())
}

// Close stops the watcher. The tracker keeps returning tokens after
// Close but stops observing mutations.
func (t *Tracker) Close() error {
	if t.watchStop != nil {
		t.watchStop()
	}
	err := t.watcher.Close()
	t.watchWg.Wait()
	return err
}

func (t *Tracker) watchLoop(ctx context.Context) {
	defer t.watchWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ignoredPath(t.root, event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				t.revision.Add(1)
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := t.addWatchTree(event.Name); err != nil {
							t.logger.Debug("workspace watch add failed",
								"path", event.Name, "error", err)
						}
					}
				}
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("workspace watcher error", "error", err)
		}
	}
}

func (t *Tracker) addWatchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if ignoredPath(t.root, path) {
			return filepath.SkipDir
		}
		t.watchMu.Lock()
		defer t.watchMu.Unlock()
		if _, ok := t.watchPaths[path]; ok {
			return nil
		}
		if err := t.watcher.Add(path); err != nil {
			return nil
		}
		t.watchPaths[path] = struct{}{}
		return nil
	})
}

// ignoredPath reports whether path sits under a dot-directory relative
// to root. The root itself is never ignored.
func ignoredPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// gitHead reads the commit hash HEAD points at without invoking git.
// Returns "" when root is not a repository.
func gitHead(root string) string {
	data, err := os.ReadFile(filepath.Join(root, ".git", "HEAD"))
	if err != nil {
		return ""
	}
	head := strings.TrimSpace(string(data))
	ref, ok := strings.CutPrefix(head, "ref: ")
	if !ok {
		return head // detached HEAD holds the hash directly
	}
	if data, err := os.ReadFile(filepath.Join(root, ".git", filepath.FromSlash(ref))); err == nil {
		return strings.TrimSpace(string(data))
	}
	// packed refs fallback
	packed, err := os.ReadFile(filepath.Join(root, ".git", "packed-refs"))
	if err != nil {
		return head
	}
	for _, line := range strings.Split(string(packed), "\n") {
		hash, name, ok := strings.Cut(strings.TrimSpace(line), " ")
		if ok && name == ref {
			return hash
		}
	}
	return head
}
