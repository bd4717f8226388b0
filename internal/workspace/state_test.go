package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestTracker(t *testing.T, root string) *Tracker {
	t.Helper()
	tracker, err := NewTracker(root, nil)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

// waitForChange polls until the token differs from before or the
// deadline passes.
func waitForChange(t *testing.T, tracker *Tracker, before string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if now := tracker.Token(); now != before {
			return now
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("token never changed from %q", before)
	return ""
}

func TestTrackerTokenWithoutGit(t *testing.T) {
	root := t.TempDir()
	tracker := newTestTracker(t, root)

	token := tracker.Token()
	if !strings.HasPrefix(token, "no-git:") {
		t.Errorf("token = %q, want no-git prefix", token)
	}
}

func TestTrackerTokenIncludesGitHead(t *testing.T) {
	root := t.TempDir()
	hash := "6e4adf3bb0d92f8e0f9d52a5cdd1bb757a4b1dcb"
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main\n")
	writeFile(t, filepath.Join(root, ".git", "refs", "heads", "main"), hash+"\n")

	tracker := newTestTracker(t, root)
	if token := tracker.Token(); !strings.HasPrefix(token, hash+":") {
		t.Errorf("token = %q, want prefix %q", token, hash)
	}
}

func TestTrackerTokenDetachedHead(t *testing.T) {
	root := t.TempDir()
	hash := "9a1b2c3d4e5f60718293a4b5c6d7e8f901234567"
	writeFile(t, filepath.Join(root, ".git", "HEAD"), hash+"\n")

	tracker := newTestTracker(t, root)
	if token := tracker.Token(); !strings.HasPrefix(token, hash+":") {
		t.Errorf("token = %q, want prefix %q", token, hash)
	}
}

func TestTrackerTokenPackedRef(t *testing.T) {
	root := t.TempDir()
	hash := "0123456789abcdef0123456789abcdef01234567"
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main\n")
	writeFile(t, filepath.Join(root, ".git", "packed-refs"),
		"# pack-refs with: peeled fully-peeled sorted\n"+hash+" refs/heads/main\n")

	tracker := newTestTracker(t, root)
	if token := tracker.Token(); !strings.HasPrefix(token, hash+":") {
		t.Errorf("token = %q, want prefix %q", token, hash)
	}
}

func TestTrackerTokenChangesOnWrite(t *testing.T) {
	root := t.TempDir()
	tracker := newTestTracker(t, root)

	before := tracker.Token()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	waitForChange(t, tracker, before)
}

func TestTrackerWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	tracker := newTestTracker(t, root)

	before := tracker.Token()
	sub := filepath.Join(root, "pkg")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	mid := waitForChange(t, tracker, before)

	// give the watcher a moment to pick up the new directory
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(sub, "lib.go"), "package pkg\n")
	waitForChange(t, tracker, mid)
}

func TestTrackerIgnoresDotDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main\n")
	tracker := newTestTracker(t, root)

	before := tracker.Token()
	writeFile(t, filepath.Join(root, ".git", "index.lock"), "")
	time.Sleep(300 * time.Millisecond)
	if now := tracker.Token(); now != before {
		t.Errorf("token changed on .git write: %q -> %q", before, now)
	}
}

func TestTrackerRejectsMissingRoot(t *testing.T) {
	if _, err := NewTracker(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestIgnoredPath(t *testing.T) {
	root := "/work"
	tests := []struct {
		path string
		want bool
	}{
		{"/work", false},
		{"/work/main.go", false},
		{"/work/.git", true},
		{"/work/.git/HEAD", true},
		{"/work/pkg/.cache/obj", true},
		{"/work/pkg/sub", false},
	}
	for _, tt := range tests {
		if got := ignoredPath(root, tt.path); got != tt.want {
			t.Errorf("ignoredPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
