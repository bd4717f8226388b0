// Package files provides workspace-scoped filesystem tools: read, write,
// edit, and list. Every path is resolved against the workspace root and
// rejected if it escapes it.
package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned for paths that resolve outside the root.
var ErrOutsideWorkspace = errors.New("path escapes workspace")

// Resolver confines paths to a workspace root.
type Resolver struct {
	Root string
}

// Resolve returns the absolute path for a workspace-relative (or
// absolute) path, or ErrOutsideWorkspace when it leaves the root.
func (r Resolver) Resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}
	root := r.Root
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideWorkspace)
	}
	return target, nil
}
