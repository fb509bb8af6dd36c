// Package security holds filesystem path checks for handler input.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects paths that resolve outside dir. The
// classify API accepts arbitrary image paths from the dashboard, so both the
// path and the directory are canonicalized before the containment check; a
// symlink planted under the spool directory cannot smuggle in a read from
// elsewhere on the machine.
func ValidatePathWithinDirectory(path, dir string) error {
	canonicalPath, err := canonicalize(path)
	if err != nil {
		return err
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, dir)
	}
	return nil
}

// canonicalize resolves symlinks in path. A capture can vanish between
// listing and classification, so a missing file is not an error: the nearest
// existing ancestor is resolved instead and the remainder joined back on,
// which still catches a symlinked parent directory.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	next := abs
	for {
		parent := filepath.Dir(next)
		if parent == next {
			// Walked to the root without finding an existing ancestor.
			return abs, nil
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, abs)
			return filepath.Join(resolved, rel), nil
		}
		next = parent
	}
}
