// Package workspace owns per-deployment directories and the private copies
// handed to plugins.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidID is returned for identifiers that are not a single path segment.
var ErrInvalidID = errors.New("workspace: invalid identifier")

// Manager owns directories under a common root.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute root directory.
func (m *Manager) Root() string {
	return m.root
}

// Path returns the directory for identifier without creating it.
func (m *Manager) Path(identifier string) (string, error) {
	if identifier == "" || identifier == "." || identifier == ".." || strings.ContainsAny(identifier, `/\`) {
		return "", ErrInvalidID
	}
	return filepath.Join(m.root, identifier), nil
}

// Exists reports whether the directory for identifier is present.
func (m *Manager) Exists(identifier string) bool {
	dir, err := m.Path(identifier)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Cleanup removes the workspace directory.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	// Ensure we only remove directories within the configured root.
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}

// CleanupByID removes the workspace associated with the provided identifier.
// Missing directories are not an error.
func (m *Manager) CleanupByID(identifier string) error {
	dir, err := m.Path(identifier)
	if err != nil {
		return err
	}
	return m.Cleanup(dir)
}

// Snapshot copies src into a fresh uniquely named directory under the root
// and returns its absolute path. The caller owns the copy and must Cleanup it.
func (m *Manager) Snapshot(src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat snapshot source: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("snapshot source %s is not a directory", src)
	}
	dir := filepath.Join(m.root, strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
	if err := os.CopyFS(dir, os.DirFS(src)); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	return dir, nil
}
