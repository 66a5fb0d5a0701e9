// Package cleanup tracks intermediate artifacts and removes them when the owning scope
// closes.
//
//	scope, err := cleanup.NewScope("")
//	if err != nil {
//		return err
//	}
//	defer scope.Close()
package cleanup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Scope is a registry of temporary directories. It is safe for concurrent use.
type Scope struct {
	mu     sync.Mutex
	root   string
	dirs   []string
	closed bool
}

// NewScope creates a scope owning a fresh directory under parent (os.TempDir() when empty).
func NewScope(parent string) (*Scope, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	root := filepath.Join(parent, "blktiler-"+uuid.NewString())
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scope dir: %w", err)
	}
	s := &Scope{root: root}
	s.RegisterDir(root)
	return s, nil
}

// Root is the directory owned by the scope.
func (s *Scope) Root() string {
	return s.root
}

// TempDir creates and registers a unique directory under the scope root, prefixed by name.
func (s *Scope) TempDir(name string) (string, error) {
	dir := filepath.Join(s.root, name+"-"+uuid.NewString()[:8])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir %s: %w", dir, err)
	}
	s.RegisterDir(dir)
	return dir, nil
}

// RegisterDir schedules a directory tree for removal.
func (s *Scope) RegisterDir(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs = append(s.dirs, path)
}

// Close removes every registered directory tree. It is idempotent; the returned error joins
// all removal failures.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	// children were registered after their parents
	for i := len(s.dirs) - 1; i >= 0; i-- {
		if err := os.RemoveAll(s.dirs[i]); err != nil {
			errs = append(errs, err)
		}
	}
	s.dirs = nil
	return errors.Join(errs...)
}
