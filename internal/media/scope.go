// Package media merges rendered scene videos with their narration and joins
// the merged scenes into one final video using ffmpeg.
package media

import (
	"fmt"
	"os"
	"path/filepath"
)

// Scope is a private scratch directory for one external tool call.
// Every file written through it is removed by Close.
type Scope struct {
	dir string
}

// NewScope creates a uniquely named scratch directory under parent.
// An empty parent uses the system temp directory.
func NewScope(parent, prefix string) (*Scope, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create temp parent %s: %w", parent, err)
		}
	}
	dir, err := os.MkdirTemp(parent, prefix+"-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Scope{dir: dir}, nil
}

// Dir returns the scratch directory path.
func (s *Scope) Dir() string {
	return s.dir
}

// Path returns the absolute path for name inside the scope without creating it.
func (s *Scope) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Write stores data as name inside the scope and returns its absolute path.
func (s *Scope) Write(name string, data []byte) (string, error) {
	path := s.Path(name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write scratch file %s: %w", name, err)
	}
	return path, nil
}

// Close removes the scratch directory and everything in it. Safe to call twice.
func (s *Scope) Close() error {
	if s == nil || s.dir == "" {
		return nil
	}
	err := os.RemoveAll(s.dir)
	s.dir = ""
	return err
}

// WithScope runs fn inside a fresh scope and removes it afterwards,
// including when fn panics.
func WithScope(parent, prefix string, fn func(*Scope) error) error {
	scope, err := NewScope(parent, prefix)
	if err != nil {
		return err
	}
	defer func() { _ = scope.Close() }()
	return fn(scope)
}
