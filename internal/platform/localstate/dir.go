// Package localstate persists the small JSON documents that back the local
// platform: permission decision, delivery agent, push subscriptions.
package localstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Dir is a state directory. The zero value (empty path) is a platform without
// notification capability.
type Dir struct {
	path string
	mu   sync.Mutex
}

// New returns a Dir rooted at path. An empty path yields an unsupported Dir.
func New(path string) *Dir {
	return &Dir{path: path}
}

// Supported reports whether a state directory is configured.
func (d *Dir) Supported() bool {
	return d != nil && d.path != ""
}

// Path returns the root of the directory.
func (d *Dir) Path() string {
	return d.path
}

// Read decodes the named document into v. It reports false if the document
// does not exist.
func (d *Dir) Read(name string, v any) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := os.ReadFile(filepath.Join(d.path, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

// Write replaces the named document atomically.
func (d *Dir) Write(name string, v any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.MkdirAll(d.path, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(d.path, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp.Name(), filepath.Join(d.path, name))
}
