// Package storage writes transcoded output to the local filesystem.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Skryldev/imagestream/core"
)

// Local stores images on the local filesystem.
type Local struct {
	rootDir     string
	permissions os.FileMode
}

// NewLocal creates a Local storage adapter rooted at dir.
func NewLocal(dir string, perm os.FileMode) (*Local, error) {
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: mkdir %s: %w", dir, err)
	}
	return &Local{rootDir: dir, permissions: perm}, nil
}

// Path returns where name is stored.
func (l *Local) Path(name string) string {
	return filepath.Join(l.rootDir, filepath.Clean("/"+name))
}

// Create opens name for writing.  Data goes to a temporary file in the same
// directory that replaces name on Close, so a failed transcode never leaves
// a partial image behind.
func (l *Local) Create(ctx context.Context, name string) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := l.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("local storage: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("local storage: create %s: %w", name, err)
	}
	return &File{tmp: tmp, path: path, perm: l.permissions}, nil
}

// WriteMeta persists metadata as a side-car JSON file next to name.
func (l *Local) WriteMeta(name string, meta core.Metadata) error {
	if len(meta) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("local storage: metadata: %w", err)
	}
	return os.WriteFile(l.Path(name)+".meta.json", data, l.permissions)
}

// Exists reports whether name is present.
func (l *Local) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("local storage: stat %s: %w", name, err)
}

// Delete removes name and its side-car file.
func (l *Local) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := l.Path(name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("local storage: delete %s: %w", name, err)
	}
	_ = os.Remove(path + ".meta.json")
	return nil
}

// File is an output file being written.
type File struct {
	tmp  *os.File
	path string
	perm os.FileMode
	done bool
}

func (f *File) Write(p []byte) (int, error) { return f.tmp.Write(p) }

// Close moves the written data into place.
func (f *File) Close() error {
	if f.done {
		return nil
	}
	f.done = true
	if err := f.tmp.Close(); err != nil {
		os.Remove(f.tmp.Name())
		return err
	}
	if err := os.Chmod(f.tmp.Name(), f.perm); err != nil {
		os.Remove(f.tmp.Name())
		return err
	}
	return os.Rename(f.tmp.Name(), f.path)
}

// Discard drops the written data.
func (f *File) Discard() {
	if f.done {
		return
	}
	f.done = true
	f.tmp.Close()
	os.Remove(f.tmp.Name())
}

var _ io.WriteCloser = (*File)(nil)
