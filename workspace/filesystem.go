package workspace

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/just-work/video-transcoding/log"
)

// FileSystem keeps a workspace under a local directory. Used for
// single-node deployments and throughout the tests.
type FileSystem struct {
	root *url.URL
	dir  string
}

func NewFileSystem(root *url.URL) (*FileSystem, error) {
	if root.Scheme != "file" {
		return nil, fmt.Errorf("filesystem workspace requires a file root, got %q", root.Scheme)
	}
	if root.Host != "" && root.Host != "localhost" {
		return nil, fmt.Errorf("filesystem workspace root %s names a remote host", root)
	}
	return &FileSystem{root: root, dir: filepath.FromSlash(root.Path)}, nil
}

func (w *FileSystem) Root() *url.URL {
	return w.root
}

func (w *FileSystem) URI(r Resource) *url.URL {
	return resourceURI(w.root, r)
}

func (w *FileSystem) MediaURL(r Resource) string {
	return w.path(r)
}

func (w *FileSystem) path(r Resource) string {
	return filepath.Join(append([]string{w.dir}, r.parts...)...)
}

func (w *FileSystem) Create(ctx context.Context, r Resource) error {
	dir := w.path(r)
	if !r.IsCollection() {
		dir = filepath.Dir(dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", r, err)
	}
	return nil
}

func (w *FileSystem) Delete(ctx context.Context, r Resource) error {
	path := w.path(r)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.LogNoTaskID("delete of missing resource", "resource", r.String(), "root", w.root)
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting %s: %w", r, err)
	}
	return nil
}

func (w *FileSystem) Exists(ctx context.Context, r Resource) (bool, error) {
	_, err := os.Stat(w.path(r))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking %s: %w", r, err)
}

func (w *FileSystem) Read(ctx context.Context, r Resource) ([]byte, error) {
	data, err := os.ReadFile(w.path(r))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r, err)
	}
	return data, nil
}

func (w *FileSystem) Write(ctx context.Context, r Resource, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(w.path(r)), 0o755); err != nil {
		return fmt.Errorf("writing %s: %w", r, err)
	}
	if err := os.WriteFile(w.path(r), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", r, err)
	}
	return nil
}

func (w *FileSystem) EnsureCollection(ctx context.Context, parts ...string) (Resource, error) {
	r := NewCollection(parts...)
	if err := w.Create(ctx, r); err != nil {
		return Resource{}, err
	}
	return r, nil
}
