// Package workspace gives the pipeline a rooted namespace of collections
// and files over a pluggable backend, either a local directory or a WebDAV
// share. Both backends expose the same tree semantics so the pipeline never
// cares where its artifacts live.
package workspace

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Kind int

const (
	KindCollection Kind = iota
	KindFile
)

// Resource names a collection or file by its path parts relative to a
// workspace root. The zero value is the root collection.
type Resource struct {
	parts []string
	kind  Kind
}

func NewCollection(parts ...string) Resource {
	return Resource{parts: parts, kind: KindCollection}
}

func NewFile(parts ...string) Resource {
	return Resource{parts: parts, kind: KindFile}
}

// Collection returns a child collection of r.
func (r Resource) Collection(name string) Resource {
	return Resource{parts: r.child(name), kind: KindCollection}
}

// File returns a child file of r.
func (r Resource) File(name string) Resource {
	return Resource{parts: r.child(name), kind: KindFile}
}

func (r Resource) child(name string) []string {
	parts := make([]string, 0, len(r.parts)+1)
	parts = append(parts, r.parts...)
	return append(parts, name)
}

func (r Resource) Parts() []string {
	parts := make([]string, len(r.parts))
	copy(parts, r.parts)
	return parts
}

func (r Resource) Path() string {
	return strings.Join(r.parts, "/")
}

func (r Resource) Basename() string {
	if len(r.parts) == 0 {
		return ""
	}
	return r.parts[len(r.parts)-1]
}

func (r Resource) IsCollection() bool {
	return r.kind == KindCollection
}

func (r Resource) String() string {
	if r.IsCollection() {
		return r.Path() + "/"
	}
	return r.Path()
}

// Workspace stores pipeline artifacts under a single root URI.
//
// Create is idempotent and makes missing parents. Delete is recursive and
// succeeds with a warning when the target is already gone. Write replaces
// the file content atomically from the caller's point of view.
type Workspace interface {
	Root() *url.URL
	// URI returns the absolute address of a resource. Collection URIs end
	// with a slash, file URIs do not.
	URI(r Resource) *url.URL
	// MediaURL returns the address media tools (ffmpeg, ffprobe) use to
	// reach a resource: a plain path for local workspaces, an http(s) URL
	// for WebDAV ones. Collection addresses carry no trailing slash, so
	// they compose with "/" joins.
	MediaURL(r Resource) string
	Create(ctx context.Context, r Resource) error
	Delete(ctx context.Context, r Resource) error
	Exists(ctx context.Context, r Resource) (bool, error)
	Read(ctx context.Context, r Resource) ([]byte, error)
	Write(ctx context.Context, r Resource, data []byte) error
	// EnsureCollection creates a collection if needed and returns it.
	EnsureCollection(ctx context.Context, parts ...string) (Resource, error)
}

// Options carry the transport settings backends need. The filesystem
// backend ignores them.
type Options struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Open picks a backend for the root URI by scheme: file for local
// directories, dav/davs for WebDAV over http/https.
func Open(root *url.URL, opts Options) (Workspace, error) {
	switch root.Scheme {
	case "file":
		return NewFileSystem(root)
	case "dav", "davs":
		return NewWebDAV(root, opts), nil
	}
	return nil, fmt.Errorf("no workspace backend for scheme %q", root.Scheme)
}

// SubURI addresses a child collection under base, used to carve per-job
// roots out of the configured temp and origin URIs.
func SubURI(base *url.URL, name string) *url.URL {
	u := *base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + name + "/"
	return &u
}

func resourceURI(root *url.URL, r Resource) *url.URL {
	u := *root
	p := strings.TrimSuffix(u.Path, "/")
	for _, part := range r.parts {
		p += "/" + part
	}
	if r.IsCollection() {
		p += "/"
	}
	u.Path = p
	return &u
}
