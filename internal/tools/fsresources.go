package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lattice-mcp/kernel/internal/protocol"
	"github.com/lattice-mcp/kernel/internal/registry"
)

// FileResources exposes the files under one base directory as file:// URI
// resources. Reads are confined to the base path, optionally narrowed to
// an extension allow-list; anything outside either is declined so another
// provider can claim the URI.
type FileResources struct {
	base       string
	extensions []string // nil: every extension allowed

	subMu sync.Mutex
	subs  map[string]bool
}

// NewFileResources roots a provider at base. base is cleaned but not
// required to exist yet; listing an absent directory yields no resources.
func NewFileResources(base string) *FileResources {
	return &FileResources{
		base: filepath.Clean(base),
		subs: make(map[string]bool),
	}
}

// WithAllowedExtensions restricts listing and reading to the given
// extensions (without the leading dot).
func (f *FileResources) WithAllowedExtensions(extensions ...string) *FileResources {
	f.extensions = extensions
	return f
}

// mimeByExtension maps the file extensions this provider recognizes to a
// MIME type; anything else is served without one.
var mimeByExtension = map[string]string{
	"txt":  "text/plain",
	"md":   "text/markdown",
	"json": "application/json",
	"xml":  "application/xml",
	"html": "text/html",
	"js":   "application/javascript",
	"css":  "text/css",
	"go":   "text/x-go",
}

func (f *FileResources) allowed(path string) bool {
	if f.extensions == nil {
		return true
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for _, allowed := range f.extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (f *FileResources) uriFor(path string) string {
	return "file://" + filepath.ToSlash(path)
}

// pathFor maps a file:// URI back to a filesystem path, declining anything
// that does not resolve inside the base directory.
func (f *FileResources) pathFor(uri string) (string, bool) {
	raw, ok := strings.CutPrefix(uri, "file://")
	if !ok {
		return "", false
	}
	path := filepath.Clean(filepath.FromSlash(raw))
	if path != f.base && !strings.HasPrefix(path, f.base+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}

func (f *FileResources) List() []protocol.Resource {
	var out []protocol.Resource
	_ = filepath.WalkDir(f.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !f.allowed(path) {
			return nil
		}
		out = append(out, protocol.Resource{
			URI:      f.uriFor(path),
			Name:     d.Name(),
			MimeType: mimeByExtension[strings.TrimPrefix(filepath.Ext(path), ".")],
		})
		return nil
	})
	return out
}

func (f *FileResources) Read(ctx context.Context, uri string) (*protocol.ResourceContents, error) {
	path, ok := f.pathFor(uri)
	if !ok || !f.allowed(path) {
		return nil, registry.ErrProviderDeclined
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, registry.ErrProviderDeclined
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &protocol.ResourceContents{
		URI:      uri,
		MimeType: mimeByExtension[strings.TrimPrefix(filepath.Ext(path), ".")],
		Text:     string(data),
	}, nil
}

func (f *FileResources) Subscribable() bool { return true }

func (f *FileResources) Subscribe(ctx context.Context, uri string) error {
	if _, ok := f.pathFor(uri); !ok {
		return registry.ErrProviderDeclined
	}
	f.subMu.Lock()
	f.subs[uri] = true
	f.subMu.Unlock()
	return nil
}

func (f *FileResources) Unsubscribe(ctx context.Context, uri string) error {
	f.subMu.Lock()
	delete(f.subs, uri)
	f.subMu.Unlock()
	return nil
}
