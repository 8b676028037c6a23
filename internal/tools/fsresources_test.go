package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lattice-mcp/kernel/internal/registry"
)

func TestFileResourcesListRespectsExtensionAllowList(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.md"), []byte("# hi"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.bin"), []byte{1, 2}, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	f := NewFileResources(dir).WithAllowedExtensions("md")
	list := f.List()
	if len(list) != 1 || list[0].Name != "a.md" {
		t.Fatalf("expected only the allowed extension listed, got %+v", list)
	}
	if list[0].MimeType != "text/markdown" {
		t.Fatalf("expected markdown MIME type, got %q", list[0].MimeType)
	}

	contents, err := f.Read(context.Background(), list[0].URI)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if contents.Text != "# hi" {
		t.Fatalf("unexpected contents: %q", contents.Text)
	}
}

func TestFileResourcesDeclinesOutsideBase(t *testing.T) {
	f := NewFileResources(t.TempDir())

	if _, err := f.Read(context.Background(), "file:///etc/passwd"); err != registry.ErrProviderDeclined {
		t.Fatalf("expected a path outside the base to be declined, got %v", err)
	}
	if _, err := f.Read(context.Background(), "note://welcome"); err != registry.ErrProviderDeclined {
		t.Fatalf("expected a non-file URI to be declined, got %v", err)
	}
}

func TestFileResourcesDeclinesTraversalEscape(t *testing.T) {
	dir := t.TempDir()
	f := NewFileResources(dir)
	uri := "file://" + filepath.ToSlash(filepath.Join(dir, "..", "..", "etc", "passwd"))
	if _, err := f.Read(context.Background(), uri); err != registry.ErrProviderDeclined {
		t.Fatalf("expected a traversal escape to be declined, got %v", err)
	}
}

func TestFileResourcesMissingFileDeclines(t *testing.T) {
	dir := t.TempDir()
	f := NewFileResources(dir)
	uri := "file://" + filepath.ToSlash(filepath.Join(dir, "missing.txt"))
	if _, err := f.Read(context.Background(), uri); err != registry.ErrProviderDeclined {
		t.Fatalf("expected a missing file to be declined, got %v", err)
	}
}
