package tools

import (
	"context"
	"sync"

	"github.com/lattice-mcp/kernel/internal/protocol"
	"github.com/lattice-mcp/kernel/internal/registry"
)

// MemoryNotes is a trivial in-memory resource provider: a fixed "note://"
// namespace of text blobs, writable only through Put. It demonstrates the
// resource surface (list/read/subscribe) without depending on a real
// filesystem or database.
type MemoryNotes struct {
	mu    sync.RWMutex
	notes map[string]string

	subMu sync.Mutex
	subs  map[string]bool
}

// NewMemoryNotes seeds the provider with one welcome note.
func NewMemoryNotes() *MemoryNotes {
	return &MemoryNotes{
		notes: map[string]string{
			"note://welcome": "This kernel ships with two demo tools, a notes resource, and a greeting prompt.",
		},
		subs: make(map[string]bool),
	}
}

func (m *MemoryNotes) List() []protocol.Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.Resource, 0, len(m.notes))
	for uri := range m.notes {
		out = append(out, protocol.Resource{URI: uri, Name: uri, MimeType: "text/plain"})
	}
	return out
}

func (m *MemoryNotes) Read(ctx context.Context, uri string) (*protocol.ResourceContents, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.notes[uri]
	if !ok {
		return nil, registry.ErrProviderDeclined
	}
	return &protocol.ResourceContents{URI: uri, MimeType: "text/plain", Text: text}, nil
}

// Put writes or overwrites a note, gated by the caller's own policy checks
// (this provider has no opinion on authorization).
func (m *MemoryNotes) Put(uri, text string) {
	m.mu.Lock()
	m.notes[uri] = text
	m.mu.Unlock()
}

func (m *MemoryNotes) Subscribable() bool { return true }

func (m *MemoryNotes) Subscribe(ctx context.Context, uri string) error {
	m.subMu.Lock()
	m.subs[uri] = true
	m.subMu.Unlock()
	return nil
}

func (m *MemoryNotes) Unsubscribe(ctx context.Context, uri string) error {
	m.subMu.Lock()
	delete(m.subs, uri)
	m.subMu.Unlock()
	return nil
}
