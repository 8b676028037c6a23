package registry

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/lattice-mcp/kernel/internal/protocol"
)

// ErrProviderDeclined is returned by a ResourceProvider's Read when it does
// not own uri; the registry tries the next provider in insertion order.
var ErrProviderDeclined = fmt.Errorf("registry: provider declined")

// ResourceProvider exposes a set of readable, optionally subscribable
// resources.
type ResourceProvider interface {
	// List returns the descriptors this provider exposes.
	List() []protocol.Resource
	// Read returns the contents for uri, or ErrProviderDeclined if this
	// provider doesn't own uri.
	Read(ctx context.Context, uri string) (*protocol.ResourceContents, error)
	// Subscribable reports whether this provider supports subscriptions at
	// all.
	Subscribable() bool
	// Subscribe is called once when the first subscriber is added for a
	// uri this provider owns.
	Subscribe(ctx context.Context, uri string) error
	// Unsubscribe is called once when the last subscriber for uri is
	// removed.
	Unsubscribe(ctx context.Context, uri string) error
}

// ResourceRegistry aggregates multiple ResourceProviders with uniform
// list/read/subscribe semantics.
type ResourceRegistry struct {
	mu        sync.RWMutex
	providers []ResourceProvider

	// subs maps uri -> (subscriber-id -> owning provider index), so
	// Unsubscribe can find the right provider to notify when the set
	// empties.
	subs map[string]map[string]int

	OnListChanged    func()
	OnResourceUpdate func(uri string)
}

// NewResourceRegistry creates an empty registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{
		subs: make(map[string]map[string]int),
	}
}

// AddProvider appends a provider; providers are tried in this insertion
// order for Read and Subscribe.
func (r *ResourceRegistry) AddProvider(p ResourceProvider) {
	r.mu.Lock()
	r.providers = append(r.providers, p)
	r.mu.Unlock()
	r.notifyListChanged()
}

func (r *ResourceRegistry) notifyListChanged() {
	if r.OnListChanged != nil {
		r.OnListChanged()
	}
}

// NotifyUpdated reports a content change for uri to the update hook.
// Nothing fires unless at least one subscriber is registered for uri.
func (r *ResourceRegistry) NotifyUpdated(uri string) {
	r.mu.RLock()
	_, subscribed := r.subs[uri]
	hook := r.OnResourceUpdate
	r.mu.RUnlock()
	if subscribed && hook != nil {
		hook(uri)
	}
}

// List returns the sorted union of every provider's list.
func (r *ResourceRegistry) List() []protocol.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []protocol.Resource
	for _, p := range r.providers {
		out = append(out, p.List()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Read tries every provider in insertion order and returns the first
// non-failure. A provider error, declined or otherwise, moves on to the
// next provider; when all fail the result is ResourceNotFound, never
// InternalError.
func (r *ResourceRegistry) Read(ctx context.Context, uri string) (*protocol.ResourceContents, *protocol.Error) {
	r.mu.RLock()
	providers := append([]ResourceProvider(nil), r.providers...)
	r.mu.RUnlock()

	for _, p := range providers {
		contents, err := p.Read(ctx, uri)
		if err == nil {
			return contents, nil
		}
		if err != ErrProviderDeclined {
			log.Printf("registry: resource provider failed reading %s: %v", uri, err)
		}
	}
	return nil, protocol.ErrResourceNotFound(uri)
}

// Subscribe asks providers in insertion order; the first that accepts
// becomes the owner for uri, and subscriberID is added to its subscriber
// set.
func (r *ResourceRegistry) Subscribe(ctx context.Context, uri, subscriberID string) *protocol.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, hasSet := r.subs[uri]; hasSet {
		// Owner already established by a prior subscriber; reuse its index.
		for _, idx := range set {
			set[subscriberID] = idx
			break
		}
		return nil
	}

	for idx, p := range r.providers {
		if !p.Subscribable() {
			continue
		}
		if err := p.Subscribe(ctx, uri); err != nil {
			continue
		}
		r.subs[uri] = map[string]int{subscriberID: idx}
		return nil
	}
	return protocol.ErrResourceNotFound(uri)
}

// Unsubscribe removes subscriberID from uri's set; when the set empties the
// owning provider's Unsubscribe runs. A second unsubscribe for the same
// subscriber is a no-op.
func (r *ResourceRegistry) Unsubscribe(ctx context.Context, uri, subscriberID string) *protocol.Error {
	r.mu.Lock()
	set, ok := r.subs[uri]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	idx, ok := set[subscriberID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(set, subscriberID)
	empty := len(set) == 0
	if empty {
		delete(r.subs, uri)
	}
	var owner ResourceProvider
	if empty && idx >= 0 && idx < len(r.providers) {
		owner = r.providers[idx]
	}
	r.mu.Unlock()

	if owner != nil {
		if err := owner.Unsubscribe(ctx, uri); err != nil {
			return protocol.NewError(protocol.CodeInternalError, "unsubscribe failed: "+err.Error(), nil)
		}
	}
	return nil
}
