package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lattice-mcp/kernel/internal/protocol"
)

// PromptProvider renders one named prompt template.
type PromptProvider interface {
	Describe() protocol.Prompt
	Render(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error)
}

// PromptRegistry holds prompt providers keyed by unique name.
type PromptRegistry struct {
	mu      sync.RWMutex
	prompts map[string]PromptProvider

	OnListChanged func()
}

// NewPromptRegistry creates an empty registry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{prompts: make(map[string]PromptProvider)}
}

// Register adds a provider, failing atomically if the name is already
// present.
func (r *PromptRegistry) Register(p PromptProvider) error {
	name := p.Describe().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.prompts[name]; exists {
		return fmt.Errorf("kernel: prompt %q already registered", name)
	}
	r.prompts[name] = p
	if r.OnListChanged != nil {
		r.OnListChanged()
	}
	return nil
}

// List returns every prompt descriptor sorted by name.
func (r *PromptRegistry) List() []protocol.Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Prompt, 0, len(r.prompts))
	for _, p := range r.prompts {
		out = append(out, p.Describe())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get verifies every required argument is present, then delegates to the
// provider.
func (r *PromptRegistry) Get(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, *protocol.Error) {
	r.mu.RLock()
	p, ok := r.prompts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, protocol.ErrPromptNotFound(name)
	}

	var missing []string
	for _, a := range p.Describe().Arguments {
		if !a.Required {
			continue
		}
		if _, present := args[a.Name]; !present {
			missing = append(missing, a.Name)
		}
	}
	if len(missing) > 0 {
		reasons := make([]string, len(missing))
		for i, m := range missing {
			reasons[i] = fmt.Sprintf("missing required argument %q", m)
		}
		return nil, protocol.ErrInvalidParams(reasons)
	}

	result, err := p.Render(ctx, args)
	if err != nil {
		return nil, protocol.ErrPromptExecutionError(name, err.Error())
	}
	return result, nil
}
