package prompt

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/anyhui/aleeai-prompt/internal/domain"
)

// ToolFunc is a capability callable by name.
type ToolFunc func(ctx context.Context, args ...any) (any, error)

// ToolRegistry maps tool names to functions. Lookups only see tools that
// were registered explicitly.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolFunc
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]ToolFunc)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(name string, fn ToolFunc) error {
	if name == "" {
		return domain.NewDomainError(domain.ErrInvalidInput, "tool name is required")
	}
	if fn == nil {
		return domain.NewDomainError(domain.ErrInvalidInput, fmt.Sprintf("tool %s has no function", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = fn
	return nil
}

// Unregister removes a tool. Unknown names are ignored.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Call invokes the tool registered under name.
func (r *ToolRegistry) Call(ctx context.Context, name string, args ...any) (any, error) {
	r.mu.RLock()
	fn, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.NewDomainError(domain.ErrToolNotFound, fmt.Sprintf("function %s not found", name))
	}
	return fn(ctx, args...)
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.tools))
}
