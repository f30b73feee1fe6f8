package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/stride/pkg/schema"
)

// InMemoryRegistry is the concrete thread-safe Registry implementation.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty InMemoryRegistry.
func NewRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. Returns error on duplicate name.
func (r *InMemoryRegistry) Register(tool Tool) error {
	if tool == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	name := tool.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", name)
	}

	r.tools[name] = tool
	return nil
}

// Execute dispatches to a tool by name. A missing tool yields
// TOOL_UNAVAILABLE; a tool error or unsuccessful result yields
// TOOL_EXECUTION_FAILURE.
func (r *InMemoryRegistry) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeToolUnavailable, "tool %q not registered", name)
	}

	res, err := tool.Execute(ctx, args)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
			"tool %q execution failed: %s", name, err.Error()).WithCause(err)
	}
	if res == nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
			"tool %q returned no result", name)
	}
	if !res.Success {
		return res, schema.NewErrorf(schema.ErrCodeToolExecution,
			"tool %q reported failure: %s", name, res.Error)
	}
	return res, nil
}

// Has checks if a tool is registered.
func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns info for all registered tools, sorted by name.
func (r *InMemoryRegistry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, Info{Name: t.Name(), Description: t.Description()})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

var _ Registry = (*InMemoryRegistry)(nil)
