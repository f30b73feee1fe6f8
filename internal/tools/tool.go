package tools

import "context"

// Tool is an externally implemented capability the engine invokes by name.
// The engine never implements tools; it only dispatches to them.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Result is the uniform outcome a tool returns to the engine.
type Result struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Registry is the tool lookup and dispatch contract consumed by the step
// executor. Implementations must be safe for concurrent use.
type Registry interface {
	Register(tool Tool) error
	Execute(ctx context.Context, name string, args map[string]any) (*Result, error)
	Has(name string) bool
	List() []Info
}

// Info is a summary of a registered tool for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName string
	Desc     string
	Fn       func(ctx context.Context, args map[string]any) (*Result, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.Desc }

func (f *Func) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	return f.Fn(ctx, args)
}
