package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/studycircle/studycircle/internal/oracle"
)

// Tool is a named operation the model may invoke mid-turn. Call receives
// the turn owner's id so tools stay scoped to the caller's own data.
type Tool interface {
	Name() string
	Description() string
	Params() (params map[string]oracle.ParamSpec, required []string)
	Call(ctx context.Context, userID string, args json.RawMessage) (string, error)
}

// Registry holds the tools available to the orchestrator, in registration
// order. Registration happens at startup; lookups run per turn.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Lookup returns the named tool, if registered.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the oracle-facing description of every registered tool,
// in registration order.
func (r *Registry) Specs() []oracle.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]oracle.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		params, required := t.Params()
		specs = append(specs, oracle.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Params:      params,
			Required:    required,
		})
	}
	return specs
}
