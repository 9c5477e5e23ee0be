// Package tools implements the name→handler registry and the dispatcher
// that executes tool calls requested by an AI run mid-execution.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tool is one side-effecting action the assistant can request.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the arguments object.
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds registered tools. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateArgs checks required properties from the tool's schema.
// Bad arguments are a ValidationError: rejected immediately, never retried.
func validateArgs(t Tool, args map[string]interface{}) error {
	schema := t.Parameters()
	required, ok := schema["required"].([]string)
	if !ok {
		return nil
	}
	for _, field := range required {
		if _, present := args[field]; !present {
			return fmt.Errorf("missing required argument %q", field)
		}
	}
	return nil
}
