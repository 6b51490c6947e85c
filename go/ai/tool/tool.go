// Package tool holds the registry and dispatcher that execute harvested
// tool calls.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ferrow/llmstream/go/ai"
)

// Handler executes one tool call. The returned value is marshaled into the
// tool result content.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool couples a tool definition with its handler.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Definition renders the tool as offered to the model.
func (t *Tool) Definition() *ai.Tool {
	return &ai.Tool{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

// Registry maps tool names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

func NewRegistry(tools ...*Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ai.ErrUnknownTool, name)
	}
	return t, nil
}

// Names returns the registered tool names in sorted order.
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

// Definitions returns every registered tool's definition, sorted by name.
func (r *Registry) Definitions() []*ai.Tool {
	names := r.Names()
	definitions := make([]*ai.Tool, 0, len(names))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		definitions = append(definitions, r.tools[name].Definition())
	}
	return definitions
}
