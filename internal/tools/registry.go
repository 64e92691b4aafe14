// Package tools holds the capabilities an agent may invoke during a scenario.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrToolExists is returned when a tool name is registered twice.
var ErrToolExists = errors.New("tool already registered")

// Executor runs a tool with decoded arguments and the environment assembled
// for the agent. The returned map is the raw payload handed back to the model.
type Executor func(ctx context.Context, args map[string]any, env map[string]string) (map[string]any, error)

// ToolDefinition describes one callable capability.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
	Execute     Executor
	Metadata    map[string]any
}

// Description is the shape the chat-completion API expects for a tool.
type Description struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry is a write-once set of tools. It is populated before any agent
// loop starts and only read afterwards.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]ToolDefinition
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolDefinition)}
}

// Register adds a tool. Registering an existing name returns ErrToolExists.
func (r *Registry) Register(def ToolDefinition) error {
	if def.Name == "" {
		return errors.New("tool name is required")
	}
	if def.Execute == nil {
		return fmt.Errorf("tool %s: executor is required", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[def.Name]; ok {
		return fmt.Errorf("tool %s: %w", def.Name, ErrToolExists)
	}
	r.tools[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// Get returns the named tool. An unknown name is reported through the
// boolean; callers treat it as a protocol violation by the model.
func (r *Registry) Get(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Descriptions lists tools in registration order.
func (r *Registry) Descriptions() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Description, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name]
		out = append(out, Description{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
