package tools

import (
	"fmt"
	"log/slog"
)

// Registry resolves tools by name. It is built once before a conversation
// starts and is read-only afterwards, so concurrent conversations may share
// one instance.
type Registry struct {
	byName map[string]Tool
	order  []string
}

func NewRegistry(toolList ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool, len(toolList))}
	for _, t := range toolList {
		r.register(t)
	}
	return r
}

func (r *Registry) register(t Tool) {
	if _, exists := r.byName[t.Name]; exists {
		slog.Warn("Tool registered twice, keeping first definition", "tool", t.Name)
		return
	}
	r.byName[t.Name] = t
	r.order = append(r.order, t.Name)
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// All returns the declared catalog in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.byName)
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry(%d tools)", len(r.byName))
}
