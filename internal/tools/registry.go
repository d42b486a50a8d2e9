package tools

import (
	"sort"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/warren/internal/completion"
	"github.com/Iron-Ham/warren/internal/errors"
)

// Registry maps tool names to tools. It is built once at startup and only
// read afterwards.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	name := t.Spec().Name
	if name == "" {
		return errors.Wrap(errors.ErrInvalidInput, "tool name is empty")
	}
	if _, ok := r.tools[name]; ok {
		return errors.Wrapf(errors.ErrToolExists, "%s", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// List returns the specs of all tools in registration order.
func (r *Registry) List() []Spec {
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Schemas returns the tool schemas sent with completion requests.
func (r *Registry) Schemas() []completion.ToolSchema {
	schemas := make([]completion.ToolSchema, 0, len(r.order))
	for _, spec := range r.List() {
		schemas = append(schemas, completion.ToolSchema{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Parameters,
		})
	}
	return schemas
}

// Without returns a registry without the tools whose names match any of the
// glob patterns, plus the sorted names that were removed.
func (r *Registry) Without(patterns []string) (*Registry, []string, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "invalid tool pattern %q", p)
		}
		globs = append(globs, g)
	}

	out := &Registry{tools: make(map[string]Tool, len(r.tools))}
	var removed []string
	for _, name := range r.order {
		if matchesAny(globs, name) {
			removed = append(removed, name)
			continue
		}
		out.tools[name] = r.tools[name]
		out.order = append(out.order, name)
	}
	sort.Strings(removed)
	return out, removed, nil
}

func matchesAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
