package entity

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the entity definitions a deployment knows about, keyed by
// definition name case-insensitively. Registration happens at startup;
// lookups are safe for concurrent use afterwards.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition. Re-registering a name is an error; definitions
// are static per deployment.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("entity: nil definition")
	}
	if def.Name == "" || def.Table == "" || def.PrimaryKey == "" {
		return fmt.Errorf("entity: definition %q missing name, table, or key", def.Name)
	}
	key := strings.ToLower(def.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[key]; ok {
		return fmt.Errorf("entity: definition %q already registered", def.Name)
	}
	r.defs[key] = def
	return nil
}

// Get returns the named definition.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[strings.ToLower(name)]
	return def, ok
}

// Names returns the registered definition names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.Name)
	}
	sort.Strings(out)
	return out
}

// Definitions returns the registered definitions sorted by name.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
