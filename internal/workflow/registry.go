// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrDuplicateWorkflow = errors.New("workflow already registered")

// Registry is the static set of definitions the engine can run.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// NewDefaultRegistry returns a registry holding the built-in workflows.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range Builtins() {
		if err := r.Register(def); err != nil {
			panic(fmt.Sprintf("workflow: built-in %s: %v", def.ID, err))
		}
	}
	return r
}

func (r *Registry) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	def = def.Normalized()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateWorkflow, def.ID)
	}
	r.defs[def.ID] = def
	return nil
}

// Get returns a copy of the definition so callers cannot mutate the registry.
func (r *Registry) Get(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, false
	}
	cp := def.Normalized()
	return &cp, true
}

func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.Normalized())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadDir registers every definition found in dir and returns how many were
// added. A missing directory adds nothing.
func (r *Registry) LoadDir(dir string) (int, error) {
	files, err := LoadDefinitionDir(dir)
	if err != nil {
		return 0, err
	}
	for _, f := range files {
		if err := r.Register(f.Definition); err != nil {
			return 0, fmt.Errorf("workflow: %s: %w", f.Path, err)
		}
	}
	return len(files), nil
}
