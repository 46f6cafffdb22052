// SPDX-License-Identifier: Apache-2.0

package action

import (
	"fmt"
	"sort"
	"sync"
)

type entry struct {
	handler     Handler
	ownedKeys   []string
	description string
}

// Option configures a registration.
type Option func(*entry)

// WithOwnedKeys declares context keys the action may overwrite even when
// another action wrote them last.
func WithOwnedKeys(keys ...string) Option {
	return func(e *entry) {
		e.ownedKeys = append(e.ownedKeys, keys...)
	}
}

func WithDescription(desc string) Option {
	return func(e *entry) {
		e.description = desc
	}
}

// Registry maps action ids to handlers. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*entry)}
}

// Register adds a handler. A second registration under the same id fails
// with ErrDuplicateAction and leaves the first one in place.
func (r *Registry) Register(id string, h Handler, opts ...Option) error {
	if id == "" {
		return fmt.Errorf("action id is required")
	}
	if h == nil {
		return fmt.Errorf("action %q: handler is nil", id)
	}

	e := &entry{handler: h}
	for _, opt := range opts {
		opt(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, id)
	}
	r.actions[id] = e
	return nil
}

func (r *Registry) Lookup(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actions[id]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// IDs returns the registered action ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for id := range r.actions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) OwnedKeys(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.actions[id]; ok {
		return append([]string(nil), e.ownedKeys...)
	}
	return nil
}

func (r *Registry) Description(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.actions[id]; ok {
		return e.description
	}
	return ""
}
