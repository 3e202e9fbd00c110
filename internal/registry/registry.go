// Package registry tracks which accounts were activated (funded into
// existence) by which parent account.
package registry

import (
	"context"
	"fmt"
	"sync"

	"xrpl-wash-monitor/internal/domain"
)

// ActivationSource provides persisted activations for rehydration.
type ActivationSource interface {
	GetAll(ctx context.Context) ([]*domain.AccountActivation, error)
}

// Registry maps parent accounts to the ordered set of children they activated.
// Append-mostly and read-heavy.
type Registry struct {
	mu       sync.RWMutex
	children map[string][]string
	seen     map[string]map[string]struct{}
	links    int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		children: make(map[string][]string),
		seen:     make(map[string]map[string]struct{}),
	}
}

// RegisterChild records that parent activated child.
// Returns true if the link is new. Empty ids and self-links are ignored.
func (r *Registry) RegisterChild(parent, child string) bool {
	if parent == "" || child == "" || parent == child {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.seen[parent]
	if !ok {
		set = make(map[string]struct{})
		r.seen[parent] = set
	}
	if _, dup := set[child]; dup {
		return false
	}
	set[child] = struct{}{}
	r.children[parent] = append(r.children[parent], child)
	r.links++
	return true
}

// ChildrenOf returns a copy of parent's children in registration order.
func (r *Registry) ChildrenOf(parent string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kids := r.children[parent]
	if len(kids) == 0 {
		return nil
	}
	out := make([]string, len(kids))
	copy(out, kids)
	return out
}

// Size returns the number of distinct parent-child links.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.links
}

// Load registers every activation from src and returns how many links were new.
func (r *Registry) Load(ctx context.Context, src ActivationSource) (int, error) {
	acts, err := src.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load activations: %w", err)
	}
	added := 0
	for _, a := range acts {
		if r.RegisterChild(a.Parent, a.Child) {
			added++
		}
	}
	return added, nil
}
