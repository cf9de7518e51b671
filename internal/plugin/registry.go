package plugin

import (
	"slices"
	"sync"

	"lotus-md/internal/domain"
)

// Registry is the ordered list of loaded plugins. Order is load order, which
// decides which plugin wins when two declare the same command.
type Registry struct {
	mu      sync.RWMutex
	plugins []*domain.PluginDescriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set replaces the whole list and returns the previous one.
func (r *Registry) Set(list []*domain.PluginDescriptor) []*domain.PluginDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.plugins
	r.plugins = slices.Clone(list)
	return prev
}

// Lookup returns the first plugin, in load order, that declares cmd.
// An empty command never matches.
func (r *Registry) Lookup(cmd string) (*domain.PluginDescriptor, bool) {
	if cmd == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.HasCommand(cmd) {
			return p, true
		}
	}
	return nil, false
}

// Replace swaps the plugin with the same name in place, keeping its
// position, or appends desc when no such plugin exists. It returns the
// replaced descriptor, if any.
func (r *Registry) Replace(desc *domain.PluginDescriptor) *domain.PluginDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.plugins {
		if p.Name() == desc.Name() {
			// copy-on-write: List() callers keep their snapshot
			next := slices.Clone(r.plugins)
			next[i] = desc
			r.plugins = next
			return p
		}
	}
	r.plugins = append(slices.Clip(r.plugins), desc)
	return nil
}

// Get returns the plugin with the given name.
func (r *Registry) Get(name string) (*domain.PluginDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// List returns a snapshot of the loaded plugins in load order.
func (r *Registry) List() []*domain.PluginDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.plugins)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Shadow records a command declared by a plugin that never receives it
// because an earlier plugin claims it first.
type Shadow struct {
	Command string
	Winner  string
	Loser   string
}

// Shadowed lists every command collision in list, in load order.
func Shadowed(list []*domain.PluginDescriptor) []Shadow {
	owner := make(map[string]string)
	var out []Shadow
	for _, p := range list {
		for _, cmd := range p.Manifest.Commands {
			if w, ok := owner[cmd]; ok {
				if w != p.Name() {
					out = append(out, Shadow{Command: cmd, Winner: w, Loser: p.Name()})
				}
				continue
			}
			owner[cmd] = p.Name()
		}
	}
	return out
}
