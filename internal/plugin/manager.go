package plugin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lotus-md/internal/domain"
)

// retireGrace is how long a replaced descriptor stays open for dispatches
// that looked it up before the swap.
const retireGrace = 2 * time.Second

// Manager owns the loader and the registry. Loads and reloads are
// serialized; lookups go straight to the registry and never block on them.
type Manager struct {
	loader   *Loader
	registry *Registry
	dir      string
	bus      domain.EventBus
	logger   *slog.Logger
	grace    time.Duration

	mu sync.Mutex
}

// NewManager creates a plugin manager for dir.
func NewManager(loader *Loader, registry *Registry, dir string, bus domain.EventBus, logger *slog.Logger) *Manager {
	return &Manager{
		loader:   loader,
		registry: registry,
		dir:      dir,
		bus:      bus,
		logger:   logger.With("component", "plugins"),
		grace:    retireGrace,
	}
}

// Registry returns the registry the dispatcher reads from.
func (m *Manager) Registry() *Registry { return m.registry }

// Dir returns the plugin directory.
func (m *Manager) Dir() string { return m.dir }

// LoadAll loads every unit in the plugin directory and swaps the registry
// contents. Previously loaded plugins are retired.
func (m *Manager) LoadAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, err := m.loader.Load(ctx, m.dir)
	if err != nil {
		return 0, err
	}

	prev := m.registry.Set(list)
	for _, old := range prev {
		m.retire(old)
	}

	for _, d := range list {
		m.logger.Info("plugin loaded", "name", d.Name(), "commands", d.Commands(), "kind", d.Kind)
		m.publish(ctx, domain.EventPluginLoaded, d)
	}
	m.warnShadowed(m.registry.List())
	m.logger.Info("plugins ready", "count", len(list), "dir", m.dir)
	return len(list), nil
}

// Reload re-reads one plugin and swaps it in place. On failure the previous
// descriptor stays active.
func (m *Manager) Reload(ctx context.Context, name string) (*domain.PluginDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	desc, err := m.loader.Reload(ctx, name, m.dir)
	if err != nil {
		m.logger.Warn("plugin reload failed", "name", name, "error", err, "code", domain.ErrorCodeOf(err))
		return nil, err
	}

	if old := m.registry.Replace(desc); old != nil {
		m.retire(old)
	}

	m.logger.Info("plugin reloaded", "name", desc.Name(), "commands", desc.Commands(), "kind", desc.Kind)
	m.warnShadowed(m.registry.List())
	m.publish(ctx, domain.EventPluginReloaded, desc)
	return desc, nil
}

// Close releases every loaded plugin and empties the registry.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.registry.Set(nil) {
		m.closeDescriptor(d)
		m.publish(context.Background(), domain.EventPluginUnloaded, d)
	}
	return nil
}

// warnShadowed logs commands that a later plugin declares but an earlier
// one already handles.
func (m *Manager) warnShadowed(list []*domain.PluginDescriptor) {
	for _, s := range Shadowed(list) {
		m.logger.Warn("command shadowed by earlier plugin", "command", s.Command, "handled_by", s.Winner, "ignored_in", s.Loser)
	}
}

// retire closes d once in-flight calls on it finish and the grace period
// has passed.
func (m *Manager) retire(d *domain.PluginDescriptor) {
	d.Retire(m.grace, func(err error) {
		if err != nil {
			m.logger.Warn("plugin close error", "name", d.Name(), "error", err)
		}
	})
}

func (m *Manager) closeDescriptor(d *domain.PluginDescriptor) {
	if err := d.Close(); err != nil {
		m.logger.Warn("plugin close error", "name", d.Name(), "error", err)
	}
}

// publish publishes a plugin lifecycle event if the bus is available.
func (m *Manager) publish(ctx context.Context, t domain.EventType, d *domain.PluginDescriptor) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, domain.NewEvent(t, "", domain.PluginEventPayload{
		Name:     d.Name(),
		Kind:     d.Kind,
		Commands: d.Commands(),
		Source:   d.Source,
	}))
}
