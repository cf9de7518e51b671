package plugin

import (
	"fmt"
	"slices"
	"sync"

	"lotus-md/internal/domain"
)

// Catalog is the compiled-in list of handlers a manifest can name with
// `handler: <key>`.
type Catalog struct {
	mu       sync.RWMutex
	handlers map[string]domain.CommandHandler
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{handlers: make(map[string]domain.CommandHandler)}
}

// Register adds a handler under key. Keys are unique.
func (c *Catalog) Register(key string, h domain.CommandHandler) error {
	if key == "" || h == nil {
		return fmt.Errorf("%w: catalog entry needs a key and a handler", domain.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.handlers[key]; exists {
		return domain.NewSubSystemError("plugin", "Catalog.Register", domain.ErrDuplicate, key)
	}
	c.handlers[key] = h
	return nil
}

// Resolve returns the handler registered under key.
func (c *Catalog) Resolve(key string) (domain.CommandHandler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[key]
	return h, ok
}

// Keys returns the registered keys in sorted order.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.handlers))
	for k := range c.handlers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
