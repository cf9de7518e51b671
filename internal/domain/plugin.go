package domain

import (
	"context"
	"io"
	"slices"
	"sync"
	"time"
)

// PluginKind identifies how a plugin's handler is provided.
type PluginKind string

const (
	PluginKindBuiltin PluginKind = "builtin"
	PluginKindWASM    PluginKind = "wasm"
)

// CommandContext is the standard context handed to every handler invocation.
type CommandContext struct {
	Command     string   `json:"command"`
	Args        []string `json:"args"`
	Text        string   `json:"text"`
	Rest        string   `json:"rest"`
	Prefix      string   `json:"prefix"`
	IsGroup     bool     `json:"is_group"`
	SenderID    string   `json:"sender_id"`
	DisplayName string   `json:"display_name"`
	IsOwner     bool     `json:"is_owner"`
}

// CommandHandler executes one command invocation.
type CommandHandler interface {
	Handle(ctx context.Context, client Client, msg InboundMessage, cc CommandContext) error
}

// HandlerFunc adapts an ordinary function to CommandHandler.
type HandlerFunc func(ctx context.Context, client Client, msg InboundMessage, cc CommandContext) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, client Client, msg InboundMessage, cc CommandContext) error {
	return f(ctx, client, msg, cc)
}

// Plugin is what the dispatcher routes to.
type Plugin interface {
	Name() string
	Commands() []string
	Handle(ctx context.Context, client Client, msg InboundMessage, cc CommandContext) error
}

// WASMPluginConfig holds configuration for a WASM plugin.
type WASMPluginConfig struct {
	Binary       string        `json:"binary"        yaml:"binary"`        // path to .wasm file, relative to the manifest
	MaxMemoryMB  int           `json:"max_memory_mb" yaml:"max_memory_mb"` // default 64
	ExecTimeout  time.Duration `json:"exec_timeout"  yaml:"exec_timeout"`  // default 30s
	Capabilities []string      `json:"capabilities"  yaml:"capabilities"`  // optional host functions
}

// PluginManifest is the validated form of a plugin unit.
type PluginManifest struct {
	Name        string            `json:"name"`
	Commands    []string          `json:"commands"`
	Category    string            `json:"category,omitempty"`
	Usage       string            `json:"usage,omitempty"`
	Description string            `json:"description,omitempty"`
	Handler     string            `json:"handler,omitempty"`
	WASM        *WASMPluginConfig `json:"wasm,omitempty"`
	Config      map[string]any    `json:"config,omitempty"`
}

// PluginDescriptor is one loaded command handler. The registry owns
// descriptors; a reload builds a new descriptor instead of mutating one.
type PluginDescriptor struct {
	Manifest PluginManifest
	Kind     PluginKind
	Source   string // manifest path
	Handler  CommandHandler
	LoadedAt time.Time

	mu        sync.Mutex
	active    int
	retired   bool
	onRetired func(error)
	closeOnce sync.Once
	closeErr  error
}

// Compile-time check: PluginDescriptor satisfies Plugin.
var _ Plugin = (*PluginDescriptor)(nil)

func (d *PluginDescriptor) Name() string        { return d.Manifest.Name }
func (d *PluginDescriptor) Commands() []string  { return slices.Clone(d.Manifest.Commands) }
func (d *PluginDescriptor) Category() string    { return d.Manifest.Category }
func (d *PluginDescriptor) Usage() string       { return d.Manifest.Usage }
func (d *PluginDescriptor) Description() string { return d.Manifest.Description }

// HasCommand reports whether cmd routes to this plugin.
func (d *PluginDescriptor) HasCommand(cmd string) bool {
	return cmd != "" && slices.Contains(d.Manifest.Commands, cmd)
}

// Handle runs the plugin's handler. The call is counted so a retired
// descriptor is not closed under it.
func (d *PluginDescriptor) Handle(ctx context.Context, client Client, msg InboundMessage, cc CommandContext) error {
	d.mu.Lock()
	d.active++
	d.mu.Unlock()
	defer d.release()

	return d.Handler.Handle(ctx, client, msg, cc)
}

func (d *PluginDescriptor) release() {
	d.mu.Lock()
	d.active--
	idle := d.retired && d.active == 0
	d.mu.Unlock()

	if idle {
		d.finishRetire()
	}
}

// Retire closes the descriptor after it has been out of the registry for
// grace and its last running call has returned. A dispatch that looked the
// descriptor up just before a swap still runs on it. done, if set, receives
// the Close result.
func (d *PluginDescriptor) Retire(grace time.Duration, done func(error)) {
	time.AfterFunc(grace, func() {
		d.mu.Lock()
		d.retired = true
		d.onRetired = done
		idle := d.active == 0
		d.mu.Unlock()

		if idle {
			d.finishRetire()
		}
	})
}

func (d *PluginDescriptor) finishRetire() {
	err := d.Close()
	d.mu.Lock()
	done := d.onRetired
	d.onRetired = nil
	d.mu.Unlock()
	if done != nil {
		done(err)
	}
}

// Close releases handler resources (WASM modules) right away. Builtin
// handlers are no-ops. Safe to call more than once.
func (d *PluginDescriptor) Close() error {
	d.closeOnce.Do(func() {
		if c, ok := d.Handler.(io.Closer); ok {
			d.closeErr = c.Close()
		}
	})
	return d.closeErr
}
