package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lotus-md/internal/domain"
	"lotus-md/internal/plugin/wasm"
)

// manifestFile is the on-disk shape of a plugin unit. Commands stay a raw
// node so a malformed list degrades to a warning instead of a decode error.
type manifestFile struct {
	Name         string                   `yaml:"name"`
	Commands     yaml.Node                `yaml:"commands"`
	Category     string                   `yaml:"category"`
	Usage        string                   `yaml:"usage"`
	Description  string                   `yaml:"description"`
	Handler      string                   `yaml:"handler"`
	WASM         *domain.WASMPluginConfig `yaml:"wasm"`
	Config       map[string]any           `yaml:"config"`
	ConfigSchema map[string]any           `yaml:"config_schema"`
}

// LoaderConfig holds WASM sandbox defaults and capability gates.
type LoaderConfig struct {
	Limits            wasm.Limits
	AllowCapabilities []string
	DenyCapabilities  []string
}

// Loader turns plugin units on disk into descriptors.
type Loader struct {
	catalog *Catalog
	bus     domain.EventBus
	cfg     LoaderConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewLoader creates a loader resolving builtin handlers from catalog.
func NewLoader(catalog *Catalog, bus domain.EventBus, cfg LoaderConfig, logger *slog.Logger) *Loader {
	return &Loader{
		catalog: catalog,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With("component", "plugin_loader"),
		now:     time.Now,
	}
}

func isManifest(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Load scans dir (non-recursively, in lexical order) and returns every unit
// that validates. Rejected units are logged and skipped. A missing directory
// yields no plugins.
func (l *Loader) Load(ctx context.Context, dir string) ([]*domain.PluginDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("plugin directory does not exist", "dir", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin dir %s: %w", dir, err)
	}

	var out []*domain.PluginDescriptor
	for _, entry := range entries {
		if entry.IsDir() || !isManifest(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		desc, err := l.loadUnit(ctx, path)
		if err != nil {
			l.logger.Error("plugin rejected", "file", path, "error", err)
			continue
		}
		if slices.ContainsFunc(out, func(d *domain.PluginDescriptor) bool { return d.Name() == desc.Name() }) {
			l.logger.Error("plugin rejected", "file", path, "error",
				fmt.Errorf("%w: plugin name %q already loaded", domain.ErrDuplicate, desc.Name()))
			_ = desc.Close()
			continue
		}
		out = append(out, desc)
	}
	return out, nil
}

// Reload reads one unit again: <name>.yaml or <name>.yml, else the manifest
// that declares name. Nothing is cached between calls.
func (l *Loader) Reload(ctx context.Context, name, dir string) (*domain.PluginDescriptor, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: invalid plugin name %q", domain.ErrInvalidInput, name)
	}

	path, err := l.findUnit(dir, name)
	if err != nil {
		return nil, err
	}

	desc, err := l.loadUnit(ctx, path)
	if err != nil {
		return nil, err
	}
	if desc.Name() != name {
		_ = desc.Close()
		return nil, fmt.Errorf("%w: %s now declares name %q, not %q",
			domain.ErrInvalidInput, path, desc.Name(), name)
	}
	return desc, nil
}

// LoadFile validates a single manifest and builds its descriptor. The caller
// owns the descriptor and must Close it.
func (l *Loader) LoadFile(ctx context.Context, path string) (*domain.PluginDescriptor, error) {
	if !isManifest(path) {
		return nil, fmt.Errorf("%w: %s is not a .yaml or .yml manifest", domain.ErrInvalidInput, path)
	}
	return l.loadUnit(ctx, path)
}

func (l *Loader) findUnit(dir, name string) (string, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, name+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read plugin dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isManifest(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var head struct {
			Name string `yaml:"name"`
		}
		if yaml.Unmarshal(data, &head) != nil {
			continue
		}
		if strings.TrimSpace(head.Name) == name {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: plugin %q in %s", domain.ErrNotFound, name, dir)
}

// loadUnit validates one manifest and builds its descriptor.
func (l *Loader) loadUnit(ctx context.Context, path string) (*domain.PluginDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var raw manifestFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidInput, path, err)
	}

	manifest := domain.PluginManifest{
		Name:        strings.TrimSpace(raw.Name),
		Category:    strings.TrimSpace(raw.Category),
		Usage:       raw.Usage,
		Description: raw.Description,
		Handler:     strings.TrimSpace(raw.Handler),
		WASM:        raw.WASM,
		Config:      raw.Config,
	}
	if manifest.Name == "" {
		manifest.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	manifest.Commands = l.commands(raw.Commands, manifest.Name, path)

	handler, kind, err := l.handler(ctx, manifest, path)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(manifest.Name, raw.ConfigSchema, manifest.Config); err != nil {
		if c, ok := handler.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	return &domain.PluginDescriptor{
		Manifest: manifest,
		Kind:     kind,
		Source:   path,
		Handler:  handler,
		LoadedAt: l.now(),
	}, nil
}

// commands normalizes the commands node: trimmed, lowercased, no empties,
// no repeats. Anything but a non-empty sequence is a warning, not an error.
func (l *Loader) commands(node yaml.Node, name, path string) []string {
	if node.Kind == 0 {
		l.logger.Warn("plugin declares no commands", "plugin", name, "file", path)
		return []string{}
	}
	if node.Kind != yaml.SequenceNode {
		l.logger.Warn("plugin commands is not a list", "plugin", name, "file", path)
		return []string{}
	}

	cmds := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			continue
		}
		cmd := strings.ToLower(strings.TrimSpace(item.Value))
		if cmd == "" || slices.Contains(cmds, cmd) {
			continue
		}
		cmds = append(cmds, cmd)
	}
	if len(cmds) == 0 {
		l.logger.Warn("plugin declares no commands", "plugin", name, "file", path)
	}
	return cmds
}

// handler resolves the callable behind a manifest: a catalog key or a WASM
// binary, never both.
func (l *Loader) handler(ctx context.Context, manifest domain.PluginManifest, path string) (domain.CommandHandler, domain.PluginKind, error) {
	hasBuiltin := manifest.Handler != ""
	hasWASM := manifest.WASM != nil

	switch {
	case hasBuiltin && hasWASM:
		return nil, "", fmt.Errorf("%w: plugin %q declares both handler and wasm", domain.ErrInvalidInput, manifest.Name)

	case hasBuiltin:
		h, ok := l.catalog.Resolve(manifest.Handler)
		if !ok {
			return nil, "", fmt.Errorf("%w: %w: plugin %q names unknown handler %q",
				domain.ErrInvalidInput, domain.ErrNoHandler, manifest.Name, manifest.Handler)
		}
		return h, domain.PluginKindBuiltin, nil

	case hasWASM:
		if manifest.WASM.Binary == "" {
			return nil, "", fmt.Errorf("%w: %w: plugin %q has no wasm binary",
				domain.ErrInvalidInput, domain.ErrNoHandler, manifest.Name)
		}
		if err := ValidateCapabilities(manifest, l.cfg.AllowCapabilities, l.cfg.DenyCapabilities); err != nil {
			return nil, "", fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}

		wasmPath := manifest.WASM.Binary
		if !filepath.IsAbs(wasmPath) {
			wasmPath = filepath.Join(filepath.Dir(path), wasmPath)
		}
		sandbox := wasm.NewSandbox(*manifest.WASM, l.cfg.Limits)
		p, err := wasm.LoadPlugin(ctx, wasmPath, manifest, sandbox, l.bus, l.logger)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		return p, domain.PluginKindWASM, nil

	default:
		return nil, "", fmt.Errorf("%w: %w: plugin %q has no handler",
			domain.ErrInvalidInput, domain.ErrNoHandler, manifest.Name)
	}
}
