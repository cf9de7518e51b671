package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"lotus-md/internal/domain"
	"lotus-md/pkg/pluginsdk"
)

// closeTimeout bounds the guest's _close export.
const closeTimeout = 5 * time.Second

// GuestError is returned when a plugin reports failure through the fail host
// function. Its message is the guest's own text.
type GuestError struct {
	Plugin  string
	Message string
}

func (e *GuestError) Error() string { return e.Message }

func (e *GuestError) Unwrap() error { return domain.ErrHandlerFailure }

// Plugin is a compiled and instantiated WASM command handler. Invocations on
// one plugin are serialized; a module is single-threaded.
type Plugin struct {
	name    string
	rt      wazero.Runtime
	module  api.Module
	sandbox *Sandbox
	env     *hostEnv
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	broken bool
}

var _ domain.CommandHandler = (*Plugin)(nil)

// LoadPlugin reads, compiles and instantiates the module at wasmPath. The
// module must export handle, malloc and free; a module without a callable
// handle is rejected with domain.ErrNoHandler.
func LoadPlugin(ctx context.Context, wasmPath string, manifest domain.PluginManifest, sandbox *Sandbox, bus domain.EventBus, logger *slog.Logger) (*Plugin, error) {
	logger = logger.With("plugin", manifest.Name, "kind", domain.PluginKindWASM)

	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, domain.NewSubSystemError("wasm", "LoadPlugin", domain.ErrInvalidInput,
			fmt.Sprintf("read %s: %v", wasmPath, err))
	}

	rt, err := newRuntime(ctx, sandbox, logger)
	if err != nil {
		return nil, domain.NewSubSystemError("wasm", "LoadPlugin", domain.ErrInvalidInput,
			fmt.Sprintf("create runtime: %v", err))
	}

	fail := func(sentinel error, detail string) (*Plugin, error) {
		_ = rt.Close(ctx)
		return nil, domain.NewSubSystemError("wasm", "LoadPlugin", sentinel, detail)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return fail(domain.ErrInvalidInput, fmt.Sprintf("compile %s: %v", wasmPath, err))
	}

	env := &hostEnv{
		sandbox: sandbox,
		logger:  logger,
		bus:     bus,
		config:  manifest.Config,
	}
	if err := registerHostFunctions(ctx, rt, env); err != nil {
		return fail(domain.ErrInvalidInput, err.Error())
	}

	modCfg := wazero.NewModuleConfig().
		WithName(manifest.Name).
		WithStartFunctions()

	mod, err := rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return fail(domain.ErrInvalidInput, fmt.Sprintf("instantiate %s: %v", wasmPath, err))
	}

	for _, name := range []string{pluginsdk.ExportHandle, pluginsdk.ExportMalloc, pluginsdk.ExportFree} {
		if mod.ExportedFunction(name) == nil {
			return fail(domain.ErrNoHandler, fmt.Sprintf("module %s does not export %q", wasmPath, name))
		}
	}

	if initFn := mod.ExportedFunction(pluginsdk.ExportInit); initFn != nil {
		initCtx, cancel := context.WithTimeout(ctx, sandbox.ExecTimeout())
		_, err := initFn.Call(initCtx)
		cancel()
		if err != nil {
			return fail(domain.ErrInvalidInput, fmt.Sprintf("_init: %v", err))
		}
	}

	logger.Info("wasm plugin loaded",
		"path", wasmPath,
		"max_memory_mb", sandbox.MaxMemoryMB(),
		"exec_timeout", sandbox.ExecTimeout(),
	)

	return &Plugin{
		name:    manifest.Name,
		rt:      rt,
		module:  mod,
		sandbox: sandbox,
		env:     env,
		logger:  logger,
	}, nil
}

// Handle encodes the invocation, runs the guest's handle export under the
// sandbox timeout, then sends every reply the guest queued.
func (p *Plugin) Handle(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext) error {
	replies, err := p.invoke(ctx, msg, cc)
	if err != nil {
		return err
	}

	for _, r := range replies {
		out := domain.OutboundMessage{Text: r.Text, Mentions: r.Mentions}
		if r.Quote {
			out.QuotedID = msg.ID
		}
		if _, err := client.Send(ctx, msg.ChatID, out); err != nil {
			return fmt.Errorf("plugin %s: send reply: %w", p.name, err)
		}
	}
	return nil
}

func (p *Plugin) invoke(ctx context.Context, msg domain.InboundMessage, cc domain.CommandContext) ([]pluginsdk.Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, domain.NewSubSystemError("wasm", "Handle", domain.ErrDisabled, "plugin "+p.name+" is closed")
	}
	if p.broken {
		return nil, domain.NewSubSystemError("wasm", "Handle", domain.ErrDisabled,
			"plugin "+p.name+" was terminated by a timeout; reload it")
	}

	input, err := json.Marshal(newInvocation(msg, cc))
	if err != nil {
		return nil, fmt.Errorf("plugin %s: marshal invocation: %w", p.name, err)
	}

	p.env.reset(msg.ChatID)

	execCtx, cancel := context.WithTimeout(ctx, p.sandbox.ExecTimeout())
	defer cancel()

	ptr, size, err := WriteBytes(execCtx, p.module, input)
	if err != nil {
		return nil, p.callError(execCtx, err)
	}

	_, callErr := p.module.ExportedFunction(pluginsdk.ExportHandle).Call(execCtx, uint64(ptr), uint64(size))
	if callErr != nil {
		return nil, p.callError(execCtx, callErr)
	}
	FreeBytes(execCtx, p.module, ptr, size)

	if p.env.failed {
		return nil, &GuestError{Plugin: p.name, Message: p.env.failure}
	}
	return p.env.replies, nil
}

// callError classifies a failed guest call. A timeout closes the module, so
// the plugin is unusable until reloaded.
func (p *Plugin) callError(execCtx context.Context, err error) error {
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		p.broken = true
		p.logger.Warn("wasm plugin timed out", "timeout", p.sandbox.ExecTimeout())
		return domain.NewSubSystemError("wasm", "Handle", domain.ErrTimeout,
			fmt.Sprintf("plugin %s exceeded %s", p.name, p.sandbox.ExecTimeout()))
	}
	if execCtx.Err() != nil {
		p.broken = true
	}
	return fmt.Errorf("plugin %s: %w: %v", p.name, domain.ErrHandlerFailure, err)
}

func newInvocation(msg domain.InboundMessage, cc domain.CommandContext) pluginsdk.Invocation {
	inv := pluginsdk.Invocation{
		Command:     cc.Command,
		Args:        cc.Args,
		Text:        cc.Text,
		Rest:        cc.Rest,
		Prefix:      cc.Prefix,
		IsGroup:     cc.IsGroup,
		SenderID:    cc.SenderID,
		DisplayName: cc.DisplayName,
		IsOwner:     cc.IsOwner,
		Message: pluginsdk.Message{
			ID:     msg.ID,
			ChatID: msg.ChatID,
			Type:   string(msg.Type),
			Body:   msg.Body,
		},
	}
	if inv.Args == nil {
		inv.Args = []string{}
	}
	if msg.Quoted != nil {
		inv.Message.QuotedID = msg.Quoted.ID
	}
	if !msg.Timestamp.IsZero() {
		inv.Message.Timestamp = msg.Timestamp.Unix()
	}
	return inv
}

// Name returns the plugin name the module was instantiated under.
func (p *Plugin) Name() string { return p.name }

// Close calls the guest's _close export when present and releases the
// runtime. Safe to call more than once.
func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if !p.broken {
		if closeFn := p.module.ExportedFunction(pluginsdk.ExportClose); closeFn != nil {
			if _, err := closeFn.Call(ctx); err != nil {
				p.logger.Warn("wasm _close failed", "error", err)
			}
		}
	}
	return p.rt.Close(ctx)
}
