package wasm

import (
	"context"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// newRuntime creates a dedicated runtime for one plugin. Each plugin gets its
// own runtime so a reload compiles against fresh state and closing one
// plugin never touches another.
func newRuntime(ctx context.Context, sandbox *Sandbox, logger *slog.Logger) (wazero.Runtime, error) {
	rtCfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(sandbox.MemoryPages())

	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	// TinyGo and Go wasip1 guests import WASI even when they do no I/O.
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	logger.Debug("wasm runtime created",
		"max_memory_pages", sandbox.MemoryPages(),
		"max_memory_mb", sandbox.MaxMemoryMB(),
	)
	return rt, nil
}
