package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"lotus-md/internal/domain"
	"lotus-md/pkg/pluginsdk"
)

// ReadString reads a UTF-8 string from guest memory.
func ReadString(mod api.Module, ptr, size uint32) (string, error) {
	b, err := ReadBytes(mod, ptr, size)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes copies size bytes at ptr out of guest memory.
func ReadBytes(mod api.Module, ptr, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	buf, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("%w: memory read out of bounds at ptr=%d len=%d", domain.ErrHandlerFailure, ptr, size)
	}
	out := make([]byte, size)
	copy(out, buf)
	return out, nil
}

// WriteBytes copies data into guest memory allocated through the guest's
// malloc export and returns the pointer and length.
func WriteBytes(ctx context.Context, mod api.Module, data []byte) (uint32, uint32, error) {
	size := uint32(len(data))
	if size == 0 {
		return 0, 0, nil
	}

	malloc := mod.ExportedFunction(pluginsdk.ExportMalloc)
	if malloc == nil {
		return 0, 0, fmt.Errorf("%w: guest module does not export malloc", domain.ErrHandlerFailure)
	}

	results, err := malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malloc(%d) failed: %v", domain.ErrHandlerFailure, size, err)
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, 0, fmt.Errorf("%w: malloc returned null pointer", domain.ErrHandlerFailure)
	}

	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, 0, fmt.Errorf("%w: memory write out of bounds at ptr=%d len=%d", domain.ErrHandlerFailure, ptr, size)
	}
	return ptr, size, nil
}

// FreeBytes releases guest memory through the guest's free export.
func FreeBytes(ctx context.Context, mod api.Module, ptr, size uint32) {
	if ptr == 0 || size == 0 {
		return
	}
	if free := mod.ExportedFunction(pluginsdk.ExportFree); free != nil {
		_, _ = free.Call(ctx, uint64(ptr), uint64(size))
	}
}
