package wasm

import (
	"fmt"
	"slices"
	"time"

	"lotus-md/internal/domain"
	"lotus-md/pkg/pluginsdk"
)

// Defaults applied when a manifest leaves a limit unset.
type Limits struct {
	MaxMemoryMB int
	ExecTimeout time.Duration
}

// DefaultLimits returns 64 MB and 30s.
func DefaultLimits() Limits {
	return Limits{MaxMemoryMB: 64, ExecTimeout: 30 * time.Second}
}

var knownCapabilities = []string{
	pluginsdk.CapLog,
	pluginsdk.CapConfig,
	pluginsdk.CapReply,
	pluginsdk.CapEventBus,
}

var alwaysAllowed = []string{
	pluginsdk.CapLog,
	pluginsdk.CapConfig,
	pluginsdk.CapReply,
}

// Sandbox holds the resource limits and granted capabilities of one module.
type Sandbox struct {
	capabilities map[string]bool
	maxMemoryMB  int
	execTimeout  time.Duration
}

// NewSandbox builds a sandbox from a manifest's wasm block, falling back to
// defaults for unset limits.
func NewSandbox(cfg domain.WASMPluginConfig, defaults Limits) *Sandbox {
	maxMem := cfg.MaxMemoryMB
	if maxMem <= 0 {
		maxMem = defaults.MaxMemoryMB
	}
	if maxMem <= 0 {
		maxMem = DefaultLimits().MaxMemoryMB
	}

	timeout := cfg.ExecTimeout
	if timeout <= 0 {
		timeout = defaults.ExecTimeout
	}
	if timeout <= 0 {
		timeout = DefaultLimits().ExecTimeout
	}

	caps := make(map[string]bool, len(alwaysAllowed)+len(cfg.Capabilities))
	for _, c := range alwaysAllowed {
		caps[c] = true
	}
	for _, c := range cfg.Capabilities {
		caps[c] = true
	}

	return &Sandbox{capabilities: caps, maxMemoryMB: maxMem, execTimeout: timeout}
}

// AllowCapability reports whether cap is granted.
func (s *Sandbox) AllowCapability(cap string) bool {
	return s.capabilities[cap]
}

func (s *Sandbox) MaxMemoryMB() int           { return s.maxMemoryMB }
func (s *Sandbox) ExecTimeout() time.Duration { return s.execTimeout }

// MemoryPages converts the memory limit to 64 KiB WASM pages.
func (s *Sandbox) MemoryPages() uint32 {
	return uint32(s.maxMemoryMB) * 16
}

// ValidateCapabilities rejects capability names the host does not know.
func ValidateCapabilities(requested []string) error {
	var unknown []string
	for _, c := range requested {
		if !slices.Contains(knownCapabilities, c) {
			unknown = append(unknown, c)
		}
	}
	if len(unknown) > 0 {
		return domain.NewSubSystemError("wasm", "ValidateCapabilities", domain.ErrPermissionDenied,
			fmt.Sprintf("unknown capabilities %v", unknown))
	}
	return nil
}
