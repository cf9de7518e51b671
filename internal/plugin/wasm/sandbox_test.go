package wasm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lotus-md/internal/domain"
	"lotus-md/pkg/pluginsdk"
)

func TestNewSandbox_Defaults(t *testing.T) {
	s := NewSandbox(domain.WASMPluginConfig{}, Limits{MaxMemoryMB: 32, ExecTimeout: 5 * time.Second})

	assert.Equal(t, 32, s.MaxMemoryMB())
	assert.Equal(t, uint32(512), s.MemoryPages())
	assert.Equal(t, 5*time.Second, s.ExecTimeout())

	zero := NewSandbox(domain.WASMPluginConfig{}, Limits{})
	assert.Equal(t, 64, zero.MaxMemoryMB())
	assert.Equal(t, 30*time.Second, zero.ExecTimeout())
}

func TestNewSandbox_ManifestOverrides(t *testing.T) {
	s := NewSandbox(domain.WASMPluginConfig{MaxMemoryMB: 8, ExecTimeout: time.Second}, DefaultLimits())
	assert.Equal(t, 8, s.MaxMemoryMB())
	assert.Equal(t, time.Second, s.ExecTimeout())
}

func TestSandbox_Capabilities(t *testing.T) {
	s := NewSandbox(domain.WASMPluginConfig{}, DefaultLimits())
	assert.True(t, s.AllowCapability(pluginsdk.CapLog))
	assert.True(t, s.AllowCapability(pluginsdk.CapReply))
	assert.False(t, s.AllowCapability(pluginsdk.CapEventBus))

	granted := NewSandbox(domain.WASMPluginConfig{Capabilities: []string{pluginsdk.CapEventBus}}, DefaultLimits())
	assert.True(t, granted.AllowCapability(pluginsdk.CapEventBus))
}

func TestValidateCapabilities(t *testing.T) {
	assert.NoError(t, ValidateCapabilities(nil))
	assert.NoError(t, ValidateCapabilities([]string{pluginsdk.CapEventBus, pluginsdk.CapLog}))

	err := ValidateCapabilities([]string{"filesystem"})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Contains(t, err.Error(), "filesystem")
}
