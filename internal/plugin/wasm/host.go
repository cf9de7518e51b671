package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"lotus-md/internal/domain"
	"lotus-md/pkg/pluginsdk"
)

// hostEnv is the state host functions see. Invocations on one module are
// serialized, so the per-call fields need no locking.
type hostEnv struct {
	sandbox *Sandbox
	logger  *slog.Logger
	bus     domain.EventBus
	config  map[string]any

	// per invocation
	chatID  string
	replies []pluginsdk.Reply
	failure string
	failed  bool
}

func (e *hostEnv) reset(chatID string) {
	e.chatID = chatID
	e.replies = nil
	e.failure = ""
	e.failed = false
}

func (e *hostEnv) configJSON(key string) []byte {
	var v any = e.config
	if key != "" {
		v = e.config[key]
	}
	if v == nil && key == "" {
		return []byte("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

var (
	i32x2 = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	i32x3 = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}
	i32x4 = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}
)

// registerHostFunctions instantiates the lotus_v1 host module on rt. The
// emit_event import only exists when the sandbox grants event_bus, so a
// guest importing it without the grant fails to instantiate.
func registerHostFunctions(ctx context.Context, rt wazero.Runtime, env *hostEnv) error {
	builder := rt.NewHostModuleBuilder(pluginsdk.HostModule)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			level := int32(stack[0])
			msg, err := ReadString(mod, uint32(stack[1]), uint32(stack[2]))
			if err != nil {
				env.logger.Error("wasm log: read failed", "error", err)
				return
			}
			switch {
			case level <= pluginsdk.LogDebug:
				env.logger.Debug(msg)
			case level == pluginsdk.LogInfo:
				env.logger.Info(msg)
			case level == pluginsdk.LogWarn:
				env.logger.Warn(msg)
			default:
				env.logger.Error(msg)
			}
		}), i32x3, nil).
		Export("log")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			key, err := ReadString(mod, uint32(stack[0]), uint32(stack[1]))
			if err != nil {
				env.logger.Error("wasm get_config: read key failed", "error", err)
				stack[0], stack[1] = 0, 0
				return
			}
			ptr, size, err := WriteBytes(ctx, mod, env.configJSON(key))
			if err != nil {
				env.logger.Error("wasm get_config: write failed", "error", err)
				stack[0], stack[1] = 0, 0
				return
			}
			stack[0], stack[1] = uint64(ptr), uint64(size)
		}), i32x2, i32x2).
		Export("get_config")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			raw, err := ReadBytes(mod, uint32(stack[0]), uint32(stack[1]))
			if err != nil {
				env.logger.Error("wasm reply: read failed", "error", err)
				return
			}
			env.replies = append(env.replies, decodeReply(raw))
		}), i32x2, nil).
		Export("reply")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			msg, err := ReadString(mod, uint32(stack[0]), uint32(stack[1]))
			if err != nil {
				msg = "plugin failed"
			}
			env.failed = true
			env.failure = msg
		}), i32x2, nil).
		Export("fail")

	if env.sandbox.AllowCapability(pluginsdk.CapEventBus) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				eventType, err := ReadString(mod, uint32(stack[0]), uint32(stack[1]))
				if err != nil {
					env.logger.Error("wasm emit_event: read type failed", "error", err)
					return
				}
				payload, err := ReadBytes(mod, uint32(stack[2]), uint32(stack[3]))
				if err != nil {
					env.logger.Error("wasm emit_event: read payload failed", "error", err)
					return
				}
				if len(payload) > 0 && !json.Valid(payload) {
					payload, _ = json.Marshal(string(payload))
				}
				if env.bus != nil {
					env.bus.Publish(ctx, domain.Event{
						Type:      domain.EventType(eventType),
						Timestamp: time.Now(),
						ChatID:    env.chatID,
						Payload:   payload,
					})
				}
			}), i32x4, nil).
			Export("emit_event")
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiate host module: %w", err)
	}
	return nil
}

// decodeReply accepts a pluginsdk.Reply document or falls back to plain text.
func decodeReply(raw []byte) pluginsdk.Reply {
	var r pluginsdk.Reply
	if json.Valid(raw) && json.Unmarshal(raw, &r) == nil && r.Text != "" {
		return r
	}
	return pluginsdk.Reply{Text: string(raw)}
}
