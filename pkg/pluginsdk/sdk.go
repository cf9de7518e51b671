// Package pluginsdk defines the contract between lotus-md and WASM command
// plugins. It has no dependencies on lotus-md internals, so guest code built
// with TinyGo or any other WASM toolchain can share these types.
//
// A plugin unit is a YAML manifest in the plugins directory:
//
//	name: dice
//	commands: [roll, dice]
//	category: fun
//	usage: roll [sides]
//	wasm:
//	  binary: dice.wasm
//	  exec_timeout: 5s
//	  capabilities: [event_bus]
//	config:
//	  default_sides: 6
//	config_schema:
//	  type: object
//	  properties:
//	    default_sides: {type: integer, minimum: 2}
//
// # Host functions (module "lotus_v1")
//
//   - log(level i32, ptr i32, len i32)
//   - get_config(key_ptr i32, key_len i32) (ptr i32, len i32)
//     returns the manifest's config block as JSON; an empty key returns all of
//     it, a key returns that top-level field.
//   - reply(ptr i32, len i32)
//     queues a Reply (JSON) or plain text for the invoking chat.
//   - fail(ptr i32, len i32)
//     marks the invocation failed with the given message.
//   - emit_event(type_ptr i32, type_len i32, payload_ptr i32, payload_len i32)
//     publishes on the event bus. Requires the "event_bus" capability.
//
// # Required exports
//
//   - malloc(size i32) i32
//   - free(ptr i32, size i32)
//   - handle(ptr i32, len i32)
//     receives an Invocation encoded as JSON.
//
// # Optional exports
//
//   - _init() called once after instantiation
//   - _close() called before the module is released
package pluginsdk

// HostModule is the import namespace of the host functions.
const HostModule = "lotus_v1"

// Export names looked up on the guest module.
const (
	ExportHandle = "handle"
	ExportMalloc = "malloc"
	ExportFree   = "free"
	ExportInit   = "_init"
	ExportClose  = "_close"
)

// Capabilities a manifest may request. Log, config, reply and fail are
// always granted.
const (
	CapLog      = "log"
	CapConfig   = "config"
	CapReply    = "reply"
	CapEventBus = "event_bus"
)

// Log levels accepted by the log host function.
const (
	LogDebug int32 = 0
	LogInfo  int32 = 1
	LogWarn  int32 = 2
	LogError int32 = 3
)

// Invocation is the JSON document passed to the guest's handle export.
type Invocation struct {
	Command     string   `json:"command"`
	Args        []string `json:"args"`
	Text        string   `json:"text"`
	Rest        string   `json:"rest"`
	Prefix      string   `json:"prefix"`
	IsGroup     bool     `json:"is_group"`
	SenderID    string   `json:"sender_id"`
	DisplayName string   `json:"display_name"`
	IsOwner     bool     `json:"is_owner"`
	Message     Message  `json:"message"`
}

// Message is the inbound chat message that triggered the invocation.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	Type      string `json:"type"`
	Body      string `json:"body"`
	QuotedID  string `json:"quoted_id,omitempty"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// Reply is the JSON form accepted by the reply host function.
type Reply struct {
	Text     string   `json:"text"`
	Mentions []string `json:"mentions,omitempty"`
	Quote    bool     `json:"quote,omitempty"` // reply to the triggering message
}
