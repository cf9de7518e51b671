package wasm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotus-md/internal/domain"
	"lotus-md/pkg/pluginsdk"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// guest describes a hand-assembled module. Every import comes from the
// lotus_v1 namespace and has type (i32, i32) -> ().
type guest struct {
	imports  []string
	noHandle bool
	handle   []byte // instructions of the handle body, without the final end
	dataAt16 string
}

func uleb(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func wname(s string) []byte { return append(uleb(len(s)), s...) }

func vec(items ...[]byte) []byte {
	out := uleb(len(items))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, content []byte) []byte {
	return append(append([]byte{id}, uleb(len(content))...), content...)
}

func body(instrs ...byte) []byte {
	b := append([]byte{0x00}, instrs...) // no locals
	b = append(b, 0x0b)
	return append(uleb(len(b)), b...)
}

func (g guest) build() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	out = append(out, section(0x01, vec(
		[]byte{0x60, 0x01, 0x7f, 0x01, 0x7f}, // (i32) -> i32
		[]byte{0x60, 0x02, 0x7f, 0x7f, 0x00}, // (i32, i32) -> ()
	))...)

	if len(g.imports) > 0 {
		var imps [][]byte
		for _, name := range g.imports {
			imp := append(wname(pluginsdk.HostModule), wname(name)...)
			imps = append(imps, append(imp, 0x00, 0x01))
		}
		out = append(out, section(0x02, vec(imps...))...)
	}

	base := len(g.imports)
	funcs := [][]byte{{0x00}, {0x01}}
	if !g.noHandle {
		funcs = append(funcs, []byte{0x01})
	}
	out = append(out, section(0x03, vec(funcs...))...)
	out = append(out, section(0x05, vec([]byte{0x00, 0x01}))...)

	exports := [][]byte{
		append(wname("malloc"), 0x00, byte(base)),
		append(wname("free"), 0x00, byte(base+1)),
		append(wname("memory"), 0x02, 0x00),
	}
	if !g.noHandle {
		exports = append(exports, append(wname("handle"), 0x00, byte(base+2)))
	}
	out = append(out, section(0x07, vec(exports...))...)

	bodies := [][]byte{
		body(0x41, 0x80, 0x08), // malloc: i32.const 1024
		body(),                 // free: nop
	}
	if !g.noHandle {
		bodies = append(bodies, body(g.handle...))
	}
	out = append(out, section(0x0a, vec(bodies...))...)

	if g.dataAt16 != "" {
		seg := []byte{0x00, 0x41, 0x10, 0x0b}
		seg = append(seg, wname(g.dataAt16)...)
		out = append(out, section(0x0b, vec(seg))...)
	}
	return out
}

// callImport0 calls import 0 with (16, len(dataAt16)).
func callImport0(n int) []byte {
	return []byte{0x41, 0x10, 0x41, byte(n), 0x10, 0x00}
}

func writeGuest(t *testing.T, g guest) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.wasm")
	require.NoError(t, os.WriteFile(path, g.build(), 0o644))
	return path
}

type sentMessage struct {
	chatID string
	msg    domain.OutboundMessage
}

type fakeClient struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (c *fakeClient) Send(_ context.Context, chatID string, msg domain.OutboundMessage) (domain.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{chatID: chatID, msg: msg})
	return domain.MessageRef{ID: "out", ChatID: chatID}, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }

func (b *recordingBus) SubscribeAll(domain.EventHandler) func() { return func() {} }

func (b *recordingBus) Close() {}

func testMessage() domain.InboundMessage {
	return domain.InboundMessage{
		ID:        "MSG1",
		ChatID:    "123@s.whatsapp.net",
		SenderID:  "123@s.whatsapp.net",
		Type:      domain.MessageTypeConversation,
		Body:      ".pong",
		Timestamp: time.Unix(1700000000, 0),
	}
}

func load(t *testing.T, g guest, cfg domain.WASMPluginConfig) *Plugin {
	t.Helper()
	p, err := LoadPlugin(context.Background(), writeGuest(t, g),
		domain.PluginManifest{Name: "guest", Commands: []string{"pong"}},
		NewSandbox(cfg, DefaultLimits()), &recordingBus{}, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestLoadPlugin_MissingFile(t *testing.T) {
	_, err := LoadPlugin(context.Background(), filepath.Join(t.TempDir(), "nope.wasm"),
		domain.PluginManifest{Name: "x"}, NewSandbox(domain.WASMPluginConfig{}, DefaultLimits()), nil, newTestLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoadPlugin_InvalidBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wasm")
	require.NoError(t, os.WriteFile(path, []byte("not wasm"), 0o644))

	_, err := LoadPlugin(context.Background(), path,
		domain.PluginManifest{Name: "x"}, NewSandbox(domain.WASMPluginConfig{}, DefaultLimits()), nil, newTestLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoadPlugin_RequiresHandleExport(t *testing.T) {
	path := writeGuest(t, guest{noHandle: true})

	_, err := LoadPlugin(context.Background(), path,
		domain.PluginManifest{Name: "x"}, NewSandbox(domain.WASMPluginConfig{}, DefaultLimits()), nil, newTestLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoHandler)
	assert.Contains(t, err.Error(), "handle")
}

func TestPlugin_HandleNoop(t *testing.T) {
	p := load(t, guest{}, domain.WASMPluginConfig{})
	client := &fakeClient{}

	err := p.Handle(context.Background(), client, testMessage(), domain.CommandContext{Command: "pong"})
	require.NoError(t, err)
	assert.Empty(t, client.sent)
	assert.Equal(t, "guest", p.Name())
}

func TestPlugin_HandleReplies(t *testing.T) {
	g := guest{
		imports:  []string{"reply"},
		handle:   callImport0(4),
		dataAt16: "pong",
	}
	p := load(t, g, domain.WASMPluginConfig{})
	client := &fakeClient{}

	msg := testMessage()
	require.NoError(t, p.Handle(context.Background(), client, msg, domain.CommandContext{Command: "pong"}))

	require.Len(t, client.sent, 1)
	assert.Equal(t, msg.ChatID, client.sent[0].chatID)
	assert.Equal(t, "pong", client.sent[0].msg.Text)
}

func TestPlugin_HandleJSONReplyQuotes(t *testing.T) {
	doc := `{"text":"hi","quote":true}`
	g := guest{
		imports:  []string{"reply"},
		handle:   callImport0(len(doc)),
		dataAt16: doc,
	}
	p := load(t, g, domain.WASMPluginConfig{})
	client := &fakeClient{}

	require.NoError(t, p.Handle(context.Background(), client, testMessage(), domain.CommandContext{}))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "hi", client.sent[0].msg.Text)
	assert.Equal(t, "MSG1", client.sent[0].msg.QuotedID)
}

func TestPlugin_HandleFail(t *testing.T) {
	g := guest{
		imports:  []string{"fail"},
		handle:   callImport0(4),
		dataAt16: "boom",
	}
	p := load(t, g, domain.WASMPluginConfig{})
	client := &fakeClient{}

	err := p.Handle(context.Background(), client, testMessage(), domain.CommandContext{})
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.ErrorIs(t, err, domain.ErrHandlerFailure)

	var ge *GuestError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "guest", ge.Plugin)
	assert.Empty(t, client.sent)
}

func TestPlugin_FailStateResetsBetweenCalls(t *testing.T) {
	g := guest{imports: []string{"fail"}, handle: callImport0(4), dataAt16: "boom"}
	p := load(t, g, domain.WASMPluginConfig{})

	require.Error(t, p.Handle(context.Background(), &fakeClient{}, testMessage(), domain.CommandContext{}))
	// the guest fails every time; a reset means the error is reported again, not sticky state
	require.Error(t, p.Handle(context.Background(), &fakeClient{}, testMessage(), domain.CommandContext{}))
}

func TestPlugin_Timeout(t *testing.T) {
	g := guest{handle: []byte{0x03, 0x40, 0x0c, 0x00, 0x0b}} // loop { br 0 }
	p := load(t, g, domain.WASMPluginConfig{ExecTimeout: 50 * time.Millisecond})

	err := p.Handle(context.Background(), &fakeClient{}, testMessage(), domain.CommandContext{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)

	err = p.Handle(context.Background(), &fakeClient{}, testMessage(), domain.CommandContext{})
	assert.ErrorIs(t, err, domain.ErrDisabled)
}

func TestLoadPlugin_UngrantedImport(t *testing.T) {
	g := guest{imports: []string{"emit_event"}}
	_, err := LoadPlugin(context.Background(), writeGuest(t, g),
		domain.PluginManifest{Name: "x"}, NewSandbox(domain.WASMPluginConfig{}, DefaultLimits()), nil, newTestLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPlugin_CloseIdempotent(t *testing.T) {
	p, err := LoadPlugin(context.Background(), writeGuest(t, guest{}),
		domain.PluginManifest{Name: "x"}, NewSandbox(domain.WASMPluginConfig{}, DefaultLimits()), nil, newTestLogger())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	err = p.Handle(context.Background(), &fakeClient{}, testMessage(), domain.CommandContext{})
	assert.ErrorIs(t, err, domain.ErrDisabled)
}

func TestNewInvocation(t *testing.T) {
	msg := testMessage()
	msg.Quoted = &domain.QuotedMessage{ID: "Q1"}

	inv := newInvocation(msg, domain.CommandContext{Command: "pong", SenderID: "s", IsOwner: true})
	assert.Equal(t, "pong", inv.Command)
	assert.Equal(t, []string{}, inv.Args)
	assert.True(t, inv.IsOwner)
	assert.Equal(t, "Q1", inv.Message.QuotedID)
	assert.Equal(t, int64(1700000000), inv.Message.Timestamp)
	assert.Equal(t, "conversation", inv.Message.Type)
}

func TestHostEnv_ConfigJSON(t *testing.T) {
	env := &hostEnv{config: map[string]any{"sides": 6, "name": "dice"}}

	assert.JSONEq(t, `{"sides":6,"name":"dice"}`, string(env.configJSON("")))
	assert.Equal(t, "6", string(env.configJSON("sides")))
	assert.Equal(t, "null", string(env.configJSON("missing")))

	empty := &hostEnv{}
	assert.Equal(t, "{}", string(empty.configJSON("")))
}

func TestDecodeReply(t *testing.T) {
	assert.Equal(t, pluginsdk.Reply{Text: "plain"}, decodeReply([]byte("plain")))
	assert.Equal(t, pluginsdk.Reply{Text: "x", Mentions: []string{"a"}},
		decodeReply([]byte(`{"text":"x","mentions":["a"]}`)))
	// JSON without text is delivered verbatim
	assert.Equal(t, pluginsdk.Reply{Text: `{"n":1}`}, decodeReply([]byte(`{"n":1}`)))
}
