package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotus-md/internal/domain"
	"lotus-md/internal/plugin"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type sent struct {
	chatID string
	msg    domain.OutboundMessage
}

type fakeClient struct {
	mu      sync.Mutex
	sent    []sent
	typing  []bool
	sendErr error
}

func (c *fakeClient) Send(_ context.Context, chatID string, msg domain.OutboundMessage) (domain.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return domain.MessageRef{}, c.sendErr
	}
	c.sent = append(c.sent, sent{chatID: chatID, msg: msg})
	return domain.MessageRef{ID: "OUT", ChatID: chatID}, nil
}

func (c *fakeClient) SetTyping(_ context.Context, _ string, typing bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing = append(c.typing, typing)
	return nil
}

func (c *fakeClient) messages() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sent(nil), c.sent...)
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

func (b *recordingBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

// counter is a handler that counts invocations and records the last context.
type counter struct {
	calls atomic.Int32
	last  atomic.Value
	err   error
}

func (c *counter) Handle(_ context.Context, _ domain.Client, _ domain.InboundMessage, cc domain.CommandContext) error {
	c.calls.Add(1)
	c.last.Store(cc)
	return c.err
}

func (c *counter) lastContext() domain.CommandContext {
	v, _ := c.last.Load().(domain.CommandContext)
	return v
}

func descriptor(name string, h domain.CommandHandler, cmds ...string) *domain.PluginDescriptor {
	return &domain.PluginDescriptor{
		Manifest: domain.PluginManifest{Name: name, Commands: cmds},
		Kind:     domain.PluginKindBuiltin,
		Handler:  h,
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func message(chat, sender, body string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:       "M1",
		ChatID:   chat,
		SenderID: sender,
		PushName: "Tester",
		Type:     domain.MessageTypeConversation,
		Body:     body,
	}
}

func newDispatcher(reg *plugin.Registry, client *fakeClient, bus *recordingBus, opts Options) *Dispatcher {
	if opts.Prefix == "" {
		opts.Prefix = "."
	}
	var eb domain.EventBus
	if bus != nil {
		eb = bus
	}
	return NewDispatcher(reg, client, eb, opts, discard())
}

// ---------------------------------------------------------------------------
// Core routing
// ---------------------------------------------------------------------------

func TestDispatch_InvokesMatchingHandlerOnce(t *testing.T) {
	ping := &counter{}
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("ping", ping, "ping", "speed")})
	client := &fakeClient{}
	bus := &recordingBus{}

	out := newDispatcher(reg, client, bus, Options{ErrorReply: true}).
		Dispatch(context.Background(), message("chat@s.whatsapp.net", "111@s.whatsapp.net", ".ping"))

	assert.Equal(t, OutcomeHandled, out)
	assert.EqualValues(t, 1, ping.calls.Load())

	cc := ping.lastContext()
	assert.Equal(t, "ping", cc.Command)
	assert.Equal(t, []string{}, cc.Args)
	assert.Equal(t, "", cc.Text)
	assert.Equal(t, ".", cc.Prefix)
	assert.Equal(t, "111@s.whatsapp.net", cc.SenderID)
	assert.Equal(t, "Tester", cc.DisplayName)
	assert.False(t, cc.IsGroup)
	assert.Empty(t, client.messages())
	assert.Equal(t, []domain.EventType{domain.EventCommandDispatched}, bus.types())
}

func TestDispatch_NoPrefixNoInvocation(t *testing.T) {
	h := &counter{}
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("hello", h, "hello")})
	client := &fakeClient{}

	d := newDispatcher(reg, client, &recordingBus{}, Options{ErrorReply: true})
	assert.Equal(t, OutcomeIgnored, d.Dispatch(context.Background(), message("c", "s", "hello")))
	assert.Equal(t, OutcomeIgnored, d.Dispatch(context.Background(), message("c", "s", ".")))
	assert.Zero(t, h.calls.Load())
	assert.Empty(t, client.messages())
}

func TestDispatch_UnknownCommandIsSilent(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("ping", &counter{}, "ping")})
	client := &fakeClient{}
	bus := &recordingBus{}

	out := newDispatcher(reg, client, bus, Options{ErrorReply: true}).
		Dispatch(context.Background(), message("c", "s", ".unknowncmd foo"))

	assert.Equal(t, OutcomeNoMatch, out)
	assert.Empty(t, client.messages())
	assert.Empty(t, bus.types())
}

func TestDispatch_FirstMatchWins(t *testing.T) {
	a, b := &counter{}, &counter{}
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{
		descriptor("a", a, "x"),
		descriptor("b", b, "x", "y"),
	})
	d := newDispatcher(reg, &fakeClient{}, &recordingBus{}, Options{})

	for range 5 {
		d.Dispatch(context.Background(), message("c", "s", ".x"))
	}
	assert.EqualValues(t, 5, a.calls.Load())
	assert.Zero(t, b.calls.Load())

	d.Dispatch(context.Background(), message("c", "s", ".y"))
	assert.EqualValues(t, 1, b.calls.Load())
}

func TestDispatch_EmptyCommandsUnreachable(t *testing.T) {
	silent := &counter{}
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("silent", silent)})
	d := newDispatcher(reg, &fakeClient{}, &recordingBus{}, Options{})

	for _, body := range []string{".", ". ", ".silent", ".x", "silent"} {
		d.Dispatch(context.Background(), message("c", "s", body))
	}
	assert.Zero(t, silent.calls.Load())
	assert.Equal(t, 1, reg.Len())
}

func TestDispatch_ReloadSwapsHandler(t *testing.T) {
	oldH, newH := &counter{}, &counter{}
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("foo", oldH, "foo", "bar")})
	d := newDispatcher(reg, &fakeClient{}, &recordingBus{}, Options{})

	d.Dispatch(context.Background(), message("c", "s", ".foo"))
	reg.Replace(descriptor("foo", newH, "foo", "bar"))
	d.Dispatch(context.Background(), message("c", "s", ".foo"))
	d.Dispatch(context.Background(), message("c", "s", ".bar"))

	assert.EqualValues(t, 1, oldH.calls.Load())
	assert.EqualValues(t, 2, newH.calls.Load())
}

// ---------------------------------------------------------------------------
// Failures
// ---------------------------------------------------------------------------

func TestDispatch_HandlerErrorReplies(t *testing.T) {
	failing := &counter{err: errors.New("division by zero")}
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("calc", failing, "calc")})
	client := &fakeClient{}
	bus := &recordingBus{}

	out := newDispatcher(reg, client, bus, Options{ErrorReply: true}).
		Dispatch(context.Background(), message("group@g.us", "s", ".calc 1/0"))

	assert.Equal(t, OutcomeFailed, out)
	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "group@g.us", msgs[0].chatID)
	assert.Equal(t, "Error executing command: division by zero", msgs[0].msg.Text)
	assert.Equal(t, []domain.EventType{domain.EventCommandFailed}, bus.types())
}

func TestDispatch_ErrorReplyDisabled(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("x", &counter{err: errors.New("nope")}, "x")})
	client := &fakeClient{}

	out := newDispatcher(reg, client, &recordingBus{}, Options{}).
		Dispatch(context.Background(), message("c", "s", ".x"))
	assert.Equal(t, OutcomeFailed, out)
	assert.Empty(t, client.messages())
}

func TestDispatch_ErrorReplySendFailureIsContained(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("x", &counter{err: errors.New("nope")}, "x")})
	client := &fakeClient{sendErr: errors.New("offline")}

	out := newDispatcher(reg, client, &recordingBus{}, Options{ErrorReply: true}).
		Dispatch(context.Background(), message("c", "s", ".x"))
	assert.Equal(t, OutcomeFailed, out)
}

func TestDispatch_PanicIsRecovered(t *testing.T) {
	boom := domain.HandlerFunc(func(context.Context, domain.Client, domain.InboundMessage, domain.CommandContext) error {
		panic("boom")
	})
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("boom", boom, "boom")})
	client := &fakeClient{}

	var out Outcome
	require.NotPanics(t, func() {
		out = newDispatcher(reg, client, &recordingBus{}, Options{ErrorReply: true}).
			Dispatch(context.Background(), message("c", "s", ".boom"))
	})
	assert.Equal(t, OutcomeFailed, out)
	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].msg.Text, "panic: boom")
}

func TestDispatch_FailureDoesNotAffectNextCommand(t *testing.T) {
	failing := &counter{err: errors.New("kaput")}
	healthy := &counter{}
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{
		descriptor("bad", failing, "bad"),
		descriptor("good", healthy, "good"),
	})
	d := newDispatcher(reg, &fakeClient{}, &recordingBus{}, Options{ErrorReply: true})

	assert.Equal(t, OutcomeFailed, d.Dispatch(context.Background(), message("chat-1", "a", ".bad")))
	assert.Equal(t, OutcomeHandled, d.Dispatch(context.Background(), message("chat-2", "b", ".good")))
	assert.EqualValues(t, 1, healthy.calls.Load())

	snap := d.Stats().Snapshot()
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.Failed)
}

// ---------------------------------------------------------------------------
// Policy
// ---------------------------------------------------------------------------

func TestDispatch_GroupModeOnly(t *testing.T) {
	h := &counter{}
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("x", h, "x")})
	d := newDispatcher(reg, &fakeClient{}, &recordingBus{}, Options{
		GroupModeOnly: true,
		Owners:        []string{"+62 811"},
	})

	private := message("999@s.whatsapp.net", "999@s.whatsapp.net", ".x")
	assert.Equal(t, OutcomeIgnored, d.Dispatch(context.Background(), private))

	group := message("123@g.us", "999@s.whatsapp.net", ".x")
	group.IsGroup = true
	assert.Equal(t, OutcomeHandled, d.Dispatch(context.Background(), group))

	owner := message("62811@s.whatsapp.net", "62811@s.whatsapp.net", ".x")
	assert.Equal(t, OutcomeHandled, d.Dispatch(context.Background(), owner))
	assert.True(t, h.lastContext().IsOwner)
}

func TestDispatch_CooldownThrottlesNonOwners(t *testing.T) {
	h := &counter{}
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("x", h, "x")})
	d := newDispatcher(reg, &fakeClient{}, &recordingBus{}, Options{
		AntiSpam: true,
		Cooldown: time.Hour,
		Owners:   []string{"62811"},
	})

	assert.Equal(t, OutcomeHandled, d.Dispatch(context.Background(), message("c", "1@s.whatsapp.net", ".x")))
	assert.Equal(t, OutcomeThrottled, d.Dispatch(context.Background(), message("c", "1@s.whatsapp.net", ".x")))
	// other senders have their own bucket
	assert.Equal(t, OutcomeHandled, d.Dispatch(context.Background(), message("c", "2@s.whatsapp.net", ".x")))
	// owners are exempt
	for range 3 {
		assert.Equal(t, OutcomeHandled, d.Dispatch(context.Background(), message("c", "62811:3@s.whatsapp.net", ".x")))
	}
	// unknown commands never consume a token
	assert.Equal(t, OutcomeNoMatch, d.Dispatch(context.Background(), message("c", "3@s.whatsapp.net", ".nope")))
	assert.Equal(t, OutcomeHandled, d.Dispatch(context.Background(), message("c", "3@s.whatsapp.net", ".x")))

	assert.Equal(t, 1, d.Stats().Snapshot().Throttled)
	assert.EqualValues(t, 6, h.calls.Load())
}

func TestDispatch_AutoTyping(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("x", &counter{}, "x")})
	client := &fakeClient{}

	newDispatcher(reg, client, &recordingBus{}, Options{AutoTyping: true}).
		Dispatch(context.Background(), message("c", "s", ".x"))

	assert.Equal(t, []bool{true, false}, client.typing)
}

func TestDispatch_RestPreservesSpacing(t *testing.T) {
	h := &counter{}
	reg := plugin.NewRegistry()
	reg.Set([]*domain.PluginDescriptor{descriptor("say", h, "say")})

	newDispatcher(reg, &fakeClient{}, nil, Options{}).
		Dispatch(context.Background(), message("c", "s", ".say  a   b"))

	cc := h.lastContext()
	assert.Equal(t, "a b", cc.Text)
	assert.Equal(t, "a   b", cc.Rest)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "handled", OutcomeHandled.String())
	assert.Equal(t, "no_match", OutcomeNoMatch.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
