package command

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"lotus-md/internal/domain"
	"lotus-md/internal/infra/tracer"
)

// Outcome reports what Dispatch did with a message.
type Outcome int

const (
	// OutcomeIgnored: no prefix, empty command, or filtered by group mode.
	OutcomeIgnored Outcome = iota
	// OutcomeNoMatch: no plugin declares the command.
	OutcomeNoMatch
	// OutcomeThrottled: the sender is in cooldown.
	OutcomeThrottled
	OutcomeHandled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeHandled:
		return "handled"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ErrorReplyPrefix starts the chat reply sent when a handler fails.
const ErrorReplyPrefix = "Error executing command: "

// PluginLookup resolves a command keyword to the plugin that handles it.
type PluginLookup interface {
	Lookup(command string) (*domain.PluginDescriptor, bool)
}

// Options controls dispatch policy.
type Options struct {
	Prefix        string
	Owners        []string
	GroupModeOnly bool // ignore private chats except from owners
	AntiSpam      bool
	Cooldown      time.Duration
	AutoTyping    bool
	ErrorReply    bool
}

// Dispatcher routes parsed commands to at most one plugin per message.
type Dispatcher struct {
	plugins  PluginLookup
	client   domain.Client
	bus      domain.EventBus
	opts     Options
	owners   OwnerSet
	cooldown *Cooldown
	stats    *Stats
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. bus may be nil.
func NewDispatcher(plugins PluginLookup, client domain.Client, bus domain.EventBus, opts Options, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		plugins:  plugins,
		client:   client,
		bus:      bus,
		opts:     opts,
		owners:   NewOwnerSet(opts.Owners),
		cooldown: NewCooldown(opts.Cooldown),
		stats:    NewStats(),
		logger:   logger.With("component", "dispatcher"),
	}
}

// Prefix returns the configured command prefix.
func (d *Dispatcher) Prefix() string { return d.opts.Prefix }

// Stats returns the dispatch counters.
func (d *Dispatcher) Stats() *Stats { return d.stats }

// IsOwner reports whether senderID is a configured owner.
func (d *Dispatcher) IsOwner(senderID string) bool { return d.owners.Contains(senderID) }

// PruneCooldowns forgets senders idle for longer than maxIdle.
func (d *Dispatcher) PruneCooldowns(maxIdle time.Duration) int {
	return d.cooldown.Prune(maxIdle)
}

// Dispatch parses msg and invokes the first plugin declaring the command.
// Handler errors and panics never escape; they are logged, reported to the
// chat and published as command.failed.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.InboundMessage) Outcome {
	pc := Parse(msg.Body, d.opts.Prefix)
	if !pc.PrefixMatched || pc.Command == "" {
		return OutcomeIgnored
	}

	isOwner := d.owners.Contains(msg.SenderID)
	if d.opts.GroupModeOnly && !msg.IsGroup && !isOwner {
		return OutcomeIgnored
	}

	plugin, ok := d.plugins.Lookup(pc.Command)
	if !ok {
		return OutcomeNoMatch
	}

	if d.opts.AntiSpam && !isOwner && !d.cooldown.Allow(msg.SenderID) {
		d.stats.recordThrottled()
		d.logger.Debug("command throttled", "sender", msg.SenderID, "command", pc.Command)
		return OutcomeThrottled
	}

	ctx, span := tracer.StartSpan(ctx, "command.dispatch")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("command.name", pc.Command),
		tracer.StringAttr("plugin.name", plugin.Name()),
		tracer.StringAttr("plugin.kind", string(plugin.Kind)),
		tracer.IntAttr("command.args", len(pc.Args)),
		tracer.BoolAttr("chat.group", msg.IsGroup),
	)

	cc := domain.CommandContext{
		Command:     pc.Command,
		Args:        pc.Args,
		Text:        pc.Text,
		Rest:        pc.Rest,
		Prefix:      d.opts.Prefix,
		IsGroup:     msg.IsGroup,
		SenderID:    msg.SenderID,
		DisplayName: msg.DisplayName(),
		IsOwner:     isOwner,
	}

	if d.opts.AutoTyping {
		d.setTyping(ctx, msg.ChatID, true)
		defer d.setTyping(ctx, msg.ChatID, false)
	}

	start := time.Now()
	err := d.invoke(ctx, plugin, msg, cc)
	elapsed := time.Since(start)

	d.stats.record(pc.Command, err != nil)

	payload := domain.CommandEventPayload{
		Plugin:   plugin.Name(),
		Command:  pc.Command,
		SenderID: msg.SenderID,
		Duration: elapsed.String(),
	}

	if err != nil {
		tracer.RecordError(span, err)
		d.logger.Error("command failed",
			"plugin", plugin.Name(),
			"command", pc.Command,
			"chat", msg.ChatID,
			"error", err,
			"code", domain.ErrorCodeOf(err),
		)
		if d.opts.ErrorReply {
			if _, sendErr := d.client.Send(ctx, msg.ChatID, domain.Text(ErrorReplyPrefix+err.Error())); sendErr != nil {
				d.logger.Warn("error reply failed", "chat", msg.ChatID, "error", sendErr)
			}
		}
		payload.Error = err.Error()
		d.publish(ctx, domain.EventCommandFailed, msg.ChatID, payload)
		return OutcomeFailed
	}

	tracer.SetOK(span)
	d.logger.Debug("command handled", "plugin", plugin.Name(), "command", pc.Command, "duration", elapsed)
	d.publish(ctx, domain.EventCommandDispatched, msg.ChatID, payload)
	return OutcomeHandled
}

// invoke runs the handler and turns a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, plugin *domain.PluginDescriptor, msg domain.InboundMessage, cc domain.CommandContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command handler panicked",
				"plugin", plugin.Name(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: panic: %v", domain.ErrHandlerFailure, r)
		}
	}()
	return plugin.Handle(ctx, d.client, msg, cc)
}

func (d *Dispatcher) setTyping(ctx context.Context, chatID string, typing bool) {
	p, ok := d.client.(domain.Presencer)
	if !ok {
		return
	}
	if err := p.SetTyping(ctx, chatID, typing); err != nil {
		d.logger.Debug("typing indicator failed", "chat", chatID, "error", err)
	}
}

func (d *Dispatcher) publish(ctx context.Context, t domain.EventType, chatID string, payload domain.CommandEventPayload) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(ctx, domain.NewEvent(t, chatID, payload))
}
