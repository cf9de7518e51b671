package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	_ "modernc.org/sqlite"

	"lotus-md/internal/domain"
	"lotus-md/internal/infra/logger"
)

// Options configures the transport.
type Options struct {
	SessionDB  string // sqlite file holding device credentials
	QRTerminal bool   // render pairing codes as terminal QR blocks
	AutoRead   bool   // send read receipts for every inbound message
	LogLevel   string // whatsmeow log level
	QROutput   io.Writer
}

// Transport owns the whatsmeow session: the device store, the socket and
// the translation of library events into domain.TransportEvents.
type Transport struct {
	opts      Options
	container *sqlstore.Container
	wa        *whatsmeow.Client
	client    *Client
	logger    *slog.Logger

	mu   sync.RWMutex
	sink domain.EventSink
	base context.Context

	loggedOut atomic.Bool
}

var _ domain.Transport = (*Transport)(nil)

// Open opens (or creates) the session store and prepares a client for the
// first stored device. It does not connect.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Transport, error) {
	if opts.SessionDB == "" {
		return nil, fmt.Errorf("%w: session db path is empty", domain.ErrInvalidInput)
	}
	if opts.QROutput == nil {
		opts.QROutput = os.Stdout
	}
	if err := os.MkdirAll(filepath.Dir(opts.SessionDB), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	level := logLevel(opts.LogLevel)
	dsn := "file:" + opts.SessionDB + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, newWALogger(logger, "store", level))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	wa := whatsmeow.NewClient(device, newWALogger(logger, "client", level))
	// Reconnects are driven by the lifecycle manager.
	wa.EnableAutoReconnect = false

	t := &Transport{
		opts:      opts,
		container: container,
		wa:        wa,
		client:    newClient(wa),
		logger:    logger,
		base:      context.Background(),
	}
	wa.AddEventHandler(t.handleEvent)
	return t, nil
}

// Client returns the messaging client bound to this session.
func (t *Transport) Client() *Client { return t.client }

// Paired reports whether the store holds credentials for a linked device.
func (t *Transport) Paired() bool { return t.wa.Store.ID != nil }

// SetEventSink implements domain.Transport.
func (t *Transport) SetEventSink(sink domain.EventSink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

// Connect starts a connection attempt. Without stored credentials it first
// opens a pairing channel and prints QR codes until the device is linked.
func (t *Transport) Connect(ctx context.Context) error {
	if t.loggedOut.Load() {
		return domain.ErrLoggedOut
	}
	t.mu.Lock()
	t.base = ctx
	t.mu.Unlock()

	if t.wa.Store.ID == nil {
		qrChan, err := t.wa.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("open pairing channel: %w", err)
		}
		if err := t.connect(); err != nil {
			return err
		}
		go t.pair(ctx, qrChan)
		return nil
	}
	return t.connect()
}

func (t *Transport) connect() error {
	err := t.wa.Connect()
	if err != nil && !errors.Is(err, whatsmeow.ErrAlreadyConnected) {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// pair consumes pairing events. A timed-out or failed pairing is reported
// as a closed connection so the caller can retry with a fresh code.
func (t *Transport) pair(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			t.showQR(item.Code, item.Timeout)
		case whatsmeow.QRChannelSuccess.Event:
			t.logger.Info("device paired")
			return
		case whatsmeow.QRChannelTimeout.Event:
			t.emit(ctx, domain.ConnectionClosed{Reason: "pairing timed out"})
			return
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			t.emit(ctx, domain.ConnectionClosed{Reason: "pairing failed: " + reason})
			return
		}
	}
}

func (t *Transport) showQR(code string, ttl time.Duration) {
	if !t.opts.QRTerminal {
		t.logger.Info("pairing code received", "code", code, "expires_in", ttl)
		return
	}
	fmt.Fprintln(t.opts.QROutput, "Scan this QR code with WhatsApp (Linked devices):")
	qrterminal.GenerateHalfBlock(code, qrterminal.L, t.opts.QROutput)
}

// Disconnect closes the socket. No ConnectionClosed event follows.
func (t *Transport) Disconnect() {
	t.wa.Disconnect()
}

// SaveCredentials persists the device record. Session keys are written by
// the store as they change.
func (t *Transport) SaveCredentials(ctx context.Context) error {
	if t.wa.Store.ID == nil {
		return nil
	}
	if err := t.wa.Store.Save(ctx); err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	return nil
}

// Close disconnects and releases the session store.
func (t *Transport) Close() error {
	t.wa.Disconnect()
	return t.container.Close()
}

func (t *Transport) handleEvent(raw any) {
	t.mu.RLock()
	ctx := t.base
	t.mu.RUnlock()

	if evt, ok := raw.(*events.Message); ok {
		t.onMessage(ctx, evt)
		return
	}
	if lo, ok := raw.(*events.LoggedOut); ok {
		t.loggedOut.Store(true)
		t.logger.Warn("session logged out", "reason", lo.Reason.String(), "on_connect", lo.OnConnect)
	}
	for _, ev := range translate(raw) {
		t.emit(ctx, ev)
	}
}

func (t *Transport) onMessage(ctx context.Context, evt *events.Message) {
	msg, ok := Normalize(evt)
	if !ok {
		return
	}
	raw := evt.Message
	if inner := raw.GetEphemeralMessage().GetMessage(); inner != nil {
		raw = inner
	}
	t.client.remember(msg, raw)

	if t.opts.AutoRead && !msg.FromMe {
		go func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := t.client.markRead(rctx, msg); err != nil {
				t.logger.Debug("mark read failed", "id", msg.ID, "error", err)
			}
		}()
	}
	t.emit(ctx, domain.MessageReceived{Message: msg})
}

func (t *Transport) emit(ctx context.Context, ev domain.TransportEvent) {
	t.mu.RLock()
	sink := t.sink
	t.mu.RUnlock()
	if sink != nil {
		sink(ctx, ev)
	}
}

// translate maps session events to domain events. Message events are
// handled separately because they need the client.
func translate(raw any) []domain.TransportEvent {
	switch evt := raw.(type) {
	case *events.Connected:
		return []domain.TransportEvent{domain.ConnectionOpened{}}
	case *events.Disconnected:
		return []domain.TransportEvent{domain.ConnectionClosed{Reason: "connection lost"}}
	case *events.StreamReplaced:
		return []domain.TransportEvent{domain.ConnectionClosed{Reason: "stream replaced"}}
	case *events.KeepAliveTimeout:
		return nil
	case *events.ConnectFailure:
		return []domain.TransportEvent{domain.ConnectionClosed{
			Reason:    "connect failure: " + evt.Reason.String(),
			LoggedOut: evt.Reason.IsLoggedOut(),
		}}
	case *events.TemporaryBan:
		return []domain.TransportEvent{domain.ConnectionClosed{Reason: "temporary ban: " + evt.String()}}
	case *events.LoggedOut:
		return []domain.TransportEvent{domain.ConnectionClosed{Reason: "logged out: " + evt.Reason.String(), LoggedOut: true}}
	case *events.PairSuccess:
		return []domain.TransportEvent{domain.CredentialsUpdated{}}
	case *events.PushNameSetting:
		return []domain.TransportEvent{domain.CredentialsUpdated{}}
	case *events.GroupInfo:
		return groupChanges(evt)
	}
	return nil
}

func groupChanges(evt *events.GroupInfo) []domain.TransportEvent {
	var out []domain.TransportEvent
	add := func(action domain.ParticipantAction, jids []types.JID) {
		if len(jids) == 0 {
			return
		}
		ids := make([]string, len(jids))
		for i, j := range jids {
			ids[i] = j.ToNonAD().String()
		}
		out = append(out, domain.ParticipantsChanged{ChatID: evt.JID.String(), Participants: ids, Action: action})
	}
	add(domain.ParticipantAdd, evt.Join)
	add(domain.ParticipantRemove, evt.Leave)
	add(domain.ParticipantPromote, evt.Promote)
	add(domain.ParticipantDemote, evt.Demote)
	return out
}

func logLevel(s string) slog.Level {
	if s == "" {
		return slog.LevelWarn
	}
	return logger.ParseLevel(s)
}
