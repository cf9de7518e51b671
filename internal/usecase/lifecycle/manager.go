// Package lifecycle drives the messaging session through its connection
// states and feeds inbound messages to the dispatcher while connected.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"lotus-md/internal/domain"
)

// Hooks are the callbacks the manager runs on lifecycle edges.
type Hooks struct {
	// OnConnected runs on every transition to CONNECTED, before messages
	// are accepted. Errors are logged.
	OnConnected func(ctx context.Context) error
	// OnMessage handles one inbound message on its own goroutine.
	OnMessage func(ctx context.Context, msg domain.InboundMessage)
}

// Options configures reconnect behavior.
type Options struct {
	ReconnectDelay time.Duration
}

// Manager owns the connection state machine:
//
//	DISCONNECTED -> CONNECTING -> CONNECTED -> (CLOSING) -> DISCONNECTED
//
// with LOGGED_OUT as a terminal state.
type Manager struct {
	transport domain.Transport
	bus       domain.EventBus
	hooks     Hooks
	opts      Options
	logger    *slog.Logger

	mu      sync.Mutex
	state   domain.ConnectionState
	started bool

	credMu   sync.Mutex
	inflight sync.WaitGroup

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	doneOnce  sync.Once
	reconnect chan struct{}

	after func(time.Duration) <-chan time.Time
}

// New creates a manager in the DISCONNECTED state.
func New(transport domain.Transport, bus domain.EventBus, hooks Hooks, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		transport: transport,
		bus:       bus,
		hooks:     hooks,
		opts:      opts,
		logger:    logger.With("component", "lifecycle"),
		state:     domain.StateDisconnected,
		done:      make(chan struct{}),
		reconnect: make(chan struct{}, 1),
		after:     time.After,
	}
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed once the session is logged out or stopped.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Start subscribes to transport events and begins the first connection
// attempt. A failed attempt is retried after the reconnect delay; only a
// logged-out session is returned as an error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return domain.NewSubSystemError("lifecycle", "Manager.Start", domain.ErrDuplicate, "already started")
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Unlock()

	m.transport.SetEventSink(m.HandleEvent)
	go m.reconnectLoop()

	m.setState(domain.StateConnecting, "start")
	if err := m.transport.Connect(m.ctx); err != nil {
		if errors.Is(err, domain.ErrLoggedOut) {
			m.loggedOut("session rejected at start")
			return err
		}
		m.logger.Warn("connect failed", "error", err)
		if m.transition(domain.StateDisconnected, err.Error(), domain.StateConnecting) {
			m.scheduleReconnect()
		}
	}
	return nil
}

// HandleEvent applies one transport event. It is the transport's event sink.
func (m *Manager) HandleEvent(ctx context.Context, ev domain.TransportEvent) {
	if m.ctx != nil && m.ctx.Err() != nil {
		// stopped or logged out
		return
	}

	switch e := ev.(type) {
	case domain.ConnectionOpened:
		m.onOpened(ctx)
	case domain.ConnectionClosed:
		m.onClosed(ctx, e)
	case domain.CredentialsUpdated:
		m.saveCredentials(ctx)
	case domain.MessageReceived:
		m.onMessage(e.Message)
	case domain.ParticipantsChanged:
		m.publish(ctx, domain.NewEvent(domain.EventGroupParticipants, e.ChatID, e))
	default:
		m.logger.Debug("unhandled transport event", "type", ev)
	}
}

func (m *Manager) onOpened(ctx context.Context) {
	switch m.State() {
	case domain.StateClosing, domain.StateLoggedOut:
		return
	}

	if m.hooks.OnConnected != nil {
		if err := m.hooks.OnConnected(ctx); err != nil {
			m.logger.Error("on-connected hook failed", "error", err)
		}
	}
	if m.transition(domain.StateConnected, "", domain.StateConnecting, domain.StateDisconnected) {
		m.logger.Info("connected")
	}
}

func (m *Manager) onClosed(ctx context.Context, e domain.ConnectionClosed) {
	switch m.State() {
	case domain.StateClosing, domain.StateLoggedOut:
		return
	}

	if e.LoggedOut {
		m.loggedOut(e.Reason)
		return
	}

	m.logger.Warn("connection closed, reconnecting", "reason", e.Reason, "delay", m.opts.ReconnectDelay)
	m.saveCredentials(ctx)
	if m.transition(domain.StateDisconnected, e.Reason, domain.StateConnected, domain.StateConnecting) {
		m.scheduleReconnect()
	}
}

func (m *Manager) onMessage(msg domain.InboundMessage) {
	if m.State() != domain.StateConnected {
		m.logger.Debug("message dropped while not connected", "chat", msg.ChatID, "id", msg.ID)
		return
	}

	m.publish(m.ctx, domain.NewEvent(domain.EventMessageReceived, msg.ChatID, msg))

	if m.hooks.OnMessage == nil {
		return
	}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.hooks.OnMessage(m.ctx, msg)
	}()
}

func (m *Manager) loggedOut(reason string) {
	m.logger.Error("session logged out; re-authentication required", "reason", reason)
	m.setState(domain.StateLoggedOut, reason)
	if m.cancel != nil {
		m.cancel()
	}
	m.doneOnce.Do(func() { close(m.done) })
}

// scheduleReconnect wakes the retry loop. Requests made while a retry is
// running are coalesced into one follow-up.
func (m *Manager) scheduleReconnect() {
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

func (m *Manager) reconnectLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnect:
		}
		m.retry()
	}
}

// retry waits the reconnect delay and calls Connect until an attempt is
// accepted or the manager stops.
func (m *Manager) retry() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.after(m.opts.ReconnectDelay):
		}

		if !m.transition(domain.StateConnecting, "reconnect", domain.StateDisconnected) {
			return
		}

		err := m.transport.Connect(m.ctx)
		if err == nil {
			return
		}
		if errors.Is(err, domain.ErrLoggedOut) {
			m.loggedOut(err.Error())
			return
		}
		if m.ctx.Err() != nil {
			return
		}
		m.logger.Warn("reconnect failed", "error", err, "delay", m.opts.ReconnectDelay)
		if !m.transition(domain.StateDisconnected, err.Error(), domain.StateConnecting) {
			return
		}
	}
}

// saveCredentials persists credentials; saves never overlap.
func (m *Manager) saveCredentials(ctx context.Context) {
	m.credMu.Lock()
	defer m.credMu.Unlock()

	if err := m.transport.SaveCredentials(ctx); err != nil {
		m.logger.Error("save credentials failed", "error", err)
	}
}

// Stop closes the connection, waits for in-flight dispatches until ctx is
// done, persists credentials and closes Done.
func (m *Manager) Stop(ctx context.Context) error {
	if m.State() == domain.StateLoggedOut {
		m.waitInflight(ctx)
		return nil
	}

	m.setState(domain.StateClosing, "stop")
	if m.cancel != nil {
		m.cancel()
	}
	m.transport.Disconnect()

	err := m.waitInflight(ctx)
	m.saveCredentials(context.WithoutCancel(ctx))

	m.setState(domain.StateDisconnected, "stopped")
	m.doneOnce.Do(func() { close(m.done) })
	return err
}

func (m *Manager) waitInflight(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		m.logger.Warn("stopped with commands still running")
		return ctx.Err()
	}
}

func (m *Manager) setState(s domain.ConnectionState, reason string) {
	m.transition(s, reason)
}

// transition moves to s when the current state is one of from (any state
// when from is empty) and reports whether it did.
func (m *Manager) transition(s domain.ConnectionState, reason string, from ...domain.ConnectionState) bool {
	m.mu.Lock()
	prev := m.state
	if len(from) > 0 && !slices.Contains(from, prev) {
		m.mu.Unlock()
		return false
	}
	m.state = s
	m.mu.Unlock()

	if prev == s {
		return true
	}
	m.logger.Debug("connection state", "from", prev, "to", s, "reason", reason)
	m.publish(context.Background(), domain.NewEvent(domain.EventConnectionState, "",
		domain.ConnectionStatePayload{State: s, Reason: reason}))
	return true
}

func (m *Manager) publish(ctx context.Context, ev domain.Event) {
	if m.bus == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.bus.Publish(ctx, ev)
}
