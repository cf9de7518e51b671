package domain

import "context"

// Client is the messaging-client capability handlers use to talk back.
type Client interface {
	Send(ctx context.Context, chatID string, msg OutboundMessage) (MessageRef, error)
}

// Presencer is implemented by clients that can show a typing indicator.
type Presencer interface {
	SetTyping(ctx context.Context, chatID string, typing bool) error
}

// Blocker is implemented by clients that can manage the account blocklist.
type Blocker interface {
	SetBlocked(ctx context.Context, userID string, blocked bool) error
}

// ParticipantAction is a group membership change.
type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

// GroupParticipant is one member of a group.
type GroupParticipant struct {
	ID      string
	IsAdmin bool
}

// GroupInfo summarizes a group chat.
type GroupInfo struct {
	ID           string
	Name         string
	Topic        string
	OwnerID      string
	Participants []GroupParticipant
}

// GroupAdmin is implemented by clients that can inspect and manage groups.
type GroupAdmin interface {
	GroupInfo(ctx context.Context, chatID string) (*GroupInfo, error)
	InviteLink(ctx context.Context, chatID string) (string, error)
	UpdateParticipants(ctx context.Context, chatID string, userIDs []string, action ParticipantAction) error
}

// ConnectionState is the lifecycle state of the messaging session.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateClosing      ConnectionState = "CLOSING"
	StateLoggedOut    ConnectionState = "LOGGED_OUT"
)

// Terminal reports whether no further transitions happen without re-authentication.
func (s ConnectionState) Terminal() bool { return s == StateLoggedOut }

// TransportEvent is one notification from the messaging transport.
// Concrete types: ConnectionOpened, ConnectionClosed, CredentialsUpdated,
// MessageReceived, ParticipantsChanged.
type TransportEvent interface {
	transportEvent()
}

// ConnectionOpened is emitted when the session is authenticated and online.
type ConnectionOpened struct{}

// ConnectionClosed is emitted when the connection drops.
type ConnectionClosed struct {
	Reason    string
	LoggedOut bool
}

// CredentialsUpdated is emitted when the transport has new session credentials.
type CredentialsUpdated struct{}

// MessageReceived carries one normalized inbound message.
type MessageReceived struct {
	Message InboundMessage
}

// ParticipantsChanged is emitted on group membership updates.
type ParticipantsChanged struct {
	ChatID       string            `json:"chat_id"`
	Participants []string          `json:"participants"`
	Action       ParticipantAction `json:"action"`
}

func (ConnectionOpened) transportEvent()    {}
func (ConnectionClosed) transportEvent()    {}
func (CredentialsUpdated) transportEvent()  {}
func (MessageReceived) transportEvent()     {}
func (ParticipantsChanged) transportEvent() {}

// EventSink receives transport events.
type EventSink func(ctx context.Context, ev TransportEvent)

// Transport is the session side of the messaging client.
type Transport interface {
	// Connect starts a connection attempt. Progress is reported through the sink.
	Connect(ctx context.Context) error
	Disconnect()
	// SaveCredentials durably persists the current session credentials.
	SaveCredentials(ctx context.Context) error
	SetEventSink(sink EventSink)
}
