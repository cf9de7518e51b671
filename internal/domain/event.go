package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventMessageReceived   EventType = "message.received"
	EventCommandDispatched EventType = "command.dispatched"
	EventCommandFailed     EventType = "command.failed"
	EventPluginLoaded      EventType = "plugin.loaded"
	EventPluginReloaded    EventType = "plugin.reloaded"
	EventPluginUnloaded    EventType = "plugin.unloaded"
	EventConnectionState   EventType = "connection.state"
	EventGroupParticipants EventType = "group.participants"
	EventTimerFired        EventType = "timer.fired"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ChatID    string          `json:"chat_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// CommandEventPayload is the payload of command.* events.
type CommandEventPayload struct {
	Plugin   string `json:"plugin"`
	Command  string `json:"command"`
	SenderID string `json:"sender_id"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

// PluginEventPayload is the payload of plugin.* events.
type PluginEventPayload struct {
	Name     string     `json:"name"`
	Kind     PluginKind `json:"kind,omitempty"`
	Commands []string   `json:"commands,omitempty"`
	Source   string     `json:"source,omitempty"`
}

// ConnectionStatePayload is the payload of connection.state events.
type ConnectionStatePayload struct {
	State  ConnectionState `json:"state"`
	Reason string          `json:"reason,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// NewEvent builds an Event with a JSON payload. Marshal failures leave the payload empty.
func NewEvent(t EventType, chatID string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), ChatID: chatID}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			ev.Payload = b
		}
	}
	return ev
}
