package domain

import (
	"strings"
	"time"
)

// MessageType tags the payload shape of an inbound message.
type MessageType string

const (
	MessageTypeConversation MessageType = "conversation"
	MessageTypeExtendedText MessageType = "extendedTextMessage"
	MessageTypeImage        MessageType = "imageMessage"
	MessageTypeVideo        MessageType = "videoMessage"
	MessageTypeAudio        MessageType = "audioMessage"
	MessageTypeDocument     MessageType = "documentMessage"
	MessageTypeSticker      MessageType = "stickerMessage"
	MessageTypeUnknown      MessageType = "unknown"
)

// DefaultDisplayName is used when the sender has no push name.
const DefaultDisplayName = "No Name"

// QuotedMessage is a lookup-only reference to the message being replied to.
type QuotedMessage struct {
	ID       string `json:"id"`
	SenderID string `json:"sender_id,omitempty"`
	Body     string `json:"body,omitempty"`
}

// InboundMessage is one decoded chat event. It is built per event by the
// transport normalizer and never mutated afterwards.
type InboundMessage struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chat_id"`
	SenderID  string         `json:"sender_id"`
	PushName  string         `json:"push_name,omitempty"`
	IsGroup   bool           `json:"is_group"`
	FromMe    bool           `json:"from_me,omitempty"`
	Type      MessageType    `json:"type"`
	Body      string         `json:"body"`
	Mentions  []string       `json:"mentions,omitempty"`
	Quoted    *QuotedMessage `json:"quoted,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DisplayName returns the sender's push name or DefaultDisplayName.
func (m InboundMessage) DisplayName() string {
	if m.PushName == "" {
		return DefaultDisplayName
	}
	return m.PushName
}

// ParsedCommand is derived from a message body for a single dispatch.
type ParsedCommand struct {
	PrefixMatched bool
	Command       string
	Args          []string
	// Text is Args joined by single spaces; original spacing is lost.
	Text string
	// Rest is the untouched remainder after the command token.
	Rest string
}

// OutboundMessage is a payload handed to the messaging client.
type OutboundMessage struct {
	Text     string   `json:"text,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
	QuotedID string   `json:"quoted_id,omitempty"`
	// EditID replaces the text of a previously sent message.
	EditID string `json:"edit_id,omitempty"`
	// RevokeID deletes a previously sent message for everyone.
	RevokeID string `json:"revoke_id,omitempty"`
}

// MessageRef identifies a message the client has sent.
type MessageRef struct {
	ID        string
	ChatID    string
	Timestamp time.Time
}

// Text is a shorthand for a plain text OutboundMessage.
func Text(s string) OutboundMessage {
	return OutboundMessage{Text: s}
}

// UserPart returns the user portion of an ID: "628123:4@s.whatsapp.net"
// becomes "628123".
func UserPart(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		id = id[:i]
	}
	if i := strings.IndexByte(id, ':'); i >= 0 {
		id = id[:i]
	}
	return id
}

// MentionTag is the in-text form of a mention, "@628123".
func MentionTag(id string) string {
	return "@" + UserPart(id)
}
