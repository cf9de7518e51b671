package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"lotus-md/internal/domain"
)

var (
	userJID  = types.NewJID("628111", types.DefaultUserServer)
	groupJID = types.NewJID("120363000000", types.GroupServer)
)

func messageEvent(id string, chat types.JID, m *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:    chat,
				Sender:  userJID,
				IsGroup: chat.Server == types.GroupServer,
			},
			ID:        id,
			PushName:  "Alice",
			Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		Message: m,
	}
}

func TestNormalizeConversation(t *testing.T) {
	evt := messageEvent("3EB0AAAA", userJID, &waE2E.Message{Conversation: proto.String(".ping")})

	msg, ok := Normalize(evt)
	require.True(t, ok)
	assert.Equal(t, "3EB0AAAA", msg.ID)
	assert.Equal(t, "628111@s.whatsapp.net", msg.ChatID)
	assert.Equal(t, "628111@s.whatsapp.net", msg.SenderID)
	assert.Equal(t, "Alice", msg.PushName)
	assert.False(t, msg.IsGroup)
	assert.Equal(t, domain.MessageTypeConversation, msg.Type)
	assert.Equal(t, ".ping", msg.Body)
	assert.Nil(t, msg.Quoted)
	assert.Equal(t, evt.Info.Timestamp, msg.Timestamp)
}

func TestNormalizeBodiesAndTypes(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		typ  domain.MessageType
		body string
	}{
		{
			name: "image caption",
			msg:  &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String(".sticker")}},
			typ:  domain.MessageTypeImage,
			body: ".sticker",
		},
		{
			name: "video caption",
			msg:  &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("clip")}},
			typ:  domain.MessageTypeVideo,
			body: "clip",
		},
		{
			name: "extended text",
			msg:  &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String(".menu")}},
			typ:  domain.MessageTypeExtendedText,
			body: ".menu",
		},
		{name: "audio", msg: &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, typ: domain.MessageTypeAudio},
		{name: "document", msg: &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, typ: domain.MessageTypeDocument},
		{name: "sticker", msg: &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, typ: domain.MessageTypeSticker},
		{name: "unknown", msg: &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{}}, typ: domain.MessageTypeUnknown},
		{
			name: "ephemeral unwrapped",
			msg: &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{
				Message: &waE2E.Message{Conversation: proto.String(".info")},
			}},
			typ:  domain.MessageTypeConversation,
			body: ".info",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Normalize(messageEvent("3EB0BBBB", groupJID, tt.msg))
			require.True(t, ok)
			assert.Equal(t, tt.typ, msg.Type)
			assert.Equal(t, tt.body, msg.Body)
			assert.True(t, msg.IsGroup)
		})
	}
}

func TestNormalizeQuoted(t *testing.T) {
	m := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: proto.String(".kick @628444"),
		ContextInfo: &waE2E.ContextInfo{
			MentionedJID:  []string{"628444@s.whatsapp.net"},
			StanzaID:      proto.String("QUOTED1"),
			Participant:   proto.String("628222@s.whatsapp.net"),
			QuotedMessage: &waE2E.Message{Conversation: proto.String("earlier")},
		},
	}}

	msg, ok := Normalize(messageEvent("3EB0CCCC", groupJID, m))
	require.True(t, ok)
	assert.Equal(t, []string{"628444@s.whatsapp.net"}, msg.Mentions)
	require.NotNil(t, msg.Quoted)
	assert.Equal(t, "QUOTED1", msg.Quoted.ID)
	assert.Equal(t, "628222@s.whatsapp.net", msg.Quoted.SenderID)
	assert.Equal(t, "earlier", msg.Quoted.Body)
}

func TestNormalizeDrops(t *testing.T) {
	text := &waE2E.Message{Conversation: proto.String("hi")}

	tests := []struct {
		name string
		evt  *events.Message
	}{
		{name: "nil event", evt: nil},
		{name: "nil payload", evt: messageEvent("3EB0DDDD", userJID, nil)},
		{name: "empty ephemeral", evt: messageEvent("3EB0DDDE", userJID, &waE2E.Message{EphemeralMessage: &waE2E.FutureProofMessage{}})},
		{name: "status broadcast", evt: messageEvent("3EB0DDDF", types.StatusBroadcastJID, text)},
		{name: "bot echo", evt: messageEvent("BAE5F00DBEEF0001", userJID, text)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Normalize(tt.evt)
			assert.False(t, ok)
		})
	}
}

func TestNormalizeKeepsSimilarIDs(t *testing.T) {
	text := &waE2E.Message{Conversation: proto.String("hi")}

	// BAE5 prefix but not the 16-character shape.
	_, ok := Normalize(messageEvent("BAE5F00D", userJID, text))
	assert.True(t, ok)

	_, ok = Normalize(messageEvent("ABCDEF0123456789", userJID, text))
	assert.True(t, ok)
}

func TestNormalizeSenderDropsDevice(t *testing.T) {
	evt := messageEvent("3EB0EEEE", groupJID, &waE2E.Message{Conversation: proto.String("x")})
	evt.Info.Sender = types.JID{User: "628333", Device: 7, Server: types.DefaultUserServer}
	evt.Info.IsFromMe = true

	msg, ok := Normalize(evt)
	require.True(t, ok)
	assert.Equal(t, "628333@s.whatsapp.net", msg.SenderID)
	assert.True(t, msg.FromMe)
}
