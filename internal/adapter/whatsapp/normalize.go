package whatsapp

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"lotus-md/internal/domain"
)

// Messages sent by other bots built on the same protocol library carry
// 16-character IDs starting with this prefix.
const botEchoPrefix = "BAE5"

// Normalize turns a raw message event into an InboundMessage. It reports
// false for events the bot must never see: empty payloads, status
// broadcasts and echoes from other bot clients.
func Normalize(evt *events.Message) (domain.InboundMessage, bool) {
	if evt == nil {
		return domain.InboundMessage{}, false
	}
	m := evt.Message
	if inner := m.GetEphemeralMessage().GetMessage(); inner != nil {
		m = inner
	}
	if m == nil {
		return domain.InboundMessage{}, false
	}

	info := evt.Info
	if info.Chat.String() == types.StatusBroadcastJID.String() {
		return domain.InboundMessage{}, false
	}
	if len(info.ID) == 16 && strings.HasPrefix(info.ID, botEchoPrefix) {
		return domain.InboundMessage{}, false
	}

	msg := domain.InboundMessage{
		ID:        info.ID,
		ChatID:    info.Chat.String(),
		SenderID:  info.Sender.ToNonAD().String(),
		PushName:  info.PushName,
		IsGroup:   info.IsGroup,
		FromMe:    info.IsFromMe,
		Type:      messageType(m),
		Body:      messageBody(m),
		Timestamp: info.Timestamp,
	}
	ci := contextInfo(m)
	msg.Mentions = ci.GetMentionedJID()
	if ci.GetStanzaID() != "" {
		msg.Quoted = &domain.QuotedMessage{
			ID:       ci.GetStanzaID(),
			SenderID: ci.GetParticipant(),
			Body:     messageBody(ci.GetQuotedMessage()),
		}
	}
	return msg, true
}

func messageType(m *waE2E.Message) domain.MessageType {
	switch {
	case m.Conversation != nil:
		return domain.MessageTypeConversation
	case m.ExtendedTextMessage != nil:
		return domain.MessageTypeExtendedText
	case m.ImageMessage != nil:
		return domain.MessageTypeImage
	case m.VideoMessage != nil:
		return domain.MessageTypeVideo
	case m.AudioMessage != nil:
		return domain.MessageTypeAudio
	case m.DocumentMessage != nil:
		return domain.MessageTypeDocument
	case m.StickerMessage != nil:
		return domain.MessageTypeSticker
	default:
		return domain.MessageTypeUnknown
	}
}

// messageBody picks the first text-bearing field. Nil-safe.
func messageBody(m *waE2E.Message) string {
	switch {
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetImageMessage().GetCaption() != "":
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage().GetCaption() != "":
		return m.GetVideoMessage().GetCaption()
	default:
		return m.GetExtendedTextMessage().GetText()
	}
}

func contextInfo(m *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetContextInfo()
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetContextInfo()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetContextInfo()
	case m.GetAudioMessage() != nil:
		return m.GetAudioMessage().GetContextInfo()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetContextInfo()
	case m.GetStickerMessage() != nil:
		return m.GetStickerMessage().GetContextInfo()
	}
	return nil
}
