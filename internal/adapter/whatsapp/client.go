package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"lotus-md/internal/domain"
)

// Client is the domain.Client implementation backed by a whatsmeow session.
// It also provides typing indicators, blocklist and group management.
type Client struct {
	wa     *whatsmeow.Client
	quotes *quoteCache
}

// Compile-time interface checks.
var (
	_ domain.Client     = (*Client)(nil)
	_ domain.Presencer  = (*Client)(nil)
	_ domain.Blocker    = (*Client)(nil)
	_ domain.GroupAdmin = (*Client)(nil)
)

func newClient(wa *whatsmeow.Client) *Client {
	return &Client{wa: wa, quotes: newQuoteCache(quoteCacheSize)}
}

// Send delivers msg to chatID. EditID and RevokeID turn the send into an
// edit or a delete-for-everyone of an earlier message.
func (c *Client) Send(ctx context.Context, chatID string, msg domain.OutboundMessage) (domain.MessageRef, error) {
	if !c.wa.IsConnected() {
		return domain.MessageRef{}, domain.ErrNotConnected
	}
	chat, err := parseJID(chatID)
	if err != nil {
		return domain.MessageRef{}, err
	}

	var payload *waE2E.Message
	switch {
	case msg.RevokeID != "":
		payload = c.wa.BuildRevoke(chat, types.EmptyJID, msg.RevokeID)
	case msg.EditID != "":
		payload = c.wa.BuildEdit(chat, msg.EditID, buildContent(msg, nil))
	default:
		var quoted *quotedRef
		if msg.QuotedID != "" {
			if ref, ok := c.quotes.get(msg.QuotedID); ok {
				quoted = &ref
			} else {
				quoted = &quotedRef{id: msg.QuotedID}
			}
		}
		payload = buildContent(msg, quoted)
	}

	resp, err := c.wa.SendMessage(ctx, chat, payload)
	if err != nil {
		return domain.MessageRef{}, fmt.Errorf("send to %s: %w", chat, err)
	}
	return domain.MessageRef{ID: resp.ID, ChatID: chat.String(), Timestamp: resp.Timestamp}, nil
}

// SetTyping shows or clears the composing indicator.
func (c *Client) SetTyping(ctx context.Context, chatID string, typing bool) error {
	chat, err := parseJID(chatID)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	return c.wa.SendChatPresence(ctx, chat, state, types.ChatPresenceMediaText)
}

// SetBlocked adds userID to or removes it from the account blocklist.
func (c *Client) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	jid, err := parseJID(userID)
	if err != nil {
		return err
	}
	action := events.BlocklistChangeActionUnblock
	if blocked {
		action = events.BlocklistChangeActionBlock
	}
	if _, err := c.wa.UpdateBlocklist(ctx, jid, action); err != nil {
		return fmt.Errorf("update blocklist: %w", err)
	}
	return nil
}

// GroupInfo fetches group metadata.
func (c *Client) GroupInfo(ctx context.Context, chatID string) (*domain.GroupInfo, error) {
	jid, err := parseGroupJID(chatID)
	if err != nil {
		return nil, err
	}
	info, err := c.wa.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("group info: %w", err)
	}
	return convertGroupInfo(info), nil
}

// InviteLink returns the current invite link without resetting it.
func (c *Client) InviteLink(ctx context.Context, chatID string) (string, error) {
	jid, err := parseGroupJID(chatID)
	if err != nil {
		return "", err
	}
	link, err := c.wa.GetGroupInviteLink(ctx, jid, false)
	if err != nil {
		return "", fmt.Errorf("invite link: %w", err)
	}
	return link, nil
}

// UpdateParticipants adds, removes, promotes or demotes userIDs. Per-user
// rejections are joined into the returned error.
func (c *Client) UpdateParticipants(ctx context.Context, chatID string, userIDs []string, action domain.ParticipantAction) error {
	jid, err := parseGroupJID(chatID)
	if err != nil {
		return err
	}
	change, err := participantChange(action)
	if err != nil {
		return err
	}
	jids := make([]types.JID, 0, len(userIDs))
	for _, id := range userIDs {
		u, err := parseJID(id)
		if err != nil {
			return err
		}
		jids = append(jids, u)
	}

	results, err := c.wa.UpdateGroupParticipants(ctx, jid, jids, change)
	if err != nil {
		return fmt.Errorf("update participants: %w", err)
	}
	var errs []error
	for _, p := range results {
		if p.Error != 0 {
			errs = append(errs, fmt.Errorf("%s: status %d", p.JID.User, p.Error))
		}
	}
	return errors.Join(errs...)
}

// remember keeps enough of an inbound message to quote it later.
func (c *Client) remember(msg domain.InboundMessage, raw *waE2E.Message) {
	c.quotes.put(quotedRef{id: msg.ID, participant: msg.SenderID, message: raw})
}

// buildContent renders text, mentions and an optional quote into a message
// payload. Plain text without context uses the compact conversation field.
func buildContent(msg domain.OutboundMessage, quoted *quotedRef) *waE2E.Message {
	if len(msg.Mentions) == 0 && quoted == nil {
		return &waE2E.Message{Conversation: proto.String(msg.Text)}
	}

	ci := &waE2E.ContextInfo{}
	for _, m := range msg.Mentions {
		if jid, err := parseJID(m); err == nil {
			ci.MentionedJID = append(ci.MentionedJID, jid.String())
		}
	}
	if quoted != nil {
		ci.StanzaID = proto.String(quoted.id)
		if quoted.participant != "" {
			ci.Participant = proto.String(quoted.participant)
		}
		if quoted.message != nil {
			ci.QuotedMessage = quoted.message
		}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(msg.Text),
			ContextInfo: ci,
		},
	}
}

// parseJID accepts full JIDs and bare phone numbers.
func parseJID(id string) (types.JID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.JID{}, fmt.Errorf("%w: empty jid", domain.ErrInvalidInput)
	}
	if !strings.Contains(id, "@") {
		user := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, id)
		if user == "" {
			return types.JID{}, fmt.Errorf("%w: invalid jid %q", domain.ErrInvalidInput, id)
		}
		return types.NewJID(user, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		return types.JID{}, fmt.Errorf("%w: invalid jid %q: %w", domain.ErrInvalidInput, id, err)
	}
	return jid, nil
}

func parseGroupJID(id string) (types.JID, error) {
	jid, err := parseJID(id)
	if err != nil {
		return jid, err
	}
	if jid.Server != types.GroupServer {
		return types.JID{}, fmt.Errorf("%w: %s is not a group", domain.ErrInvalidInput, id)
	}
	return jid, nil
}

func participantChange(action domain.ParticipantAction) (whatsmeow.ParticipantChange, error) {
	switch action {
	case domain.ParticipantAdd:
		return whatsmeow.ParticipantChangeAdd, nil
	case domain.ParticipantRemove:
		return whatsmeow.ParticipantChangeRemove, nil
	case domain.ParticipantPromote:
		return whatsmeow.ParticipantChangePromote, nil
	case domain.ParticipantDemote:
		return whatsmeow.ParticipantChangeDemote, nil
	}
	return "", fmt.Errorf("%w: unknown participant action %q", domain.ErrInvalidInput, action)
}

func convertGroupInfo(info *types.GroupInfo) *domain.GroupInfo {
	out := &domain.GroupInfo{
		ID:      info.JID.String(),
		Name:    info.Name,
		Topic:   info.Topic,
		OwnerID: info.OwnerJID.String(),
	}
	if info.OwnerJID.IsEmpty() {
		out.OwnerID = ""
	}
	for _, p := range info.Participants {
		out.Participants = append(out.Participants, domain.GroupParticipant{
			ID:      p.JID.String(),
			IsAdmin: p.IsAdmin || p.IsSuperAdmin,
		})
	}
	return out
}

const quoteCacheSize = 512

type quotedRef struct {
	id          string
	participant string
	message     *waE2E.Message
}

// quoteCache is a fixed-size FIFO of recent inbound messages.
type quoteCache struct {
	mu    sync.Mutex
	size  int
	order []string
	byID  map[string]quotedRef
}

func newQuoteCache(size int) *quoteCache {
	return &quoteCache{size: size, byID: make(map[string]quotedRef, size)}
}

func (q *quoteCache) put(ref quotedRef) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[ref.id]; !ok {
		q.order = append(q.order, ref.id)
	}
	q.byID[ref.id] = ref
	for len(q.order) > q.size {
		delete(q.byID, q.order[0])
		q.order = q.order[1:]
	}
}

func (q *quoteCache) get(id string) (quotedRef, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ref, ok := q.byID[id]
	return ref, ok
}

// markRead sends a read receipt; failures only matter to the log.
func (c *Client) markRead(ctx context.Context, msg domain.InboundMessage) error {
	chat, err := parseJID(msg.ChatID)
	if err != nil {
		return err
	}
	sender, err := parseJID(msg.SenderID)
	if err != nil {
		return err
	}
	return c.wa.MarkRead(ctx, []types.MessageID{msg.ID}, time.Now(), chat, sender)
}
