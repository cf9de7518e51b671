package membership

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotus-md/internal/domain"
	"lotus-md/internal/usecase/eventbus"
)

type sent struct {
	chatID string
	msg    domain.OutboundMessage
}

type fakeClient struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (c *fakeClient) Send(_ context.Context, chatID string, msg domain.OutboundMessage) (domain.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{chatID: chatID, msg: msg})
	return domain.MessageRef{}, c.err
}

func (c *fakeClient) all() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sent(nil), c.sent...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func participantsEvent(action domain.ParticipantAction, ids ...string) domain.Event {
	return domain.NewEvent(domain.EventGroupParticipants, "123@g.us", domain.ParticipantsChanged{
		ChatID:       "123@g.us",
		Participants: ids,
		Action:       action,
	})
}

func TestGreeting(t *testing.T) {
	text, ok := Greeting(domain.ParticipantAdd, "62811@s.whatsapp.net")
	assert.True(t, ok)
	assert.Equal(t, "Welcome @62811 to the group!", text)

	text, ok = Greeting(domain.ParticipantRemove, "62811@s.whatsapp.net")
	assert.True(t, ok)
	assert.Equal(t, "Goodbye @62811!", text)

	_, ok = Greeting(domain.ParticipantPromote, "62811@s.whatsapp.net")
	assert.False(t, ok)
}

func TestGreeter_Handle(t *testing.T) {
	client := &fakeClient{}
	g := NewGreeter(client, discard())

	g.Handle(context.Background(), participantsEvent(domain.ParticipantAdd, "1@s.whatsapp.net", "2@s.whatsapp.net"))

	msgs := client.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "123@g.us", msgs[0].chatID)
	assert.Equal(t, "Welcome @1 to the group!", msgs[0].msg.Text)
	assert.Equal(t, []string{"1@s.whatsapp.net"}, msgs[0].msg.Mentions)
	assert.Equal(t, []string{"2@s.whatsapp.net"}, msgs[1].msg.Mentions)
}

func TestGreeter_IgnoresOtherActions(t *testing.T) {
	client := &fakeClient{}
	NewGreeter(client, discard()).Handle(context.Background(), participantsEvent(domain.ParticipantDemote, "1@s.whatsapp.net"))
	assert.Empty(t, client.all())
}

func TestGreeter_SendFailureContinues(t *testing.T) {
	client := &fakeClient{err: errors.New("offline")}
	NewGreeter(client, discard()).Handle(context.Background(), participantsEvent(domain.ParticipantRemove, "1@s.whatsapp.net", "2@s.whatsapp.net"))
	assert.Len(t, client.all(), 2)
}

func TestGreeter_BadPayload(t *testing.T) {
	client := &fakeClient{}
	NewGreeter(client, discard()).Handle(context.Background(), domain.Event{Type: domain.EventGroupParticipants, Payload: []byte("{")})
	assert.Empty(t, client.all())
}

func TestGreeter_Attach(t *testing.T) {
	bus := eventbus.New(discard())
	defer bus.Close()

	client := &fakeClient{}
	detach := NewGreeter(client, discard()).Attach(bus)

	bus.Publish(context.Background(), participantsEvent(domain.ParticipantAdd, "9@s.whatsapp.net"))
	require.Eventually(t, func() bool { return len(client.all()) == 1 }, time.Second, 5*time.Millisecond)

	detach()
	bus.Publish(context.Background(), participantsEvent(domain.ParticipantAdd, "10@s.whatsapp.net"))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, client.all(), 1)
}
