package whatsapp

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"lotus-md/internal/domain"
	"lotus-md/internal/infra/logger"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want []domain.TransportEvent
	}{
		{name: "connected", raw: &events.Connected{}, want: []domain.TransportEvent{domain.ConnectionOpened{}}},
		{name: "disconnected", raw: &events.Disconnected{}, want: []domain.TransportEvent{domain.ConnectionClosed{Reason: "connection lost"}}},
		{name: "stream replaced", raw: &events.StreamReplaced{}, want: []domain.TransportEvent{domain.ConnectionClosed{Reason: "stream replaced"}}},
		{name: "pair success", raw: &events.PairSuccess{}, want: []domain.TransportEvent{domain.CredentialsUpdated{}}},
		{name: "keepalive timeout", raw: &events.KeepAliveTimeout{}},
		{name: "unrelated", raw: &events.Receipt{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, translate(tt.raw))
		})
	}
}

func TestTranslateLoggedOut(t *testing.T) {
	got := translate(&events.LoggedOut{Reason: events.ConnectFailureLoggedOut})
	require.Len(t, got, 1)
	closed, ok := got[0].(domain.ConnectionClosed)
	require.True(t, ok)
	assert.True(t, closed.LoggedOut)
	assert.Contains(t, closed.Reason, "logged out")
}

func TestTranslateConnectFailure(t *testing.T) {
	got := translate(&events.ConnectFailure{Reason: events.ConnectFailureServiceUnavailable})
	require.Len(t, got, 1)
	closed := got[0].(domain.ConnectionClosed)
	assert.False(t, closed.LoggedOut)
	assert.Contains(t, closed.Reason, "connect failure")

	got = translate(&events.ConnectFailure{Reason: events.ConnectFailureLoggedOut})
	assert.True(t, got[0].(domain.ConnectionClosed).LoggedOut)
}

func TestGroupChanges(t *testing.T) {
	alice := types.NewJID("628111", types.DefaultUserServer)
	bob := types.JID{User: "628222", Device: 3, Server: types.DefaultUserServer}

	got := translate(&events.GroupInfo{
		JID:   groupJID,
		Join:  []types.JID{alice, bob},
		Leave: []types.JID{alice},
	})

	require.Len(t, got, 2)
	assert.Equal(t, domain.ParticipantsChanged{
		ChatID:       groupJID.String(),
		Participants: []string{"628111@s.whatsapp.net", "628222@s.whatsapp.net"},
		Action:       domain.ParticipantAdd,
	}, got[0])
	assert.Equal(t, domain.ParticipantRemove, got[1].(domain.ParticipantsChanged).Action)

	assert.Empty(t, translate(&events.GroupInfo{JID: groupJID}))
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []domain.TransportEvent
}

func (r *sinkRecorder) sink(_ context.Context, ev domain.TransportEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func newTestTransport() (*Transport, *sinkRecorder) {
	rec := &sinkRecorder{}
	tr := &Transport{
		client: newClient(nil),
		logger: logger.Discard(),
		base:   context.Background(),
	}
	tr.SetEventSink(rec.sink)
	return tr, rec
}

func TestHandleEventMessage(t *testing.T) {
	tr, rec := newTestTransport()

	tr.handleEvent(messageEvent("3EB0AAAA", userJID, &waE2E.Message{Conversation: proto.String(".ping")}))
	tr.handleEvent(messageEvent("3EB0AAAB", types.StatusBroadcastJID, &waE2E.Message{Conversation: proto.String("story")}))

	require.Len(t, rec.events, 1)
	got := rec.events[0].(domain.MessageReceived)
	assert.Equal(t, ".ping", got.Message.Body)

	ref, ok := tr.client.quotes.get("3EB0AAAA")
	require.True(t, ok)
	assert.Equal(t, "628111@s.whatsapp.net", ref.participant)
	assert.Equal(t, ".ping", ref.message.GetConversation())
}

func TestHandleEventLoggedOutBlocksConnect(t *testing.T) {
	tr, rec := newTestTransport()

	tr.handleEvent(&events.LoggedOut{Reason: events.ConnectFailureLoggedOut})

	require.Len(t, rec.events, 1)
	assert.True(t, rec.events[0].(domain.ConnectionClosed).LoggedOut)
	err := tr.Connect(context.Background())
	assert.True(t, errors.Is(err, domain.ErrLoggedOut))
}

func TestHandleEventWithoutSink(t *testing.T) {
	tr := &Transport{client: newClient(nil), logger: logger.Discard(), base: context.Background()}
	assert.NotPanics(t, func() { tr.handleEvent(&events.Connected{}) })
}

func TestOpenRequiresSessionPath(t *testing.T) {
	_, err := Open(context.Background(), Options{}, logger.Discard())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
