// Package membership greets members joining a group and says goodbye to
// those leaving.
package membership

import (
	"context"
	"encoding/json"
	"log/slog"

	"lotus-md/internal/domain"
)

// Greeter sends welcome and farewell texts for group.participants events.
// Delivery is best effort; failures are only logged.
type Greeter struct {
	client domain.Client
	logger *slog.Logger
}

// NewGreeter creates a greeter that replies through client.
func NewGreeter(client domain.Client, logger *slog.Logger) *Greeter {
	return &Greeter{client: client, logger: logger.With("component", "greeter")}
}

// Attach subscribes the greeter to bus and returns the unsubscribe func.
func (g *Greeter) Attach(bus domain.EventBus) func() {
	return bus.Subscribe(domain.EventGroupParticipants, g.Handle)
}

// Handle processes one group.participants event.
func (g *Greeter) Handle(ctx context.Context, ev domain.Event) {
	var change domain.ParticipantsChanged
	if err := json.Unmarshal(ev.Payload, &change); err != nil {
		g.logger.Warn("bad participants payload", "error", err)
		return
	}
	if change.ChatID == "" {
		change.ChatID = ev.ChatID
	}

	for _, p := range change.Participants {
		text, ok := Greeting(change.Action, p)
		if !ok {
			continue
		}
		out := domain.OutboundMessage{Text: text, Mentions: []string{p}}
		if _, err := g.client.Send(ctx, change.ChatID, out); err != nil {
			g.logger.Warn("greeting failed",
				"chat", change.ChatID,
				"participant", p,
				"action", change.Action,
				"error", err,
			)
		}
	}
}

// Greeting returns the text for a membership change. Promotions and
// demotions are not announced.
func Greeting(action domain.ParticipantAction, participant string) (string, bool) {
	switch action {
	case domain.ParticipantAdd:
		return "Welcome " + domain.MentionTag(participant) + " to the group!", true
	case domain.ParticipantRemove:
		return "Goodbye " + domain.MentionTag(participant) + "!", true
	default:
		return "", false
	}
}
