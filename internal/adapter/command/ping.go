package command

import (
	"context"
	"fmt"

	"lotus-md/internal/domain"
)

const pingProbe = "🔄 Testing ping..."

// pingTier grades a round trip in milliseconds.
func pingTier(ms int64) (icon, status string) {
	switch {
	case ms < 300:
		return "⚡", "Excellent"
	case ms < 600:
		return "🚀", "Good"
	case ms < 1000:
		return "🟢", "Average"
	default:
		return "🔴", "Poor"
	}
}

func (d *Deps) ping(ctx context.Context, client domain.Client, msg domain.InboundMessage, _ domain.CommandContext) error {
	start := d.now()
	ref, err := reply(ctx, client, msg, pingProbe)
	if err != nil {
		return err
	}
	ms := d.now().Sub(start).Milliseconds()

	icon, status := pingTier(ms)
	return edit(ctx, client, ref, fmt.Sprintf("%s *PING: %dms*\n\n*Status:* %s", icon, ms, status))
}
