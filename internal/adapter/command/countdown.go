package command

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"lotus-md/internal/domain"
	"lotus-md/internal/usecase/scheduling"
)

const (
	minCountdown   = 5 * time.Second
	maxCountdown   = 24 * time.Hour
	defaultCDLabel = "Countdown"
)

var countdownRe = regexp.MustCompile(`^(\d+)([smhd])$`)

var countdownUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// parseCountdown reads "<n><s|m|h|d>". It does not apply the range limits.
func parseCountdown(s string) (time.Duration, bool) {
	m := countdownRe.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n > 100000 {
		return 0, false
	}
	return time.Duration(n) * countdownUnits[m[2]], true
}

func countdownPrefix(senderID string) string {
	return senderID + "_"
}

func (d *Deps) countdown(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext) error {
	if d.Timers == nil {
		return fmt.Errorf("countdown: %w", domain.ErrUnsupported)
	}
	if len(cc.Args) == 0 {
		_, err := reply(ctx, client, msg, fmt.Sprintf(
			"Please specify a duration.\n\nExamples:\n%[1]scountdown 30s\n%[1]scountdown 5m Tea is ready\n%[1]scountdown 2h Meeting\n%[1]scountdown list\n%[1]scountdown cancel",
			cc.Prefix))
		return err
	}

	switch strings.ToLower(cc.Args[0]) {
	case "list":
		return d.countdownList(ctx, client, msg)
	case "cancel", "stop":
		n := d.Timers.CancelPrefix(countdownPrefix(msg.SenderID))
		text := "You have no active countdowns."
		if n > 0 {
			text = fmt.Sprintf("🛑 Cancelled %s.", plural(n, "countdown"))
		}
		_, err := reply(ctx, client, msg, text)
		return err
	}

	dur, ok := parseCountdown(cc.Args[0])
	if !ok {
		_, err := reply(ctx, client, msg, fmt.Sprintf("❌ Invalid time format. Use a number followed by s, m, h or d.\nExample: %scountdown 10m", cc.Prefix))
		return err
	}
	switch {
	case dur < minCountdown:
		_, err := reply(ctx, client, msg, "❌ Countdown must be at least 5 seconds.")
		return err
	case dur > maxCountdown:
		_, err := reply(ctx, client, msg, "❌ Countdown cannot exceed 1 day. Please use a shorter duration.")
		return err
	}

	label := strings.Join(cc.Args[1:], " ")
	if label == "" {
		label = defaultCDLabel
	}

	chatID, senderID := msg.ChatID, msg.SenderID
	id := countdownPrefix(senderID) + scheduling.NewID()
	err := d.Timers.Schedule(id, dur, func(ctx context.Context) {
		text := fmt.Sprintf("⏰ *Countdown Finished*\n\n*%s*\n\n%s Your countdown has ended!", label, domain.MentionTag(senderID))
		if _, err := client.Send(ctx, chatID, domain.OutboundMessage{Text: text, Mentions: []string{senderID}}); err != nil {
			d.Logger.Warn("countdown notification failed", "id", id, "error", err)
		}
	}, scheduling.WithLabel(label), scheduling.WithChat(chatID))
	if err != nil {
		return fmt.Errorf("schedule countdown: %w", err)
	}

	ends := d.now().Add(dur)
	_, err = reply(ctx, client, msg, fmt.Sprintf(
		"⏰ *Countdown Started*\n\n*Label:* %s\n*Duration:* %s\n*Ends At:* %s\n\nI'll notify you when the countdown ends.",
		label, humanDuration(dur), ends.Format("15:04:05")))
	return err
}

func (d *Deps) countdownList(ctx context.Context, client domain.Client, msg domain.InboundMessage) error {
	pending := d.Timers.Pending(countdownPrefix(msg.SenderID))
	if len(pending) == 0 {
		_, err := reply(ctx, client, msg, "You have no active countdowns.")
		return err
	}

	now := d.now()
	var b strings.Builder
	b.WriteString("⏰ *Active Countdowns*\n")
	for i, t := range pending {
		left := t.FireAt.Sub(now)
		if left < 0 {
			left = 0
		}
		fmt.Fprintf(&b, "\n%d. *%s* - %s left", i+1, t.Label, humanDuration(left))
	}
	_, err := reply(ctx, client, msg, b.String())
	return err
}
