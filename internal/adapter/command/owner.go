package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lotus-md/internal/domain"
	"lotus-md/internal/usecase/supervisor"
)

const ownerOnlyText = "⚠️ This command can only be used by the bot owner."

// exitGrace lets the farewell message leave before the process stops.
const exitGrace = 500 * time.Millisecond

// owner serves the owner plugin: "owner" is public, everything else
// requires cc.IsOwner.
func (d *Deps) owner(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext) error {
	if cc.Command == "owner" || cc.Command == "creator" {
		return d.ownerContact(ctx, client, msg)
	}
	if !cc.IsOwner {
		_, err := reply(ctx, client, msg, ownerOnlyText)
		return err
	}

	switch cc.Command {
	case "restart":
		return d.exit(ctx, client, msg, "🔄 Restarting bot...", supervisor.ExitRestart)
	case "shutdown":
		return d.exit(ctx, client, msg, "👋 Shutting down...", supervisor.ExitOK)
	case "reload":
		return d.reload(ctx, client, msg, cc)
	case "block", "unblock":
		return d.block(ctx, client, msg, cc, cc.Command == "block")
	}
	return fmt.Errorf("owner: %w: %s", domain.ErrNotFound, cc.Command)
}

func (d *Deps) ownerContact(ctx context.Context, client domain.Client, msg domain.InboundMessage) error {
	if len(d.Owners) == 0 {
		_, err := reply(ctx, client, msg, "No bot owner is configured.")
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👤 *%s Owner*\n", d.BotName)
	mentions := make([]string, 0, len(d.Owners))
	for _, o := range d.Owners {
		id, ok := phoneJID(o)
		if !ok {
			continue
		}
		mentions = append(mentions, id)
		fmt.Fprintf(&b, "\n▢ %s", domain.MentionTag(id))
	}
	b.WriteString(d.footer())
	_, err := reply(ctx, client, msg, b.String(), mentions...)
	return err
}

func (d *Deps) exit(ctx context.Context, client domain.Client, msg domain.InboundMessage, text string, code int) error {
	if d.Exit == nil {
		return fmt.Errorf("exit: %w", domain.ErrUnsupported)
	}
	if _, err := reply(ctx, client, msg, text); err != nil {
		d.Logger.Warn("exit notice not delivered", "error", err)
	}
	d.Logger.Info("exit requested by owner", "sender", msg.SenderID, "code", code)
	time.AfterFunc(exitGrace, func() { d.Exit(code) })
	return nil
}

func (d *Deps) reload(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext) error {
	if d.Reloader == nil {
		return fmt.Errorf("reload: %w", domain.ErrUnsupported)
	}
	if len(cc.Args) == 0 {
		_, err := reply(ctx, client, msg, fmt.Sprintf("Please specify a plugin name.\nExample: %sreload ping", cc.Prefix))
		return err
	}

	name := cc.Args[0]
	desc, err := d.Reloader.Reload(ctx, name)
	if err != nil {
		text := fmt.Sprintf("❌ Failed to reload *%s*: %v", name, err)
		if errors.Is(err, domain.ErrNotFound) {
			text = fmt.Sprintf("❌ Plugin *%s* not found.", name)
		}
		_, sendErr := reply(ctx, client, msg, text)
		return sendErr
	}
	_, err = reply(ctx, client, msg, fmt.Sprintf("✅ Reloaded *%s* (%s)", desc.Name(), strings.Join(desc.Commands(), ", ")))
	return err
}

func (d *Deps) block(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext, blocked bool) error {
	blocker, ok := client.(domain.Blocker)
	if !ok {
		return fmt.Errorf("%s: %w", cc.Command, domain.ErrUnsupported)
	}

	users := targets(msg, cc.Args)
	if len(users) == 0 {
		_, err := reply(ctx, client, msg, fmt.Sprintf("Please mention, quote or give the number of the user.\nExample: %s%s @user", cc.Prefix, cc.Command))
		return err
	}

	var errs []error
	done := make([]string, 0, len(users))
	for _, u := range users {
		if err := blocker.SetBlocked(ctx, u, blocked); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		done = append(done, u)
	}

	if len(done) > 0 {
		verb := "Blocked"
		if !blocked {
			verb = "Unblocked"
		}
		tags := make([]string, len(done))
		for i, u := range done {
			tags[i] = domain.MentionTag(u)
		}
		if _, err := reply(ctx, client, msg, fmt.Sprintf("✅ %s %s", verb, strings.Join(tags, ", ")), done...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
