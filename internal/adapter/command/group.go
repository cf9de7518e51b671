package command

import (
	"context"
	"fmt"
	"strings"

	"lotus-md/internal/domain"
)

const groupOnlyText = "⚠️ This command can only be used in groups."

// participantActions maps moderation commands to membership changes.
var participantActions = map[string]domain.ParticipantAction{
	"add":     domain.ParticipantAdd,
	"kick":    domain.ParticipantRemove,
	"remove":  domain.ParticipantRemove,
	"promote": domain.ParticipantPromote,
	"demote":  domain.ParticipantDemote,
}

var actionVerb = map[domain.ParticipantAction]string{
	domain.ParticipantAdd:     "Added",
	domain.ParticipantRemove:  "Removed",
	domain.ParticipantPromote: "Promoted",
	domain.ParticipantDemote:  "Demoted",
}

func isAdmin(info *domain.GroupInfo, userID string) bool {
	user := domain.UserPart(userID)
	for _, p := range info.Participants {
		if domain.UserPart(p.ID) == user {
			return p.IsAdmin
		}
	}
	return false
}

func (d *Deps) group(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext) error {
	if !msg.IsGroup {
		_, err := reply(ctx, client, msg, groupOnlyText)
		return err
	}
	admin, ok := client.(domain.GroupAdmin)
	if !ok {
		return fmt.Errorf("%s: %w", cc.Command, domain.ErrUnsupported)
	}

	info, err := admin.GroupInfo(ctx, msg.ChatID)
	if err != nil {
		return fmt.Errorf("group info: %w", err)
	}

	switch cc.Command {
	case "groupinfo", "ginfo":
		return d.groupInfo(ctx, client, msg, info)
	}

	if !cc.IsOwner && !isAdmin(info, msg.SenderID) {
		_, err := reply(ctx, client, msg, "⚠️ This command can only be used by group admins.")
		return err
	}

	if cc.Command == "link" || cc.Command == "grouplink" {
		link, err := admin.InviteLink(ctx, msg.ChatID)
		if err != nil {
			return fmt.Errorf("invite link: %w", err)
		}
		_, err = reply(ctx, client, msg, fmt.Sprintf("🔗 *%s*\n\n%s", info.Name, link))
		return err
	}

	action, ok := participantActions[cc.Command]
	if !ok {
		return fmt.Errorf("group: %w: %s", domain.ErrNotFound, cc.Command)
	}
	return d.moderate(ctx, client, admin, msg, cc, info, action)
}

func (d *Deps) groupInfo(ctx context.Context, client domain.Client, msg domain.InboundMessage, info *domain.GroupInfo) error {
	admins := make([]string, 0)
	for _, p := range info.Participants {
		if p.IsAdmin {
			admins = append(admins, p.ID)
		}
	}

	var b strings.Builder
	b.WriteString("👥 *Group Info*\n\n")
	fmt.Fprintf(&b, "*Name:* %s\n", info.Name)
	fmt.Fprintf(&b, "*Members:* %d\n", len(info.Participants))
	if info.OwnerID != "" {
		fmt.Fprintf(&b, "*Owner:* %s\n", domain.MentionTag(info.OwnerID))
	}
	if len(admins) > 0 {
		b.WriteString("*Admins:*\n")
		for _, a := range admins {
			fmt.Fprintf(&b, "▢ %s\n", domain.MentionTag(a))
		}
	}
	if info.Topic != "" {
		fmt.Fprintf(&b, "\n*Description:*\n%s\n", info.Topic)
	}

	mentions := admins
	if info.OwnerID != "" && !isAdmin(info, info.OwnerID) {
		mentions = append(mentions, info.OwnerID)
	}
	_, err := reply(ctx, client, msg, strings.TrimRight(b.String(), "\n"), mentions...)
	return err
}

func (d *Deps) moderate(ctx context.Context, client domain.Client, admin domain.GroupAdmin, msg domain.InboundMessage, cc domain.CommandContext, info *domain.GroupInfo, action domain.ParticipantAction) error {
	users := targets(msg, cc.Args)
	if len(users) == 0 {
		_, err := reply(ctx, client, msg, fmt.Sprintf("Please mention, quote or give the number of the user.\nExample: %s%s @user", cc.Prefix, cc.Command))
		return err
	}

	var skipped []string
	apply := make([]string, 0, len(users))
	for _, u := range users {
		wasAdmin := isAdmin(info, u)
		switch {
		case action == domain.ParticipantRemove && wasAdmin:
			skipped = append(skipped, fmt.Sprintf("%s is an admin and cannot be removed", domain.MentionTag(u)))
		case action == domain.ParticipantPromote && wasAdmin:
			skipped = append(skipped, fmt.Sprintf("%s is already an admin", domain.MentionTag(u)))
		case action == domain.ParticipantDemote && !wasAdmin:
			skipped = append(skipped, fmt.Sprintf("%s is not an admin", domain.MentionTag(u)))
		default:
			apply = append(apply, u)
		}
	}

	var b strings.Builder
	if len(apply) > 0 {
		if err := admin.UpdateParticipants(ctx, msg.ChatID, apply, action); err != nil {
			return fmt.Errorf("%s participants: %w", action, err)
		}
		tags := make([]string, len(apply))
		for i, u := range apply {
			tags[i] = domain.MentionTag(u)
		}
		fmt.Fprintf(&b, "✅ %s %s", actionVerb[action], strings.Join(tags, ", "))
	}
	for _, s := range skipped {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("⚠️ " + s)
	}

	_, err := reply(ctx, client, msg, b.String(), users...)
	return err
}
