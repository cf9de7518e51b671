package command

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"lotus-md/internal/domain"
)

const defaultCategory = "misc"

var categoryEmoji = map[string]string{
	"core":       "⚙️",
	"admin":      "👑",
	"group":      "👥",
	"downloader": "📥",
	"media":      "📷",
	"tools":      "🔧",
	"fun":        "🎮",
	"games":      "🎲",
	"ai":         "🤖",
	"creator":    "🎨",
	"search":     "🔍",
	"owner":      "👤",
	"info":       "ℹ️",
	"misc":       "🔮",
	"internet":   "🌐",
	"sticker":    "🖼️",
	"converter":  "🔄",
	"education":  "📚",
	"research":   "🔬",
	"developer":  "👨‍💻",
}

func emojiFor(category string) string {
	if e, ok := categoryEmoji[category]; ok {
		return e
	}
	return "🔹"
}

func categoryOf(p *domain.PluginDescriptor) string {
	if c := strings.ToLower(strings.TrimSpace(p.Category())); c != "" {
		return c
	}
	return defaultCategory
}

// compareCategories orders core first, research second, the rest by name.
func compareCategories(a, b string) int {
	rank := func(c string) int {
		switch c {
		case "core":
			return 0
		case "research":
			return 1
		}
		return 2
	}
	if c := cmp.Compare(rank(a), rank(b)); c != 0 {
		return c
	}
	return cmp.Compare(a, b)
}

// groupByCategory buckets plugins and returns the ordered category names.
func groupByCategory(plugins []*domain.PluginDescriptor) ([]string, map[string][]*domain.PluginDescriptor) {
	groups := make(map[string][]*domain.PluginDescriptor)
	for _, p := range plugins {
		c := categoryOf(p)
		groups[c] = append(groups[c], p)
	}
	names := make([]string, 0, len(groups))
	for c := range groups {
		names = append(names, c)
	}
	slices.SortFunc(names, compareCategories)
	return names, groups
}

func primaryCommand(p *domain.PluginDescriptor) string {
	if cmds := p.Commands(); len(cmds) > 0 {
		return cmds[0]
	}
	return p.Name()
}

func summary(p *domain.PluginDescriptor, prefix string) string {
	line := fmt.Sprintf("▢ *%s%s*", prefix, primaryCommand(p))
	if p.Description() != "" {
		line += " - " + p.Description()
	}
	return line
}

func (d *Deps) header(title string, msg domain.InboundMessage, cc domain.CommandContext) *strings.Builder {
	var b strings.Builder
	fmt.Fprintf(&b, "╭───「 %s 」───\n│\n", title)
	fmt.Fprintf(&b, "│ Hello %s!\n│\n", cc.DisplayName)
	fmt.Fprintf(&b, "│ *Prefix:* %s\n", cc.Prefix)
	fmt.Fprintf(&b, "│ *User:* %s\n", domain.MentionTag(msg.SenderID))
	return &b
}

func (d *Deps) help(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext) error {
	if len(cc.Args) > 0 {
		return d.helpFor(ctx, client, msg, cc, strings.ToLower(strings.TrimPrefix(cc.Args[0], cc.Prefix)))
	}

	names, groups := groupByCategory(d.Plugins.List())
	b := d.header("*"+strings.ToUpper(d.BotName)+"*", msg, cc)
	for _, c := range names {
		fmt.Fprintf(b, "│\n│ %s *%s COMMANDS*\n│\n", emojiFor(c), strings.ToUpper(c))
		for _, p := range groups[c] {
			fmt.Fprintf(b, "│ %s\n", summary(p, cc.Prefix))
		}
	}
	b.WriteString("│\n╰───────────────────────\n\n")
	fmt.Fprintf(b, "_Type %shelp <command> for detailed information_", cc.Prefix)
	b.WriteString(d.footer())

	_, err := reply(ctx, client, msg, b.String(), msg.SenderID)
	return err
}

func (d *Deps) helpFor(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext, name string) error {
	p, ok := d.Plugins.Lookup(name)
	if !ok {
		_, err := reply(ctx, client, msg, fmt.Sprintf("❌ Command *%s%s* not found.\n\nType %shelp to see all commands.", cc.Prefix, name, cc.Prefix))
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Command: %s%s*\n\n", cc.Prefix, name)
	fmt.Fprintf(&b, "*Plugin:* %s\n", p.Name())
	fmt.Fprintf(&b, "*Category:* %s\n", categoryOf(p))
	if p.Description() != "" {
		fmt.Fprintf(&b, "*Description:* %s\n", p.Description())
	}
	if p.Usage() != "" {
		fmt.Fprintf(&b, "*Usage:* %s%s\n", cc.Prefix, p.Usage())
	}
	var aliases []string
	for _, c := range p.Commands() {
		if c != name {
			aliases = append(aliases, cc.Prefix+c)
		}
	}
	if len(aliases) > 0 {
		fmt.Fprintf(&b, "*Aliases:* %s\n", strings.Join(aliases, ", "))
	}

	_, err := reply(ctx, client, msg, strings.TrimRight(b.String(), "\n"))
	return err
}

func (d *Deps) menu(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext) error {
	plugins := d.Plugins.List()
	names, groups := groupByCategory(plugins)

	if want := strings.ToLower(cc.Text); want != "" {
		if list, ok := groups[want]; ok {
			b := d.header(fmt.Sprintf("%s *%s - %s*", emojiFor(want), strings.ToUpper(d.BotName), strings.ToUpper(want)), msg, cc)
			fmt.Fprintf(b, "│\n│ *%s COMMANDS*\n", strings.ToUpper(want))
			for _, p := range list {
				fmt.Fprintf(b, "│\n│ %s\n", summary(p, cc.Prefix))
			}
			b.WriteString("│\n╰───────────────────────\n\n")
			fmt.Fprintf(b, "_Type %shelp <command> for detailed information_", cc.Prefix)
			b.WriteString(d.footer())
			_, err := reply(ctx, client, msg, b.String(), msg.SenderID)
			return err
		}
	}

	b := d.header("🌸 *"+strings.ToUpper(d.BotName)+" MENU*", msg, cc)
	fmt.Fprintf(b, "│ *Time:* %s\n│\n│ *COMMAND CATEGORIES*\n", d.now().Format("15:04:05"))
	total := 0
	for _, c := range names {
		n := len(groups[c])
		total += n
		fmt.Fprintf(b, "│\n│ %s *%s* - %s\n", emojiFor(c), strings.ToUpper(c), plural(n, "command"))
	}
	b.WriteString("│\n│\n")
	fmt.Fprintf(b, "│ Send *%smenu <category>* to see specific commands\n", cc.Prefix)
	if len(names) > 0 {
		fmt.Fprintf(b, "│ Example: *%smenu %s*\n", cc.Prefix, names[0])
	}
	fmt.Fprintf(b, "│\n│ *Total Commands:* %d\n", total)
	if d.Version != "" {
		fmt.Fprintf(b, "│ *Bot Version:* %s\n", d.Version)
	}
	b.WriteString("│\n╰───────────────────────")
	b.WriteString(d.footer())

	_, err := reply(ctx, client, msg, b.String(), msg.SenderID)
	return err
}
