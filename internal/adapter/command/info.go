package command

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"lotus-md/internal/domain"
)

func (d *Deps) info(ctx context.Context, client domain.Client, msg domain.InboundMessage, cc domain.CommandContext) error {
	now := d.now()
	plugins := d.Plugins.List()
	commands := 0
	for _, p := range plugins {
		commands += len(p.Commands())
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var b strings.Builder
	fmt.Fprintf(&b, "╭───「 *%s INFO* 」───\n│\n", strings.ToUpper(d.BotName))
	fmt.Fprintf(&b, "│ *Bot Name:* %s\n", d.BotName)
	fmt.Fprintf(&b, "│ *Uptime:* %s\n", humanDuration(now.Sub(d.Started)))
	if d.Version != "" {
		fmt.Fprintf(&b, "│ *Version:* %s\n", d.Version)
	}
	fmt.Fprintf(&b, "│ *Prefix:* %s\n", cc.Prefix)
	fmt.Fprintf(&b, "│ *Time:* %s\n", now.Format("15:04:05"))
	fmt.Fprintf(&b, "│ *Date:* %s\n│\n", now.Format("02/01/2006"))
	fmt.Fprintf(&b, "│ *Plugins:* %d\n", len(plugins))
	fmt.Fprintf(&b, "│ *Commands:* %d\n│\n", commands)

	b.WriteString("│ ⚡ *SYSTEM INFO* ⚡\n│\n")
	fmt.Fprintf(&b, "│ *Platform:* %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "│ *Go Version:* %s\n", runtime.Version())
	fmt.Fprintf(&b, "│ *CPUs:* %d\n", runtime.NumCPU())
	fmt.Fprintf(&b, "│ *Goroutines:* %d\n", runtime.NumGoroutine())
	fmt.Fprintf(&b, "│ *Memory:* %.1f MB\n│\n", float64(mem.Alloc)/(1<<20))

	if d.Stats != nil {
		snap := d.Stats.Snapshot()
		b.WriteString("│ ⚡ *STATISTICS* ⚡\n│\n")
		fmt.Fprintf(&b, "│ *Commands Used:* %d\n", snap.Total)
		fmt.Fprintf(&b, "│ *Failed:* %d\n", snap.Failed)
		fmt.Fprintf(&b, "│ *Throttled:* %d\n", snap.Throttled)
		if top := snap.Top(3); len(top) > 0 {
			parts := make([]string, len(top))
			for i, c := range top {
				parts[i] = fmt.Sprintf("%s%s (%d)", cc.Prefix, c.Command, c.Count)
			}
			fmt.Fprintf(&b, "│ *Top:* %s\n", strings.Join(parts, ", "))
		}
		b.WriteString("│\n")
	}
	b.WriteString("╰───────────────────────")
	b.WriteString(d.footer())

	_, err := reply(ctx, client, msg, b.String())
	return err
}
