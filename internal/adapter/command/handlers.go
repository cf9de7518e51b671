// Package command provides the built-in chat command handlers. Each handler
// is registered in the plugin catalog under a key that manifests reference
// with `handler: <key>`.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lotus-md/internal/adapter/httpclient"
	"lotus-md/internal/domain"
	"lotus-md/internal/plugin"
	usecmd "lotus-md/internal/usecase/command"
	"lotus-md/internal/usecase/scheduling"
)

// Catalog keys.
const (
	KeyPing       = "ping"
	KeyHelp       = "help"
	KeyMenu       = "menu"
	KeyInfo       = "info"
	KeyCalculator = "calculator"
	KeyCountdown  = "countdown"
	KeyOwner      = "owner"
	KeyGroup      = "group"
	KeyCurrency   = "currency"
	KeyWeather    = "weather"
)

// PluginSource exposes the loaded plugin set.
type PluginSource interface {
	List() []*domain.PluginDescriptor
	Lookup(cmd string) (*domain.PluginDescriptor, bool)
}

// StatsSource exposes dispatch counters.
type StatsSource interface {
	Snapshot() usecmd.StatsSnapshot
}

// Reloader reloads one plugin by name.
type Reloader interface {
	Reload(ctx context.Context, name string) (*domain.PluginDescriptor, error)
}

// TimerTable is the subset of scheduling.Timers the countdown command uses.
type TimerTable interface {
	Schedule(id string, d time.Duration, fn func(ctx context.Context), opts ...scheduling.TimerOption) error
	Pending(prefix string) []scheduling.TimerInfo
	CancelPrefix(prefix string) int
}

// Deps carries everything the built-in handlers need.
type Deps struct {
	BotName string
	Version string
	Footer  string
	Owners  []string
	Started time.Time

	Plugins  PluginSource
	Stats    StatsSource
	Reloader Reloader
	Timers   TimerTable

	// Exit asks the process to stop with the given exit code.
	Exit func(code int)

	Weather        *httpclient.Client
	WeatherAPIKey  string
	WeatherBaseURL string

	Logger *slog.Logger
	Now    func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) footer() string {
	if d.Footer == "" {
		return ""
	}
	return "\n\n*" + d.BotName + "* • " + d.Footer
}

// Register adds every built-in handler to catalog.
func Register(catalog *plugin.Catalog, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	d := &deps
	handlers := map[string]domain.CommandHandler{
		KeyPing:       domain.HandlerFunc(d.ping),
		KeyHelp:       domain.HandlerFunc(d.help),
		KeyMenu:       domain.HandlerFunc(d.menu),
		KeyInfo:       domain.HandlerFunc(d.info),
		KeyCalculator: domain.HandlerFunc(d.calculator),
		KeyCountdown:  domain.HandlerFunc(d.countdown),
		KeyOwner:      domain.HandlerFunc(d.owner),
		KeyGroup:      domain.HandlerFunc(d.group),
		KeyCurrency:   domain.HandlerFunc(d.currency),
		KeyWeather:    domain.HandlerFunc(d.weather),
	}
	for key, h := range handlers {
		if err := catalog.Register(key, h); err != nil {
			return fmt.Errorf("register %s: %w", key, err)
		}
	}
	return nil
}

func reply(ctx context.Context, client domain.Client, msg domain.InboundMessage, text string, mentions ...string) (domain.MessageRef, error) {
	return client.Send(ctx, msg.ChatID, domain.OutboundMessage{Text: text, Mentions: mentions})
}

// edit replaces the text of a message sent earlier in the same chat.
func edit(ctx context.Context, client domain.Client, ref domain.MessageRef, text string) error {
	_, err := client.Send(ctx, ref.ChatID, domain.OutboundMessage{Text: text, EditID: ref.ID})
	return err
}

// targets resolves who a moderation command acts on: mentions first, then
// the author of the quoted message, then phone numbers in args.
func targets(msg domain.InboundMessage, args []string) []string {
	if len(msg.Mentions) > 0 {
		return msg.Mentions
	}
	if msg.Quoted != nil && msg.Quoted.SenderID != "" {
		return []string{msg.Quoted.SenderID}
	}
	var out []string
	for _, a := range args {
		if id, ok := phoneJID(a); ok {
			out = append(out, id)
		}
	}
	return out
}

// phoneJID turns "+62 812-3456" or "@628123456" into a user JID.
func phoneJID(s string) (string, bool) {
	if strings.Contains(s, "@") && !strings.HasPrefix(s, "@") {
		return s, true
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 5 {
		return "", false
	}
	return digits + "@s.whatsapp.net", true
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// humanDuration renders d in at most two units: "1 hour 5 minutes".
func humanDuration(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	switch {
	case s < 60:
		return plural(s, "second")
	case s < 3600:
		out := plural(s/60, "minute")
		if r := s % 60; r > 0 {
			out += " " + plural(r, "second")
		}
		return out
	case s < 86400:
		out := plural(s/3600, "hour")
		if r := (s % 3600) / 60; r > 0 {
			out += " " + plural(r, "minute")
		}
		return out
	default:
		out := plural(s/86400, "day")
		if r := (s % 86400) / 3600; r > 0 {
			out += " " + plural(r, "hour")
		}
		return out
	}
}
