package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#00838f", Dark: "#4dd0e1"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	colorOK     = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(1, 4).
			Align(lipgloss.Center)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorOK)
)

func bannerText() string {
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center,
		titleStyle.Render("█▓▒▒░░░ LOTUS MD ░░░▒▒▓█"),
		"",
		mutedStyle.Render("Powered By Lotus Mansion"),
	))
}

func printBanner(w io.Writer) {
	fmt.Fprintln(w, bannerText())
}

func onlineText(name, prefix string, plugins int) string {
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center,
		okStyle.Render(name+" is now online! 🌸"),
		"",
		mutedStyle.Render(fmt.Sprintf("prefix %q • %d plugins", prefix, plugins)),
	))
}

func printOnline(w io.Writer, name, prefix string, plugins int) {
	fmt.Fprintln(w, onlineText(name, prefix, plugins))
}
