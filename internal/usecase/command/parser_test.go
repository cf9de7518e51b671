package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		prefix  string
		matched bool
		command string
		args    []string
		text    string
		rest    string
	}{
		{name: "bare command", body: ".ping", prefix: ".", matched: true, command: "ping", args: []string{}},
		{name: "single arg", body: ".calc 2+2", prefix: ".", matched: true, command: "calc", args: []string{"2+2"}, text: "2+2", rest: "2+2"},
		{name: "no prefix", body: "hello", prefix: ".", args: []string{}},
		{name: "unknown command", body: ".unknowncmd foo", prefix: ".", matched: true, command: "unknowncmd", args: []string{"foo"}, text: "foo", rest: "foo"},
		{name: "prefix only", body: ".", prefix: ".", matched: true, command: "", args: []string{}},
		{name: "prefix then spaces", body: ".   ", prefix: ".", matched: true, command: "", args: []string{}},
		{name: "space after prefix", body: ". ping now", prefix: ".", matched: true, command: "ping", args: []string{"now"}, text: "now", rest: "now"},
		{name: "uppercase command", body: ".PiNg", prefix: ".", matched: true, command: "ping", args: []string{}},
		{name: "args keep case", body: ".say Hello World", prefix: ".", matched: true, command: "say", args: []string{"Hello", "World"}, text: "Hello World", rest: "Hello World"},
		{
			name: "whitespace runs collapse in text", body: ".say  a \t b\n\nc  ", prefix: ".",
			matched: true, command: "say", args: []string{"a", "b", "c"}, text: "a b c", rest: "a \t b\n\nc",
		},
		{name: "command split on newline", body: ".menu\nextra", prefix: ".", matched: true, command: "menu", args: []string{"extra"}, text: "extra", rest: "extra"},
		{name: "multi-char prefix", body: "!!help menu", prefix: "!!", matched: true, command: "help", args: []string{"menu"}, text: "menu", rest: "menu"},
		{name: "leading space misses prefix", body: " .ping", prefix: ".", args: []string{}},
		{name: "empty body", body: "", prefix: ".", args: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.body, tt.prefix)
			assert.Equal(t, tt.matched, got.PrefixMatched)
			assert.Equal(t, tt.command, got.Command)
			assert.Equal(t, tt.args, got.Args)
			assert.Equal(t, tt.text, got.Text)
			assert.Equal(t, tt.rest, got.Rest)
		})
	}
}

func TestParse_UnprefixedNeverYieldsCommand(t *testing.T) {
	inputs := []string{"ping", "hello .ping", "", " ", "#ping", "ping.", "\u200b.ping"}
	for _, in := range inputs {
		got := Parse(in, ".")
		assert.False(t, got.PrefixMatched, in)
		assert.Empty(t, got.Command, in)
		assert.Empty(t, got.Args, in)
	}
}
