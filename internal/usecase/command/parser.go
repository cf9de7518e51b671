// Package command parses prefixed chat commands and routes them to plugins.
package command

import (
	"strings"
	"unicode"

	"lotus-md/internal/domain"
)

// Parse splits a message body into a command and its arguments. A body that
// does not start with prefix yields an unmatched command; a body that is only
// the prefix yields an empty command.
func Parse(body, prefix string) domain.ParsedCommand {
	if !strings.HasPrefix(body, prefix) {
		return domain.ParsedCommand{Args: []string{}}
	}

	rest := strings.TrimSpace(body[len(prefix):])

	cmd, remainder := rest, ""
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		cmd = rest[:i]
		remainder = strings.TrimLeftFunc(rest[i:], unicode.IsSpace)
	}

	args := strings.Fields(remainder)
	if args == nil {
		args = []string{}
	}

	return domain.ParsedCommand{
		PrefixMatched: true,
		Command:       strings.ToLower(cmd),
		Args:          args,
		Text:          strings.Join(args, " "),
		Rest:          remainder,
	}
}
