package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogAdapter routes whatsmeow's printf-style logging into slog. Records
// below minLevel are dropped before formatting; the library is chatty at
// debug level.
type slogAdapter struct {
	logger   *slog.Logger
	minLevel slog.Level
}

var _ waLog.Logger = (*slogAdapter)(nil)

func newWALogger(logger *slog.Logger, module string, minLevel slog.Level) waLog.Logger {
	return &slogAdapter{logger: logger.With("module", module), minLevel: minLevel}
}

func (a *slogAdapter) Errorf(msg string, args ...any) { a.log(slog.LevelError, msg, args) }
func (a *slogAdapter) Warnf(msg string, args ...any)  { a.log(slog.LevelWarn, msg, args) }
func (a *slogAdapter) Infof(msg string, args ...any)  { a.log(slog.LevelInfo, msg, args) }
func (a *slogAdapter) Debugf(msg string, args ...any) { a.log(slog.LevelDebug, msg, args) }

func (a *slogAdapter) Sub(module string) waLog.Logger {
	return &slogAdapter{logger: a.logger.With("sub", module), minLevel: a.minLevel}
}

func (a *slogAdapter) log(level slog.Level, msg string, args []any) {
	if level < a.minLevel || !a.logger.Enabled(context.Background(), level) {
		return
	}
	a.logger.Log(context.Background(), level, fmt.Sprintf(msg, args...))
}
