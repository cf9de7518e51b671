// Package supervisor keeps the bot process running: it restarts the child
// after crashes and on request, and stops when the child exits cleanly.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"lotus-md/internal/domain"
)

// Exit codes of the child process.
const (
	ExitOK        = 0
	ExitRestart   = 75 // EX_TEMPFAIL: restart immediately
	ExitLoggedOut = 78 // EX_CONFIG: session revoked, do not restart
)

// stopGrace is how long a child gets to exit after an interrupt.
const stopGrace = 10 * time.Second

// Process is one running child.
type Process interface {
	PID() int
	// Wait blocks until exit and returns the exit code.
	Wait() (int, error)
	Interrupt() error
	Kill() error
}

// Starter launches a child process.
type Starter interface {
	Start(ctx context.Context) (Process, error)
}

// Tailer is implemented by starters that keep recent child output.
type Tailer interface {
	Tail(n int) []string
}

// Options configures restart behavior.
type Options struct {
	RestartDelay time.Duration
}

type exitResult struct {
	code int
	err  error
}

// Supervisor runs a child until it exits with ExitOK or ctx is done.
type Supervisor struct {
	starter  Starter
	opts     Options
	logger   *slog.Logger
	reset    chan struct{}
	restarts atomic.Int64
	after    func(time.Duration) <-chan time.Time
}

// New creates a supervisor.
func New(starter Starter, opts Options, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		starter: starter,
		opts:    opts,
		logger:  logger.With("component", "supervisor"),
		reset:   make(chan struct{}, 1),
		after:   time.After,
	}
}

// Reset kills the running child and starts a new one immediately.
func (s *Supervisor) Reset() {
	select {
	case s.reset <- struct{}{}:
	default:
	}
}

// Restarts returns how many times a child has been restarted.
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

// Run supervises until the child exits cleanly (nil), the child reports a
// logged-out session (domain.ErrLoggedOut), the child cannot be started
// (error), or ctx is done (the child is stopped, nil).
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		proc, err := s.starter.Start(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("bot started", "pid", proc.PID())

		waitCh := make(chan exitResult, 1)
		go func() {
			code, err := proc.Wait()
			waitCh <- exitResult{code: code, err: err}
		}()

		select {
		case res := <-waitCh:
			if res.err == nil && res.code == ExitOK {
				s.logger.Info("bot exited cleanly")
				return nil
			}
			if res.err == nil && res.code == ExitRestart {
				s.logger.Info("bot requested restart")
				s.restarts.Add(1)
				continue
			}
			if res.err == nil && res.code == ExitLoggedOut {
				s.logger.Error("bot session logged out, not restarting; pair again and start manually")
				return fmt.Errorf("supervisor: %w", domain.ErrLoggedOut)
			}
			s.logCrash(res)
			if !s.delay(ctx) {
				return nil
			}
			s.restarts.Add(1)

		case <-s.reset:
			s.logger.Info("reset requested, restarting bot", "pid", proc.PID())
			if err := proc.Kill(); err != nil {
				s.logger.Warn("kill failed", "pid", proc.PID(), "error", err)
			}
			<-waitCh
			s.restarts.Add(1)

		case <-ctx.Done():
			s.stop(proc, waitCh)
			return nil
		}
	}
}

// delay waits RestartDelay; a reset cuts it short. It reports false when
// ctx ends first.
func (s *Supervisor) delay(ctx context.Context) bool {
	s.logger.Info("restarting bot", "delay", s.opts.RestartDelay)
	select {
	case <-s.after(s.opts.RestartDelay):
		return true
	case <-s.reset:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) stop(proc Process, waitCh <-chan exitResult) {
	s.logger.Info("stopping bot", "pid", proc.PID())
	if err := proc.Interrupt(); err != nil {
		_ = proc.Kill()
	}
	select {
	case <-waitCh:
	case <-s.after(stopGrace):
		s.logger.Warn("bot did not stop in time, killing", "pid", proc.PID())
		_ = proc.Kill()
		<-waitCh
	}
}

func (s *Supervisor) logCrash(res exitResult) {
	attrs := []any{"exit_code", res.code}
	if res.err != nil {
		attrs = append(attrs, "error", res.err)
	}
	if t, ok := s.starter.(Tailer); ok {
		if lines := t.Tail(10); len(lines) > 0 {
			attrs = append(attrs, "stderr_tail", fmt.Sprintf("%q", lines))
		}
	}
	s.logger.Warn("bot exited abnormally", attrs...)
}
