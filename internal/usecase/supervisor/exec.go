package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// tailBytes bounds the child output kept for crash reports.
const tailBytes = 8 * 1024

// ExecStarter launches the bot as a child process.
type ExecStarter struct {
	Path   string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer

	tail *ringBuffer
}

// NewExecStarter returns a starter for path args..., inheriting the parent's
// environment and output streams.
func NewExecStarter(path string, args ...string) *ExecStarter {
	return &ExecStarter{
		Path:   path,
		Args:   args,
		Env:    os.Environ(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		tail:   newRingBuffer(tailBytes),
	}
}

// Start launches one child. The child is not tied to ctx; the supervisor
// stops it explicitly so it can shut down gracefully.
func (s *ExecStarter) Start(_ context.Context) (Process, error) {
	if s.tail == nil {
		s.tail = newRingBuffer(tailBytes)
	}
	s.tail.Reset()

	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = s.Env
	cmd.Stdin = os.Stdin
	cmd.Stdout = writerOrDiscard(s.Stdout)
	cmd.Stderr = io.MultiWriter(writerOrDiscard(s.Stderr), s.tail)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start %s: %w", s.Path, err)
	}
	return &execProcess{cmd: cmd}, nil
}

// Tail returns the last n lines the current child wrote to stderr.
func (s *ExecStarter) Tail(n int) []string {
	if s.tail == nil {
		return nil
	}
	return s.tail.Lines(n)
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

// Wait returns the exit code. A child killed by a signal reports -1.
func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *execProcess) Interrupt() error { return p.cmd.Process.Signal(os.Interrupt) }

func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }
