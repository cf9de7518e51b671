package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
)

// taskTimeout bounds one run of a recurring task.
const taskTimeout = 5 * time.Minute

// Scheduler runs recurring housekeeping tasks and one-shot timers on a
// single cron instance.
type Scheduler struct {
	cron    *cron.Cron
	tasks   map[string]cron.EntryID
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		tasks:  make(map[string]cron.EntryID),
		logger: logger.With("component", "scheduler"),
	}
}

// AddTask registers a recurring task. schedule is a cron expression
// ("*/5 * * * *") or a Go duration ("30m").
func (s *Scheduler) AddTask(name, schedule string, fn func(ctx context.Context) error) error {
	sched, err := parseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", schedule, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("scheduler: task %q already exists", name)
	}

	logger := s.logger
	s.tasks[name] = s.cron.Schedule(sched, cron.FuncJob(func() {
		ctx := s.runContext()
		if ctx == nil {
			logger.Debug("scheduler stopped, skipping task", "task", name)
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(taskCtx); err != nil {
			logger.Warn("scheduled task failed", "task", name, "error", err, "duration", time.Since(start))
			return
		}
		logger.Debug("scheduled task completed", "task", name, "duration", time.Since(start))
	}))

	logger.Info("task added to scheduler", "name", name, "schedule", schedule)
	return nil
}

// RemoveTask unregisters a recurring task.
func (s *Scheduler) RemoveTask(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.tasks[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.tasks, name)
	return true
}

// NextRun returns the next run time of a task, or false if it is unknown.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if entry.ID == 0 {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Start begins running jobs. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels the run context and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.ctx = nil
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return nil
}

// runContext returns the context jobs run under, or nil when stopped.
func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// schedule adds a raw cron job. Used by Timers.
func (s *Scheduler) schedule(sched cron.Schedule, job func()) cron.EntryID {
	return s.cron.Schedule(sched, cron.FuncJob(job))
}

func (s *Scheduler) remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// parseSchedule accepts a cron expression first, then a positive duration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay{delay: dur}, nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay struct {
	delay time.Duration
}

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}

// onceSchedule fires a single time at a fixed instant. After that instant
// Next returns the zero time, which cron treats as "never".
type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

// NewID returns a time-ordered ULID string.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
