package scheduling

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lotus-md/internal/domain"
)

// TimerInfo describes a pending one-shot timer.
type TimerInfo struct {
	ID     string    `json:"id"`
	Label  string    `json:"label,omitempty"`
	ChatID string    `json:"chat_id,omitempty"`
	FireAt time.Time `json:"fire_at"`
}

// TimerOption customizes a timer at schedule time.
type TimerOption func(*TimerInfo)

// WithLabel attaches a human readable label.
func WithLabel(label string) TimerOption {
	return func(ti *TimerInfo) { ti.Label = label }
}

// WithChat records the chat a timer reports to.
func WithChat(chatID string) TimerOption {
	return func(ti *TimerInfo) { ti.ChatID = chatID }
}

type timerEntry struct {
	info    TimerInfo
	active  bool
	entryID cron.EntryID
}

// Timers is the process-wide table of one-shot timers. Cancel only clears
// the active flag; the entry stays until its fire time, when the job checks
// the flag and removes it.
type Timers struct {
	sched   *Scheduler
	bus     domain.EventBus
	logger  *slog.Logger
	mu      sync.Mutex
	entries map[string]*timerEntry
	now     func() time.Time
}

// NewTimers creates a timer table on top of sched. bus may be nil.
func NewTimers(sched *Scheduler, bus domain.EventBus, logger *slog.Logger) *Timers {
	return &Timers{
		sched:   sched,
		bus:     bus,
		logger:  logger.With("component", "timers"),
		entries: make(map[string]*timerEntry),
		now:     time.Now,
	}
}

// Schedule arms a timer that runs fn once after d. IDs must be unique among
// entries still in the table, cancelled ones included.
func (t *Timers) Schedule(id string, d time.Duration, fn func(ctx context.Context), opts ...TimerOption) error {
	if id == "" {
		return domain.NewSubSystemError("timer", "Timers.Schedule", domain.ErrInvalidInput, "empty id")
	}
	if d <= 0 {
		return domain.NewSubSystemError("timer", "Timers.Schedule", domain.ErrInvalidInput, "duration must be positive")
	}

	info := TimerInfo{ID: id, FireAt: t.now().Add(d)}
	for _, opt := range opts {
		opt(&info)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		return domain.NewSubSystemError("timer", "Timers.Schedule", domain.ErrDuplicate, id)
	}

	entry := &timerEntry{info: info, active: true}
	t.entries[id] = entry
	entry.entryID = t.sched.schedule(onceSchedule{at: info.FireAt}, func() { t.fire(id, fn) })

	t.logger.Debug("timer scheduled", "id", id, "fire_at", info.FireAt)
	return nil
}

func (t *Timers) fire(id string, fn func(ctx context.Context)) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.sched.remove(entry.entryID)

	if !entry.active {
		t.logger.Debug("cancelled timer skipped", "id", id)
		return
	}

	ctx := t.sched.runContext()
	if ctx == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("timer callback panicked", "id", id, "panic", r)
		}
	}()
	fn(ctx)

	if t.bus != nil {
		t.bus.Publish(ctx, domain.NewEvent(domain.EventTimerFired, entry.info.ChatID, entry.info))
	}
}

// Cancel suppresses a pending timer. It reports whether an active timer was
// found.
func (t *Timers) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok || !entry.active {
		return false
	}
	entry.active = false
	return true
}

// Active reports whether id is pending and not cancelled.
func (t *Timers) Active(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	return ok && entry.active
}

// Pending lists active timers whose ID starts with prefix, soonest first.
func (t *Timers) Pending(prefix string) []TimerInfo {
	t.mu.Lock()
	var out []TimerInfo
	for id, e := range t.entries {
		if e.active && strings.HasPrefix(id, prefix) {
			out = append(out, e.info)
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// CancelPrefix cancels every active timer whose ID starts with prefix and
// returns how many were cancelled.
func (t *Timers) CancelPrefix(prefix string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, e := range t.entries {
		if e.active && strings.HasPrefix(id, prefix) {
			e.active = false
			n++
		}
	}
	return n
}
