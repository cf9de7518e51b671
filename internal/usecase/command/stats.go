package command

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// CommandCount is one row of a usage ranking.
type CommandCount struct {
	Command string
	Count   int
}

// StatsSnapshot is a point-in-time copy of dispatch counters.
type StatsSnapshot struct {
	Since     time.Time
	Total     int
	Failed    int
	Throttled int
	ByCommand map[string]int
}

// Top returns the n most used commands, ties broken alphabetically.
func (s StatsSnapshot) Top(n int) []CommandCount {
	out := make([]CommandCount, 0, len(s.ByCommand))
	for cmd, c := range s.ByCommand {
		out = append(out, CommandCount{Command: cmd, Count: c})
	}
	slices.SortFunc(out, func(a, b CommandCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Command, b.Command)
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Stats counts dispatches since process start.
type Stats struct {
	mu        sync.Mutex
	since     time.Time
	total     int
	failed    int
	throttled int
	byCommand map[string]int
}

// NewStats creates an empty counter set starting now.
func NewStats() *Stats {
	return &Stats{since: time.Now(), byCommand: make(map[string]int)}
}

func (s *Stats) record(command string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.byCommand[command]++
	if failed {
		s.failed++
	}
}

func (s *Stats) recordThrottled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttled++
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	by := make(map[string]int, len(s.byCommand))
	for k, v := range s.byCommand {
		by[k] = v
	}
	return StatsSnapshot{
		Since:     s.since,
		Total:     s.total,
		Failed:    s.failed,
		Throttled: s.throttled,
		ByCommand: by,
	}
}
