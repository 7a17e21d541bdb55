package timer

import (
	"sync"
	"time"
)

// Manual is a Scheduler whose timers only fire when Tick is called. It is
// used to drive state machines deterministically, one interval at a time.
type Manual struct {
	mu     sync.Mutex
	timers []*manualTimer
}

// NewManual returns an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

// Every registers fn; it runs once per Tick until stopped.
func (m *Manual) Every(interval time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTimer{owner: m, interval: interval, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Tick fires every timer that is active when Tick is called, in the order they
// were started. Timers started by a callback first fire on the next Tick.
// It returns the number of callbacks run.
func (m *Manual) Tick() int {
	m.mu.Lock()
	due := make([]*manualTimer, len(m.timers))
	copy(due, m.timers)
	m.mu.Unlock()

	fired := 0
	for _, t := range due {
		if t.stopped() {
			continue
		}
		t.fn()
		fired++
	}
	return fired
}

// Active reports how many timers are still running.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) remove(t *manualTimer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, candidate := range m.timers {
		if candidate == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

type manualTimer struct {
	owner    *Manual
	interval time.Duration
	fn       func()

	mu   sync.Mutex
	done bool
}

func (t *manualTimer) Stop() {
	t.mu.Lock()
	already := t.done
	t.done = true
	t.mu.Unlock()

	if !already {
		t.owner.remove(t)
	}
}

func (t *manualTimer) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}
