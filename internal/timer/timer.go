// Package timer provides the periodic callbacks that drive countdowns and
// elapsed-time counters. Each timer is owned by whoever started it and must be
// stopped explicitly when that owner leaves the state that needed it.
package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is a running periodic callback.
type Timer interface {
	// Stop cancels the timer. It never blocks on a running callback and may
	// be called any number of times. At most one callback that was already
	// due may still be in flight when Stop returns; owners guard against it.
	Stop()
}

// Scheduler starts periodic callbacks.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Timer
}

// ClockScheduler runs callbacks off a clockwork clock, one goroutine per timer.
type ClockScheduler struct {
	clock clockwork.Clock
}

// NewScheduler creates a scheduler on top of the given clock. A nil clock
// means the real wall clock.
func NewScheduler(clock clockwork.Clock) *ClockScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ClockScheduler{clock: clock}
}

// Every calls fn once per interval until the returned timer is stopped.
func (s *ClockScheduler) Every(interval time.Duration, fn func()) Timer {
	t := &tickTimer{
		ticker: s.clock.NewTicker(interval),
		stop:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type tickTimer struct {
	ticker clockwork.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (t *tickTimer) run(fn func()) {
	defer t.ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.Chan():
			// a tick and a stop can be ready together; stop wins
			select {
			case <-t.stop:
				return
			default:
			}
			fn()
		}
	}
}

func (t *tickTimer) Stop() {
	t.once.Do(func() { close(t.stop) })
}
