// Package notify carries fire-and-forget user notifications out of the
// capture and upload machinery. Components receive a Notifier at
// construction; nothing reaches for a global.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Severity classifies a notification for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Event is one notification. Duration is how long the presentation layer
// should keep it on screen.
type Event struct {
	Message  string        `json:"message"`
	Severity Severity      `json:"severity"`
	Duration time.Duration `json:"-"`
	Time     time.Time     `json:"time"`
}

// MarshalJSON writes Duration as whole milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		Message    string    `json:"message"`
		Severity   Severity  `json:"severity"`
		DurationMS int64     `json:"duration_ms"`
		Time       time.Time `json:"time"`
	}
	return json.Marshal(wire{
		Message:    e.Message,
		Severity:   e.Severity,
		DurationMS: e.Duration.Milliseconds(),
		Time:       e.Time,
	})
}

// Durations says how long each kind of notification stays on screen.
type Durations struct {
	Info    time.Duration
	Short   time.Duration
	Success time.Duration
	Error   time.Duration
}

// Notifier receives notifications. Implementations must not block and must
// not call back into the component that emitted the event.
type Notifier interface {
	Notify(Event)
}

// Func adapts a plain function to a Notifier.
type Func func(Event)

func (f Func) Notify(e Event) { f(e) }

// Emit stamps and delivers a notification. A nil notifier is skipped.
func Emit(n Notifier, severity Severity, message string, duration time.Duration) {
	if n == nil {
		return
	}
	n.Notify(Event{
		Message:  message,
		Severity: severity,
		Duration: duration,
		Time:     time.Now(),
	})
}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(e)
		}
	}
}

// LogNotifier writes notifications to a slog logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier logging to logger, or to the default
// logger when nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(e Event) {
	level := slog.LevelInfo
	if e.Severity == SeverityError {
		level = slog.LevelError
	}
	l.logger.Log(context.Background(), level, "Notification", "severity", e.Severity, "message", e.Message, "duration", e.Duration)
}

// Collector keeps every event it receives. Useful for tests and for the
// CLI, which prints what happened once a run is over.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Notify(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

// Events returns a copy of everything collected so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Count returns how many collected events have the given severity.
func (c *Collector) Count(severity Severity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Severity == severity {
			n++
		}
	}
	return n
}

// Messages returns the collected messages in arrival order.
func (c *Collector) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Message
	}
	return out
}
