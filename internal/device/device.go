// Package device acquires and releases the capture device. A successful
// acquisition yields a Handle that stays valid until released; failures are
// classified, reported once to the notifier and never retried here.
package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/cliptalk/internal/notify"
)

// Constraints describe the stream the caller wants.
type Constraints struct {
	Device      string `json:"device"`
	AudioDevice string `json:"audio_device,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	FrameRate   int    `json:"frame_rate"`
	FacingMode  string `json:"facing_mode,omitempty"`
	Audio       bool   `json:"audio"`
}

// Track is one live media track of a stream.
type Track struct {
	Kind  string `json:"kind"` // "video" or "audio"
	Label string `json:"label"`
}

// Stream is a live capture stream as produced by a Platform.
type Stream interface {
	ID() string
	Tracks() []Track
	// Settings reports what the platform actually granted.
	Settings() Constraints
	// Stop ends every track. Platforms may assume it is called once.
	Stop()
}

// Platform opens capture streams.
type Platform interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
	List(ctx context.Context) ([]string, error)
}

// ErrorKind classifies acquisition failures.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindPermissionDenied
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindNotFound:
		return "NotFound"
	default:
		return "Other"
	}
}

// Error is returned when a stream cannot be acquired.
type Error struct {
	Kind   ErrorKind
	Device string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device %s: %s: %v", e.Device, e.Kind, e.Err)
	}
	return fmt.Sprintf("device %s: %s", e.Device, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify turns a platform error into a *Error. Errors that already are
// one pass through unchanged.
func Classify(device string, err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	kind := KindOther
	switch {
	case errors.Is(err, fs.ErrPermission):
		kind = KindPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		kind = KindNotFound
	}
	return &Error{Kind: kind, Device: device, Err: err}
}

// FailureMessage is what the user sees when acquisition fails.
const FailureMessage = "Could not access camera and microphone. Please check permissions."

// Manager hands out capture streams.
type Manager struct {
	platform Platform
	notifier notify.Notifier
	errorFor time.Duration
}

// NewManager creates a manager. errorDuration is how long failure
// notifications stay on screen.
func NewManager(platform Platform, notifier notify.Notifier, errorDuration time.Duration) *Manager {
	return &Manager{
		platform: platform,
		notifier: notifier,
		errorFor: errorDuration,
	}
}

// Acquire opens a stream matching c. On failure it emits exactly one error
// notification and returns a *Error. Success is silent.
func (m *Manager) Acquire(ctx context.Context, c Constraints) (*Handle, error) {
	slog.Debug("Acquiring capture stream", "device", c.Device, "width", c.Width, "height", c.Height, "audio", c.Audio)

	stream, err := m.platform.Open(ctx, c)
	if err != nil {
		de := Classify(c.Device, err)
		slog.Error("Failed to acquire capture stream", "device", c.Device, "kind", de.Kind, "error", err)
		notify.Emit(m.notifier, notify.SeverityError, FailureMessage, m.errorFor)
		return nil, de
	}

	slog.Info("Capture stream acquired", "stream", stream.ID(), "tracks", len(stream.Tracks()))
	return &Handle{stream: stream}, nil
}

// Release stops every track of h. Nil and already released handles are
// ignored.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	h.Release()
}

// List returns the capture devices the platform knows about.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.platform.List(ctx)
}

// Handle is an exclusively owned capture stream.
type Handle struct {
	stream Stream

	once     sync.Once
	mu       sync.RWMutex
	released bool
}

// Stream returns the underlying platform stream.
func (h *Handle) Stream() Stream {
	return h.stream
}

// Settings reports the granted stream settings.
func (h *Handle) Settings() Constraints {
	return h.stream.Settings()
}

// Released reports whether Release has run.
func (h *Handle) Released() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}

// Release stops the stream exactly once.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.stream.Stop()
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
		slog.Debug("Capture stream released", "stream", h.stream.ID())
	})
}
