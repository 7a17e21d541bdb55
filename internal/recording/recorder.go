package recording

import (
	"errors"
	"fmt"
	"time"

	"github.com/audiolibrelab/cliptalk/internal/device"
)

// RecorderState is the state of the underlying platform recorder.
type RecorderState string

const (
	RecorderInactive  RecorderState = "inactive"
	RecorderRecording RecorderState = "recording"
	RecorderPaused    RecorderState = "paused"
)

// Handlers receive recorder output. OnData gets chunks in capture order;
// OnStop runs once after the final chunk, with the error that ended the
// recorder, if any.
type Handlers struct {
	OnData func(chunk []byte)
	OnStop func(err error)
}

// Recorder is the platform recorder capability. Handlers are never invoked
// from inside Start, Pause, Resume, Stop or Detach.
type Recorder interface {
	Start(h Handlers, timeslice time.Duration) error
	Pause() error
	Resume() error
	// Stop ends recording. Buffered data is flushed to OnData before OnStop.
	Stop() error
	// Detach drops the handlers. A delivery already in progress may still
	// land; the session ignores it by generation.
	Detach()
	State() RecorderState
}

// RecorderFactory creates a recorder bound to a live stream.
type RecorderFactory interface {
	NewRecorder(stream device.Stream, mimeType string) (Recorder, error)
}

// ErrRejected is returned for intents that are not valid in the current
// state. The state is left unchanged.
var ErrRejected = errors.New("rejected in current state")

// ErrRecorderInactive is returned by a recorder asked to stop or pause
// after it has already ended. OnStop is still delivered for such a recorder.
var ErrRecorderInactive = errors.New("recorder is not running")

// ErrNoData is retained when a take ends without a single chunk.
var ErrNoData = errors.New("recording produced no data")

// ErrClosed is returned once the session has been torn down.
var ErrClosed = errors.New("session closed")

// ErrorKind classifies recorder failures.
type ErrorKind int

const (
	KindStartFailed ErrorKind = iota
)

func (k ErrorKind) String() string {
	return "StartFailed"
}

// Error is a recorder failure. It ends the current take.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("recorder %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
