// Package recording drives one capture take at a time through countdown,
// recording, pause and resume, and either finalizes it into a clip that is
// handed off for upload or discards it on cancel.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/cliptalk/internal/device"
	"github.com/audiolibrelab/cliptalk/internal/media"
	"github.com/audiolibrelab/cliptalk/internal/notify"
	"github.com/audiolibrelab/cliptalk/internal/timer"
)

// State is the session state.
type State string

const (
	StateIdle         State = "IDLE"
	StateInitializing State = "INITIALIZING"
	StateReady        State = "READY"
	StateCountingDown State = "COUNTING_DOWN"
	StateRecording    State = "RECORDING"
	StatePaused       State = "PAUSED"
	StateFinalizing   State = "FINALIZING"
)

// Handoff receives every finalized clip. It must not block.
type Handoff func(clip *media.Clip, localRef string, meta media.Metadata)

// ClipSaver derives a locally viewable reference for a clip.
type ClipSaver interface {
	Save(c *media.Clip) (string, error)
}

// Config holds the session settings.
type Config struct {
	Constraints      device.Constraints
	CountdownSeconds int
	Timeslice        time.Duration
	MIMEType         string
	Durations        notify.Durations
}

// Deps are the collaborators a session drives.
type Deps struct {
	Devices   *device.Manager
	Recorders RecorderFactory
	Scheduler timer.Scheduler
	Clips     ClipSaver
	Notifier  notify.Notifier
	Handoff   Handoff
}

// Snapshot is a read-only view of the session.
type Snapshot struct {
	State     State  `json:"state"`
	TakeID    string `json:"take_id,omitempty"`
	Countdown int    `json:"countdown"`
	Elapsed   int    `json:"elapsed_seconds"`
	Paused    bool   `json:"paused"`
	Chunks    int    `json:"chunks"`
	Bytes     int    `json:"bytes"`
	HasStream bool   `json:"has_stream"`
	Error     string `json:"error,omitempty"`
}

type take struct {
	id      string
	buf     media.Buffer
	elapsed int
	paused  bool
	started time.Time
}

// Session is the recording state machine. All transitions, timer ticks and
// recorder callbacks are serialized by one mutex; callbacks carry the
// generation of the take that created them and are dropped once that take
// is gone.
type Session struct {
	cfg  Config
	deps Deps

	mu        sync.Mutex
	state     State
	err       error
	stream    *device.Handle
	take      *take
	gen       uint64
	countdown int
	recorder  Recorder
	closed    bool

	countdownTimer timer.Timer
	elapsedTimer   timer.Timer
}

// New creates an idle session.
func New(cfg Config, deps Deps) *Session {
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = time.Second
	}
	return &Session{
		cfg:   cfg,
		deps:  deps,
		state: StateIdle,
	}
}

// Init acquires the capture stream: Idle -> Initializing -> Ready, or back
// to Idle with the device error retained. Calling Init again from Idle is a
// fresh retry.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot initialize while %s", ErrRejected, state)
	}
	s.transitionLocked(StateInitializing)
	s.err = nil
	s.mu.Unlock()

	h, err := s.deps.Devices.Acquire(ctx, s.cfg.Constraints)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateInitializing {
		s.deps.Devices.Release(h)
		return ErrClosed
	}
	if err != nil {
		s.err = err
		s.transitionLocked(StateIdle)
		return err
	}

	s.stream = h
	s.take = s.newTakeLocked()
	s.transitionLocked(StateReady)
	return nil
}

// StartCountdown begins a take: Ready -> CountingDown. When the countdown
// reaches zero the recorder starts.
func (s *Session) StartCountdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady || s.stream == nil {
		return fmt.Errorf("%w: cannot start countdown while %s", ErrRejected, s.state)
	}

	s.err = nil
	s.take = s.newTakeLocked()
	s.countdown = s.cfg.CountdownSeconds
	s.transitionLocked(StateCountingDown)

	if s.countdown <= 0 {
		s.startRecordingLocked()
		return nil
	}

	notify.Emit(s.deps.Notifier, notify.SeverityInfo,
		fmt.Sprintf("Recording will start in %d seconds...", s.countdown), s.cfg.Durations.Info)

	gen := s.gen
	s.countdownTimer = s.deps.Scheduler.Every(time.Second, func() { s.countdownTick(gen) })
	return nil
}

func (s *Session) countdownTick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != StateCountingDown {
		return
	}
	s.countdown--
	slog.Debug("Countdown tick", "take", s.take.id, "remaining", s.countdown)
	if s.countdown > 0 {
		return
	}
	stopTimer(&s.countdownTimer)
	s.startRecordingLocked()
}

// startRecordingLocked moves CountingDown -> Recording, or back to Ready
// when the recorder cannot start.
func (s *Session) startRecordingLocked() {
	gen := s.gen

	rec, err := s.deps.Recorders.NewRecorder(s.stream.Stream(), s.cfg.MIMEType)
	if err == nil {
		err = rec.Start(Handlers{
			OnData: func(chunk []byte) { s.onData(gen, chunk) },
			OnStop: func(err error) { s.onStop(gen, err) },
		}, s.cfg.Timeslice)
	}
	if err != nil {
		s.err = &Error{Kind: KindStartFailed, Err: err}
		slog.Error("Failed to start recording", "take", s.take.id, "error", err)
		notify.Emit(s.deps.Notifier, notify.SeverityError, "Failed to start recording. Please try again.", s.cfg.Durations.Error)
		s.discardTakeLocked()
		return
	}

	s.recorder = rec
	s.take.started = time.Now()
	s.transitionLocked(StateRecording)
	s.elapsedTimer = s.deps.Scheduler.Every(time.Second, func() { s.elapsedTick(gen) })
}

func (s *Session) elapsedTick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != StateRecording {
		return
	}
	s.take.elapsed++
}

func (s *Session) onData(gen uint64, chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.take == nil {
		return
	}
	switch s.state {
	case StateRecording, StatePaused, StateFinalizing:
		s.take.buf.Append(chunk)
	}
}

// Pause suspends the recorder and the elapsed-time counter.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording || s.recorder == nil || s.recorder.State() != RecorderRecording {
		return fmt.Errorf("%w: cannot pause while %s", ErrRejected, s.state)
	}
	if err := s.recorder.Pause(); err != nil {
		return fmt.Errorf("failed to pause recorder: %w", err)
	}

	stopTimer(&s.elapsedTimer)
	s.take.paused = true
	s.transitionLocked(StatePaused)
	notify.Emit(s.deps.Notifier, notify.SeverityInfo, "Recording paused", s.cfg.Durations.Short)
	return nil
}

// Resume continues a paused take; elapsed time picks up where it stopped.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused || s.recorder == nil || s.recorder.State() != RecorderPaused {
		return fmt.Errorf("%w: cannot resume while %s", ErrRejected, s.state)
	}
	if err := s.recorder.Resume(); err != nil {
		return fmt.Errorf("failed to resume recorder: %w", err)
	}

	s.take.paused = false
	s.transitionLocked(StateRecording)
	gen := s.gen
	s.elapsedTimer = s.deps.Scheduler.Every(time.Second, func() { s.elapsedTick(gen) })
	notify.Emit(s.deps.Notifier, notify.SeverityInfo, "Recording resumed", s.cfg.Durations.Short)
	return nil
}

// Stop ends the take: Recording|Paused -> Finalizing. The clip is built and
// handed off when the recorder reports it has stopped.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRecording && s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot stop while %s", ErrRejected, state)
	}
	stopTimer(&s.elapsedTimer)
	s.transitionLocked(StateFinalizing)
	rec := s.recorder
	gen := s.gen
	s.mu.Unlock()

	if err := rec.Stop(); err != nil {
		if errors.Is(err, ErrRecorderInactive) {
			// The recorder ended on its own; its OnStop finalizes the take.
			slog.Debug("Recorder already stopped", "error", err)
			return nil
		}
		slog.Error("Recorder failed to stop", "error", err)
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen == s.gen && s.state == StateFinalizing {
			s.err = fmt.Errorf("failed to stop recorder: %w", err)
			notify.Emit(s.deps.Notifier, notify.SeverityError, "Failed to stop recording", s.cfg.Durations.Error)
			s.discardTakeLocked()
		}
		return err
	}
	return nil
}

// onStop finalizes the take once the recorder has flushed its last chunk.
func (s *Session) onStop(gen uint64, recErr error) {
	s.mu.Lock()

	if gen != s.gen || s.take == nil {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case StateFinalizing:
	case StateRecording, StatePaused:
		// recorder ended on its own
		slog.Warn("Recorder stopped unexpectedly", "take", s.take.id, "error", recErr)
		stopTimer(&s.elapsedTimer)
	default:
		s.mu.Unlock()
		return
	}
	if recErr != nil {
		slog.Debug("Recorder exit status", "take", s.take.id, "error", recErr)
	}

	t := s.take
	clip := t.buf.Clip(s.cfg.MIMEType)
	settings := s.stream.Settings()
	meta := media.Metadata{
		Timestamp:       t.started,
		DurationSeconds: t.elapsed,
		Format:          clip.ContainerType(),
		Width:           settings.Width,
		Height:          settings.Height,
	}

	s.recorder = nil
	s.take = s.newTakeLocked()
	s.transitionLocked(StateReady)

	if clip.Size() == 0 {
		s.err = ErrNoData
		notify.Emit(s.deps.Notifier, notify.SeverityError, "Recording failed: no video data was captured", s.cfg.Durations.Error)
		s.mu.Unlock()
		return
	}
	notify.Emit(s.deps.Notifier, notify.SeveritySuccess, "Recording completed successfully!", s.cfg.Durations.Success)
	s.mu.Unlock()

	ref := ""
	if s.deps.Clips != nil {
		saved, err := s.deps.Clips.Save(clip)
		if err != nil {
			slog.Error("Failed to store clip locally", "clip", clip.ID, "error", err)
			notify.Emit(s.deps.Notifier, notify.SeverityError, "Could not keep a local copy of the recording", s.cfg.Durations.Error)
		} else {
			ref = saved
		}
	}

	slog.Info("Take finalized", "take", t.id, "clip", clip.ID, "bytes", clip.Size(), "duration", meta.DurationSeconds)
	if s.deps.Handoff != nil {
		s.deps.Handoff(clip, ref, meta)
	}
}

// Cancel discards the take: CountingDown|Recording|Paused -> Ready. The
// recorder's handlers are detached before it is stopped so a discarded take
// can never reach the upload handoff.
func (s *Session) Cancel() error {
	s.mu.Lock()

	switch s.state {
	case StateCountingDown, StateRecording, StatePaused:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot cancel while %s", ErrRejected, state)
	}

	rec := s.abandonTakeLocked()
	notify.Emit(s.deps.Notifier, notify.SeverityInfo, "Recording cancelled", s.cfg.Durations.Short)
	s.mu.Unlock()

	stopDetached(rec)
	return nil
}

// abandonTakeLocked detaches the recorder, invalidates every callback of
// the current take, clears its timers and chunks and returns to Ready. The
// detached recorder is returned so the caller can stop it without the lock.
func (s *Session) abandonTakeLocked() Recorder {
	rec := s.recorder
	s.recorder = nil
	if rec != nil {
		rec.Detach()
	}
	s.discardTakeLocked()
	return rec
}

// discardTakeLocked drops the current take and returns to Ready.
func (s *Session) discardTakeLocked() {
	stopTimer(&s.countdownTimer)
	stopTimer(&s.elapsedTimer)
	if s.take != nil {
		s.take.buf.Reset()
	}
	s.recorder = nil
	s.countdown = 0
	s.take = s.newTakeLocked()
	if s.stream != nil {
		s.transitionLocked(StateReady)
	} else {
		s.transitionLocked(StateIdle)
	}
}

// Close tears the session down: any take is discarded silently and the
// capture stream is released. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	rec := s.abandonTakeLocked()
	h := s.stream
	s.stream = nil
	s.transitionLocked(StateIdle)
	s.mu.Unlock()

	stopDetached(rec)
	s.deps.Devices.Release(h)
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:     s.state,
		Countdown: s.countdown,
		HasStream: s.stream != nil,
	}
	if s.take != nil {
		snap.TakeID = s.take.id
		snap.Elapsed = s.take.elapsed
		snap.Paused = s.take.paused
		snap.Chunks = s.take.buf.Len()
		snap.Bytes = s.take.buf.Size()
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

// Err returns the error retained from the last failed transition.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) newTakeLocked() *take {
	s.gen++
	return &take{id: uuid.NewString()}
}

func (s *Session) transitionLocked(to State) {
	if s.state == to {
		return
	}
	takeID := ""
	if s.take != nil {
		takeID = s.take.id
	}
	slog.Debug("Recording session transition", "from", s.state, "state", to, "take", takeID)
	s.state = to
}

func stopTimer(t *timer.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func stopDetached(rec Recorder) {
	if rec == nil {
		return
	}
	if err := rec.Stop(); err != nil {
		slog.Debug("Detached recorder stop failed", "error", err)
	}
}

// FormatElapsed renders seconds as MM:SS.
func FormatElapsed(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
