package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/cliptalk/internal/device"
	"github.com/audiolibrelab/cliptalk/internal/recording"
)

const (
	stopTimeout = 5 * time.Second
	readSize    = 32 * 1024
	stderrTail  = 4 * 1024
)

var errNotRecording = recording.ErrRecorderInactive

// Recorders builds ffmpeg recorders for streams opened by Platform.
type Recorders struct {
	Binary string
}

// NewRecorders returns a factory running binary, "ffmpeg" when empty.
func NewRecorders(binary string) *Recorders {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Recorders{Binary: binary}
}

func (f *Recorders) NewRecorder(stream device.Stream, mimeType string) (recording.Recorder, error) {
	s, ok := stream.(*Stream)
	if !ok {
		return nil, fmt.Errorf("stream %s was not opened by the capture platform", stream.ID())
	}
	if s.Stopped() {
		return nil, fmt.Errorf("stream %s is stopped", s.ID())
	}
	args, err := buildArgs(s.InputFormat(), s.Settings(), mimeType)
	if err != nil {
		return nil, err
	}
	return NewFFmpegRecorder(f.Binary, args), nil
}

// FFmpegRecorder runs one ffmpeg process per take and delivers its stdout
// to the handlers once per timeslice.
type FFmpegRecorder struct {
	binary string
	args   []string

	mu       sync.Mutex
	state    recording.RecorderState
	handlers recording.Handlers
	cmd      *exec.Cmd
	stderr   *tailBuffer
	stopping bool
	done     chan struct{}
}

// NewFFmpegRecorder creates a recorder that runs binary with args. The
// process must write the encoded stream to stdout.
func NewFFmpegRecorder(binary string, args []string) *FFmpegRecorder {
	return &FFmpegRecorder{
		binary: binary,
		args:   args,
		state:  recording.RecorderInactive,
	}
}

func (r *FFmpegRecorder) Start(h recording.Handlers, timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return fmt.Errorf("recorder already started")
	}
	if timeslice <= 0 {
		timeslice = time.Second
	}

	cmd := exec.Command(r.binary, r.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	r.stderr = &tailBuffer{max: stderrTail}
	cmd.Stderr = r.stderr

	slog.Info("Starting FFmpeg", "command", r.binary+" "+strings.Join(r.args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	r.cmd = cmd
	r.handlers = h
	r.state = recording.RecorderRecording
	r.done = make(chan struct{})

	go r.pump(stdout, timeslice)
	return nil
}

func (r *FFmpegRecorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != recording.RecorderRecording {
		return errNotRecording
	}
	if err := suspendProcess(r.cmd.Process); err != nil {
		return fmt.Errorf("failed to pause FFmpeg: %w", err)
	}
	r.state = recording.RecorderPaused
	return nil
}

func (r *FFmpegRecorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != recording.RecorderPaused {
		return errNotRecording
	}
	if err := resumeProcess(r.cmd.Process); err != nil {
		return fmt.Errorf("failed to resume FFmpeg: %w", err)
	}
	r.state = recording.RecorderRecording
	return nil
}

// Stop interrupts ffmpeg so it finalizes the container, and waits for the
// remaining output to be delivered. A process that ignores the interrupt
// is killed after stopTimeout.
func (r *FFmpegRecorder) Stop() error {
	r.mu.Lock()
	if r.cmd == nil || r.state == recording.RecorderInactive {
		r.mu.Unlock()
		return errNotRecording
	}
	if r.state == recording.RecorderPaused {
		if err := resumeProcess(r.cmd.Process); err != nil {
			slog.Debug("Failed to resume FFmpeg before stop", "error", err)
		}
	}
	r.state = recording.RecorderInactive
	r.stopping = true
	proc, done := r.cmd.Process, r.done
	r.mu.Unlock()

	slog.Debug("Sending SIGINT to FFmpeg process")
	if err := proc.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt to FFmpeg, falling back to SIGKILL", "error", err)
		_ = proc.Kill()
	}

	select {
	case <-done:
	case <-time.After(stopTimeout):
		slog.Warn("FFmpeg did not exit within timeout, force killing")
		_ = proc.Kill()
		<-done
	}
	return nil
}

func (r *FFmpegRecorder) Detach() {
	r.mu.Lock()
	r.handlers = recording.Handlers{}
	r.mu.Unlock()
}

func (r *FFmpegRecorder) State() recording.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// pump reads stdout, delivering what accumulated once per timeslice, and
// reports the end of the process after the last chunk.
func (r *FFmpegRecorder) pump(stdout io.Reader, timeslice time.Duration) {
	defer close(r.done)

	chunks := make(chan []byte, 16)
	go func() {
		defer close(chunks)
		buf := make([]byte, readSize)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunks <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Debug("FFmpeg stdout read ended", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	var pending []byte
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				r.flush(pending)
				r.finish()
				return
			}
			pending = append(pending, chunk...)
		case <-ticker.C:
			r.flush(pending)
			pending = nil
		}
	}
}

func (r *FFmpegRecorder) flush(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	onData := r.handlers.OnData
	r.mu.Unlock()
	if onData != nil {
		onData(data)
	}
}

func (r *FFmpegRecorder) finish() {
	err := r.cmd.Wait()

	r.mu.Lock()
	stopping := r.stopping
	r.state = recording.RecorderInactive
	onStop := r.handlers.OnStop
	stderr := r.stderr.String()
	r.mu.Unlock()

	err = exitError(err, stopping)
	if err != nil {
		slog.Error("FFmpeg exited with error", "error", err, "stderr", stderr)
	} else {
		slog.Debug("FFmpeg exited successfully")
	}
	if onStop != nil {
		onStop(err)
	}
}

// exitError drops the exit statuses ffmpeg reports after an interrupt.
func exitError(err error, stopping bool) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if stopping && errors.As(err, &exitErr) {
		// Exit code 255 is how ffmpeg reports a graceful interrupt.
		if exitErr.ExitCode() == 255 {
			return nil
		}
		if state := exitErr.ProcessState.String(); state == "signal: interrupt" || state == "signal: killed" {
			return nil
		}
	}
	return fmt.Errorf("FFmpeg process failed: %w", err)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

var _ recording.Recorder = (*FFmpegRecorder)(nil)
