// Package capture is the local capture backend: it opens camera and
// microphone devices and records them with an ffmpeg subprocess that
// streams encoded chunks back over a pipe.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/audiolibrelab/cliptalk/internal/device"
)

// TestSource is a device name that selects ffmpeg's synthetic test pattern
// instead of real hardware.
const TestSource = "testsrc"

var errUnsupportedPlatform = errors.New("no capture backend for this platform")

// Stream is an opened capture device. ffmpeg reads the device itself, so
// the stream records what was granted and whether it is still live.
type Stream struct {
	id       string
	format   string
	settings device.Constraints
	stopped  atomic.Bool
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []device.Track {
	tracks := []device.Track{{Kind: "video", Label: s.settings.Device}}
	if s.settings.Audio {
		tracks = append(tracks, device.Track{Kind: "audio", Label: s.settings.AudioDevice})
	}
	return tracks
}

func (s *Stream) Settings() device.Constraints { return s.settings }

// InputFormat is the ffmpeg demuxer used to read the device.
func (s *Stream) InputFormat() string { return s.format }

func (s *Stream) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		slog.Debug("Capture stream stopped", "stream", s.id, "device", s.settings.Device)
	}
}

// Stopped reports whether Stop has been called.
func (s *Stream) Stopped() bool { return s.stopped.Load() }

// Platform opens devices of the host OS.
type Platform struct {
	format string
	probe  func(device string) error
	list   func(ctx context.Context) ([]string, error)
}

// NewPlatform returns the platform for the running OS.
func NewPlatform() *Platform {
	return &Platform{
		format: inputFormat,
		probe:  probeDevice,
		list:   listDevices,
	}
}

// Open checks that the requested device can be read and returns a stream
// describing it. Missing fields in c are filled with platform defaults.
func (p *Platform) Open(ctx context.Context, c device.Constraints) (device.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c = withDefaults(c)

	format := p.format
	switch {
	case c.Device == TestSource:
		format = "lavfi"
	case format == "":
		return nil, &device.Error{Kind: device.KindNotFound, Device: c.Device, Err: errUnsupportedPlatform}
	default:
		if err := p.probe(c.Device); err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", c.Device, err)
		}
	}

	s := &Stream{id: uuid.NewString(), format: format, settings: c}
	slog.Debug("Capture device opened", "stream", s.id, "device", c.Device, "format", format)
	return s, nil
}

// List returns the capture devices found on the host.
func (p *Platform) List(ctx context.Context) ([]string, error) {
	return p.list(ctx)
}

func withDefaults(c device.Constraints) device.Constraints {
	if c.Device == "" {
		c.Device = defaultVideoDevice
	}
	if c.Audio && c.AudioDevice == "" {
		c.AudioDevice = defaultAudioDevice
	}
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = 1280, 720
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 30
	}
	return c
}

var _ device.Platform = (*Platform)(nil)
