package capture

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/cliptalk/internal/device"
	"github.com/audiolibrelab/cliptalk/internal/notify"
)

func testPlatform(probeErr error) *Platform {
	return &Platform{
		format: "v4l2",
		probe:  func(string) error { return probeErr },
		list: func(context.Context) ([]string, error) {
			return []string{"/dev/video0", TestSource}, nil
		},
	}
}

func TestPlatformOpenFillsDefaults(t *testing.T) {
	p := testPlatform(nil)

	s, err := p.Open(context.Background(), device.Constraints{Device: "/dev/video0", Audio: true, AudioDevice: "mic"})
	require.NoError(t, err)

	got := s.Settings()
	assert.Equal(t, 1280, got.Width)
	assert.Equal(t, 720, got.Height)
	assert.Equal(t, 30, got.FrameRate)
	assert.Len(t, s.Tracks(), 2)
	assert.Equal(t, "v4l2", s.(*Stream).InputFormat())

	s.Stop()
	s.Stop()
	assert.True(t, s.(*Stream).Stopped())
}

func TestPlatformTestSourceSkipsProbe(t *testing.T) {
	p := testPlatform(fs.ErrNotExist)

	s, err := p.Open(context.Background(), device.Constraints{Device: TestSource})
	require.NoError(t, err)
	assert.Equal(t, "lavfi", s.(*Stream).InputFormat())
	assert.Len(t, s.Tracks(), 1)
}

func TestPlatformProbeErrorsClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind device.ErrorKind
	}{
		{"permission", fs.ErrPermission, device.KindPermissionDenied},
		{"missing", fs.ErrNotExist, device.KindNotFound},
		{"busy", errors.New("device or resource busy"), device.KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &notify.Collector{}
			m := device.NewManager(testPlatform(tt.err), events, 0)

			h, err := m.Acquire(context.Background(), device.Constraints{Device: "/dev/video0"})
			assert.Nil(t, h)

			var de *device.Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.kind, de.Kind)
			assert.Equal(t, 1, events.Count(notify.SeverityError))
		})
	}
}

func TestPlatformOpenHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testPlatform(nil).Open(ctx, device.Constraints{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecordersRejectForeignStream(t *testing.T) {
	_, err := NewRecorders("").NewRecorder(foreignStream{}, "video/webm")
	assert.Error(t, err)
}

func TestRecordersRejectStoppedStream(t *testing.T) {
	s, err := testPlatform(nil).Open(context.Background(), device.Constraints{Device: TestSource})
	require.NoError(t, err)
	s.Stop()

	_, err = NewRecorders("").NewRecorder(s, "video/webm")
	assert.Error(t, err)
}

type foreignStream struct{}

func (foreignStream) ID() string                   { return "foreign" }
func (foreignStream) Tracks() []device.Track       { return nil }
func (foreignStream) Settings() device.Constraints { return device.Constraints{} }
func (foreignStream) Stop()                        {}
