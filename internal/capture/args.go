package capture

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/audiolibrelab/cliptalk/internal/device"
	"github.com/audiolibrelab/cliptalk/internal/media"
)

// encoding is the container and codecs parsed from a MIME type.
type encoding struct {
	container string // ffmpeg muxer
	video     string
	audio     string
}

// parseEncoding maps a recorder MIME type such as
// `video/webm;codecs="vp9,opus"` to ffmpeg muxer and encoder names.
// Codecs that are not named get the container's default.
func parseEncoding(mimeType string) (encoding, error) {
	var enc encoding
	switch media.ContainerType(mimeType) {
	case "video/webm", "":
		enc = encoding{container: "webm", video: "libvpx-vp9", audio: "libopus"}
	case "video/mp4":
		enc = encoding{container: "mp4", video: "libx264", audio: "aac"}
	case "video/x-matroska":
		enc = encoding{container: "matroska", video: "libx264", audio: "libopus"}
	default:
		return encoding{}, fmt.Errorf("unsupported recording format %q", mimeType)
	}

	for _, codec := range codecsParam(mimeType) {
		codec = strings.ToLower(codec)
		switch {
		case codec == "vp9" || strings.HasPrefix(codec, "vp09"):
			enc.video = "libvpx-vp9"
		case codec == "vp8":
			enc.video = "libvpx"
		case codec == "h264" || strings.HasPrefix(codec, "avc1"):
			enc.video = "libx264"
		case codec == "av1" || strings.HasPrefix(codec, "av01"):
			enc.video = "libaom-av1"
		case codec == "opus":
			enc.audio = "libopus"
		case codec == "vorbis":
			enc.audio = "libvorbis"
		case codec == "aac" || strings.HasPrefix(codec, "mp4a"):
			enc.audio = "aac"
		default:
			return encoding{}, fmt.Errorf("unsupported codec %q in %q", codec, mimeType)
		}
	}
	return enc, nil
}

func codecsParam(mimeType string) []string {
	_, params, ok := strings.Cut(mimeType, ";")
	if !ok {
		return nil
	}
	for _, p := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "codecs") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		var out []string
		for _, c := range strings.Split(value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, c)
			}
		}
		return out
	}
	return nil
}

// buildArgs returns the ffmpeg arguments that capture from format/c and
// write the encoded stream to stdout.
func buildArgs(format string, c device.Constraints, mimeType string) ([]string, error) {
	enc, err := parseEncoding(mimeType)
	if err != nil {
		return nil, err
	}

	size := fmt.Sprintf("%dx%d", c.Width, c.Height)
	rate := strconv.Itoa(c.FrameRate)

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	switch format {
	case "lavfi":
		args = append(args, "-re", "-f", "lavfi", "-i", fmt.Sprintf("testsrc2=size=%s:rate=%s", size, rate))
		if c.Audio {
			args = append(args, "-f", "lavfi", "-i", "sine=frequency=440:sample_rate=48000")
		}
	case "v4l2":
		args = append(args, "-f", "v4l2", "-framerate", rate, "-video_size", size, "-i", c.Device)
		if c.Audio {
			args = append(args, "-f", audioInputFormat, "-i", c.AudioDevice)
		}
	case "avfoundation":
		input := c.Device + ":none"
		if c.Audio {
			input = c.Device + ":" + c.AudioDevice
		}
		args = append(args, "-f", "avfoundation", "-framerate", rate, "-video_size", size, "-i", input)
	default:
		return nil, fmt.Errorf("unsupported input format %q", format)
	}

	if format != "lavfi" {
		// Frames are stamped by count, so a SIGSTOP pause leaves no gap.
		args = append(args, "-vf", "setpts=N/FRAME_RATE/TB")
		if c.Audio {
			args = append(args, "-af", "asetpts=N/SR/TB")
		}
	}

	args = append(args, "-c:v", enc.video)
	switch enc.video {
	case "libvpx-vp9", "libvpx":
		args = append(args, "-deadline", "realtime", "-cpu-used", "8", "-b:v", "2M")
	case "libx264":
		args = append(args, "-preset", "ultrafast", "-tune", "zerolatency", "-pix_fmt", "yuv420p")
	case "libaom-av1":
		args = append(args, "-cpu-used", "8", "-usage", "realtime")
	}

	if c.Audio {
		args = append(args, "-c:a", enc.audio)
	} else {
		args = append(args, "-an")
	}

	args = append(args, "-f", enc.container)
	if enc.container == "mp4" {
		// A seekable output is not available on a pipe.
		args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof")
	}
	return append(args, "pipe:1"), nil
}
