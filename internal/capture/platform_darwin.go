package capture

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
)

const (
	inputFormat        = "avfoundation"
	defaultVideoDevice = "0"
	defaultAudioDevice = "0"
	audioInputFormat   = ""
)

// avfoundation devices are addressed by index and ffmpeg asks for camera
// permission itself, so there is nothing to probe up front.
func probeDevice(string) error { return nil }

func listDevices(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", "")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run() // always exits non-zero: there is no input to open

	var devices []string
	inVideo := false
	scanner := bufio.NewScanner(&stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "AVFoundation video devices"):
			inVideo = true
			continue
		case strings.Contains(line, "AVFoundation audio devices"):
			inVideo = false
			continue
		}
		if !inVideo {
			continue
		}
		// [AVFoundation indev @ 0x...] [0] FaceTime HD Camera
		if i := strings.LastIndex(line, "] ["); i >= 0 {
			devices = append(devices, strings.TrimSpace(line[i+2:]))
		}
	}
	return append(devices, TestSource), nil
}
