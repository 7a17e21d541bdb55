package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	inputFormat        = "v4l2"
	defaultVideoDevice = "/dev/video0"
	defaultAudioDevice = "default"
	audioInputFormat   = "pulse"
)

// probeDevice opens the device node for reading. The returned error keeps
// its fs.ErrPermission / fs.ErrNotExist identity.
func probeDevice(dev string) error {
	f, err := os.OpenFile(dev, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

func listDevices(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nodes, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("failed to list video devices: %w", err)
	}
	sort.Strings(nodes)
	return append(nodes, TestSource), nil
}
