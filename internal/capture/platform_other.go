//go:build !linux && !darwin

package capture

import "context"

const (
	inputFormat        = ""
	defaultVideoDevice = ""
	defaultAudioDevice = ""
	audioInputFormat   = ""
)

func probeDevice(string) error { return errUnsupportedPlatform }

func listDevices(context.Context) ([]string, error) {
	return []string{TestSource}, nil
}
