package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMergeConfigs_ProfileOverridesDefault(t *testing.T) {
	base := &Config{
		Capture: CaptureConfig{Device: "/dev/video0", Width: 1280, Height: 720, FrameRate: 30, FacingMode: "user"},
		Recording: RecordingConfig{
			CountdownSeconds: 3,
			TimesliceMS:      1000,
			MIMEType:         "video/webm;codecs=vp9,opus",
		},
		Upload: UploadConfig{Endpoint: "http://localhost:8000/upload", FieldName: "video", Timeout: time.Minute},
		Server: ServerConfig{Port: 8080},
	}

	profile := &Config{
		Capture:   CaptureConfig{Device: "/dev/video2", Width: 640, Height: 480, Audio: true},
		Recording: RecordingConfig{CountdownSeconds: 5},
		Upload:    UploadConfig{ReplyEndpoint: "http://localhost:8000/reply"},
	}

	result := mergeConfigs(base, profile)

	if result.Capture.Device != "/dev/video2" {
		t.Errorf("Expected device /dev/video2, got %s", result.Capture.Device)
	}
	if result.Capture.Width != 640 || result.Capture.Height != 480 {
		t.Errorf("Expected 640x480, got %dx%d", result.Capture.Width, result.Capture.Height)
	}
	if result.Capture.FrameRate != 30 {
		t.Errorf("Expected inherited frame rate 30, got %d", result.Capture.FrameRate)
	}
	if result.Capture.FacingMode != "user" {
		t.Errorf("Expected inherited facing mode 'user', got %s", result.Capture.FacingMode)
	}
	if !result.Capture.Audio {
		t.Error("Expected audio enabled by profile")
	}
	if result.Recording.CountdownSeconds != 5 {
		t.Errorf("Expected countdown 5, got %d", result.Recording.CountdownSeconds)
	}
	if result.Recording.MIMEType != "video/webm;codecs=vp9,opus" {
		t.Errorf("Expected inherited mime type, got %s", result.Recording.MIMEType)
	}
	if result.Upload.Endpoint != "http://localhost:8000/upload" || result.Upload.ReplyEndpoint != "http://localhost:8000/reply" {
		t.Errorf("Upload endpoints incorrect: %+v", result.Upload)
	}
	if result.Server.Port != 8080 {
		t.Errorf("Expected inherited port 8080, got %d", result.Server.Port)
	}

	// The base must not be modified by the merge
	if base.Capture.Device != "/dev/video0" || base.Capture.Audio {
		t.Errorf("Base config was modified: %+v", base.Capture)
	}
}

func TestMergeConfigs_NilProfile(t *testing.T) {
	result := mergeConfigs(&defaultConfig, nil)
	if *result != defaultConfig {
		t.Errorf("Expected defaults unchanged, got %+v", result)
	}
	if result == &defaultConfig {
		t.Error("Expected a copy of the base config")
	}
}

func TestDefaultsAreValid(t *testing.T) {
	c := Defaults()
	if err := c.Validate(); err != nil {
		t.Fatalf("Expected built-in defaults to validate, got: %v", err)
	}

	if c.Recording.CountdownSeconds != 3 {
		t.Errorf("Expected countdown 3, got %d", c.Recording.CountdownSeconds)
	}
	if c.Timeslice() != time.Second {
		t.Errorf("Expected 1s timeslice, got %s", c.Timeslice())
	}

	d := c.Durations()
	if d.Info != 3*time.Second || d.Short != 2*time.Second || d.Success != 3*time.Second || d.Error != 5*time.Second {
		t.Errorf("Unexpected notification durations: %+v", d)
	}

	con := c.Constraints()
	if con.Width != 1280 || con.Height != 720 || con.FacingMode != "user" || con.Audio {
		t.Errorf("Unexpected constraints: %+v", con)
	}

	if c.Address() != ":8080" {
		t.Errorf("Expected address ':8080', got %s", c.Address())
	}
}

func TestExpandPath(t *testing.T) {
	// Test tilde expansion
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/Videos/ClipTalk", filepath.Join(homeDir, "Videos", "ClipTalk")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"~", "~"}, // Should not expand bare tilde
		{"", ""},
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestLoadWithProfile_InheritsDefaultProfile(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: studio

configs:
  default:
    capture:
      device: /dev/video0
      audio: true
    upload:
      endpoint: https://api.example.com/videos
      timeout: 30s
    logging:
      file: ~/logs/cliptalk.log

  studio:
    capture:
      device: /dev/video4
      width: 1920
      height: 1080
    recording:
      countdown_seconds: 5
`)

	c, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if c.Profile != "studio" {
		t.Errorf("Expected profile 'studio', got %s", c.Profile)
	}
	if c.Capture.Device != "/dev/video4" || c.Capture.Width != 1920 || c.Capture.Height != 1080 {
		t.Errorf("Studio capture settings not applied: %+v", c.Capture)
	}
	if !c.Capture.Audio {
		t.Error("Expected audio inherited from default profile")
	}
	if c.Recording.CountdownSeconds != 5 {
		t.Errorf("Expected countdown 5, got %d", c.Recording.CountdownSeconds)
	}
	if c.Recording.TimesliceMS != 1000 {
		t.Errorf("Expected built-in timeslice 1000, got %d", c.Recording.TimesliceMS)
	}
	if c.Upload.Endpoint != "https://api.example.com/videos" {
		t.Errorf("Expected endpoint from default profile, got %s", c.Upload.Endpoint)
	}
	if c.Upload.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %s", c.Upload.Timeout)
	}
	if c.Upload.FieldName != "video" {
		t.Errorf("Expected built-in field name 'video', got %s", c.Upload.FieldName)
	}

	homeDir, _ := os.UserHomeDir()
	if c.Logging.File != filepath.Join(homeDir, "logs", "cliptalk.log") {
		t.Errorf("Expected expanded log path, got %s", c.Logging.File)
	}
}

func TestLoadWithProfile_ExplicitProfileWins(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: studio
configs:
  default:
    server:
      port: 9000
  studio:
    server:
      port: 9100
  laptop:
    capture:
      device: testsrc
`)

	c, err := LoadWithProfile(configFile, "laptop")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if c.Profile != "laptop" || c.Capture.Device != "testsrc" {
		t.Errorf("Expected laptop profile, got %s with device %s", c.Profile, c.Capture.Device)
	}
	if c.Server.Port != 9000 {
		t.Errorf("Expected port inherited from default profile, got %d", c.Server.Port)
	}
}

func TestLoadWithProfile_NoFileUsesDefaults(t *testing.T) {
	c, err := LoadWithProfile("", "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if c.Profile != "builtin" {
		t.Errorf("Expected builtin profile, got %s", c.Profile)
	}

	if _, err := LoadWithProfile("", "studio"); err == nil {
		t.Error("Expected error for a profile without a config file")
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: default
configs:
  default:
    server:
      port: 9000
  studio:
    capture:
      device: /dev/video2
`)

	if err := UpdateActiveConfig(configFile, "studio"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	c, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if c.Profile != "studio" {
		t.Errorf("Expected active profile 'studio', got %s", c.Profile)
	}

	if err := UpdateActiveConfig(configFile, "missing"); err == nil {
		t.Error("Expected error switching to an unknown profile")
	}
}
