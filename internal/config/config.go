package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/cliptalk/internal/device"
	"github.com/audiolibrelab/cliptalk/internal/notify"
)

// RootConfig is the file layout: named profiles plus the one in use.
type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Capture       CaptureConfig       `mapstructure:"capture" yaml:"capture"`
	Recording     RecordingConfig     `mapstructure:"recording" yaml:"recording"`
	Upload        UploadConfig        `mapstructure:"upload" yaml:"upload"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Logging       LoggingConfig       `mapstructure:"logging" yaml:"logging"`

	// Name of the profile this config was resolved from.
	Profile string `mapstructure:"-" yaml:"-"`
}

type CaptureConfig struct {
	Device      string `mapstructure:"device" yaml:"device"`
	AudioDevice string `mapstructure:"audio_device" yaml:"audio_device"`
	Width       int    `mapstructure:"width" yaml:"width"`
	Height      int    `mapstructure:"height" yaml:"height"`
	FrameRate   int    `mapstructure:"frame_rate" yaml:"frame_rate"`
	FacingMode  string `mapstructure:"facing_mode" yaml:"facing_mode"` // "user" or "environment"
	Audio       bool   `mapstructure:"audio" yaml:"audio"`
}

type RecordingConfig struct {
	CountdownSeconds int    `mapstructure:"countdown_seconds" yaml:"countdown_seconds"`
	TimesliceMS      int    `mapstructure:"timeslice_ms" yaml:"timeslice_ms"`
	MIMEType         string `mapstructure:"mime_type" yaml:"mime_type"`
	FFmpegPath       string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	ClipsDirectory   string `mapstructure:"clips_directory" yaml:"clips_directory"`
}

type UploadConfig struct {
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	ReplyEndpoint string        `mapstructure:"reply_endpoint" yaml:"reply_endpoint"`
	FieldName     string        `mapstructure:"field_name" yaml:"field_name"`
	FileName      string        `mapstructure:"file_name" yaml:"file_name"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type NotificationsConfig struct {
	InfoMS    int `mapstructure:"info_ms" yaml:"info_ms"`
	ShortMS   int `mapstructure:"short_ms" yaml:"short_ms"`
	SuccessMS int `mapstructure:"success_ms" yaml:"success_ms"`
	ErrorMS   int `mapstructure:"error_ms" yaml:"error_ms"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type LoggingConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

var defaultConfig = Config{
	Capture: CaptureConfig{
		Width:      1280,
		Height:     720,
		FrameRate:  30,
		FacingMode: "user",
	},
	Recording: RecordingConfig{
		CountdownSeconds: 3,
		TimesliceMS:      1000,
		MIMEType:         "video/webm;codecs=vp9,opus",
		FFmpegPath:       "ffmpeg",
		ClipsDirectory:   filepath.Join(os.TempDir(), "cliptalk", "clips"),
	},
	Upload: UploadConfig{
		Endpoint:  "http://localhost:8000/upload",
		FieldName: "video",
		FileName:  "recording.webm",
		Timeout:   2 * time.Minute,
	},
	Notifications: NotificationsConfig{
		InfoMS:    3000,
		ShortMS:   2000,
		SuccessMS: 3000,
		ErrorMS:   5000,
	},
	Server: ServerConfig{
		Port: 8080,
	},
}

// Defaults returns a copy of the built-in configuration.
func Defaults() *Config {
	c := defaultConfig
	c.Profile = "builtin"
	return &c
}

// LoadWithProfile reads configFile and resolves profile (or the file's
// active_config, or "default"). The result inherits every unset field from
// the "default" profile and then from the built-in defaults. An empty
// configFile yields the built-in defaults.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		if profile != "" {
			return nil, fmt.Errorf("profile '%s' requested without a config file", profile)
		}
		return Defaults(), nil
	}

	rootConfig, err := ReadRootConfig(configFile)
	if err != nil {
		return nil, err
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	result := mergeConfigs(&defaultConfig, rootConfig.Configs["default"])
	if configName != "default" {
		result = mergeConfigs(result, selected)
	}
	result.Profile = configName

	result.Recording.ClipsDirectory = expandPath(result.Recording.ClipsDirectory)
	result.Logging.File = expandPath(result.Logging.File)

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return result, nil
}

// ReadRootConfig parses the file without resolving a profile.
func ReadRootConfig(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("CLIPTALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("config file %s defines no profiles", configFile)
	}
	for name, c := range rootConfig.Configs {
		if c == nil {
			rootConfig.Configs[name] = &Config{}
		}
	}
	return &rootConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	rootConfig, err := ReadRootConfig(configFile)
	if err != nil {
		return err
	}
	if _, ok := rootConfig.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	v.Set("active_config", newActiveConfig)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// mergeConfigs overlays every non-zero field of profile onto a copy of base.
// Booleans can only be switched on by an overlay.
func mergeConfigs(base, profile *Config) *Config {
	result := *base
	if profile == nil {
		return &result
	}

	c, p := &result.Capture, profile.Capture
	c.Device = pick(p.Device, c.Device)
	c.AudioDevice = pick(p.AudioDevice, c.AudioDevice)
	c.Width = pick(p.Width, c.Width)
	c.Height = pick(p.Height, c.Height)
	c.FrameRate = pick(p.FrameRate, c.FrameRate)
	c.FacingMode = pick(p.FacingMode, c.FacingMode)
	c.Audio = c.Audio || p.Audio

	r, pr := &result.Recording, profile.Recording
	r.CountdownSeconds = pick(pr.CountdownSeconds, r.CountdownSeconds)
	r.TimesliceMS = pick(pr.TimesliceMS, r.TimesliceMS)
	r.MIMEType = pick(pr.MIMEType, r.MIMEType)
	r.FFmpegPath = pick(pr.FFmpegPath, r.FFmpegPath)
	r.ClipsDirectory = pick(pr.ClipsDirectory, r.ClipsDirectory)

	u, pu := &result.Upload, profile.Upload
	u.Endpoint = pick(pu.Endpoint, u.Endpoint)
	u.ReplyEndpoint = pick(pu.ReplyEndpoint, u.ReplyEndpoint)
	u.FieldName = pick(pu.FieldName, u.FieldName)
	u.FileName = pick(pu.FileName, u.FileName)
	u.Timeout = pick(pu.Timeout, u.Timeout)

	n, pn := &result.Notifications, profile.Notifications
	n.InfoMS = pick(pn.InfoMS, n.InfoMS)
	n.ShortMS = pick(pn.ShortMS, n.ShortMS)
	n.SuccessMS = pick(pn.SuccessMS, n.SuccessMS)
	n.ErrorMS = pick(pn.ErrorMS, n.ErrorMS)

	result.Server.Host = pick(profile.Server.Host, result.Server.Host)
	result.Server.Port = pick(profile.Server.Port, result.Server.Port)
	result.Logging.File = pick(profile.Logging.File, result.Logging.File)

	return &result
}

func pick[T comparable](override, fallback T) T {
	var zero T
	if override != zero {
		return override
	}
	return fallback
}

// Validate checks a resolved config.
func (c *Config) Validate() error {
	var errs []error

	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		errs = append(errs, fmt.Errorf("capture: width and height must be positive, got %dx%d", c.Capture.Width, c.Capture.Height))
	}
	if c.Capture.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("capture: frame_rate must be positive, got %d", c.Capture.FrameRate))
	}
	if fm := c.Capture.FacingMode; fm != "" && fm != "user" && fm != "environment" {
		errs = append(errs, fmt.Errorf("capture: facing_mode must be 'user' or 'environment', got: %s", fm))
	}

	if c.Recording.CountdownSeconds < 0 {
		errs = append(errs, fmt.Errorf("recording: countdown_seconds cannot be negative, got %d", c.Recording.CountdownSeconds))
	}
	if c.Recording.TimesliceMS < 100 {
		errs = append(errs, fmt.Errorf("recording: timeslice_ms must be at least 100, got %d", c.Recording.TimesliceMS))
	}
	if !strings.HasPrefix(c.Recording.MIMEType, "video/") {
		errs = append(errs, fmt.Errorf("recording: mime_type must be a video type, got: %s", c.Recording.MIMEType))
	}

	if err := validateURL("upload.endpoint", c.Upload.Endpoint, true); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("upload.reply_endpoint", c.Upload.ReplyEndpoint, false); err != nil {
		errs = append(errs, err)
	}
	if c.Upload.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("upload: timeout must be positive, got %s", c.Upload.Timeout))
	}

	for name, ms := range map[string]int{
		"info_ms":    c.Notifications.InfoMS,
		"short_ms":   c.Notifications.ShortMS,
		"success_ms": c.Notifications.SuccessMS,
		"error_ms":   c.Notifications.ErrorMS,
	} {
		if ms <= 0 {
			errs = append(errs, fmt.Errorf("notifications: %s must be positive, got %d", name, ms))
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server: port out of range: %d", c.Server.Port))
	}

	return errors.Join(errs...)
}

func validateURL(field, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got: %s", field, raw)
	}
	return nil
}

// Constraints returns the capture request for the device manager.
func (c *Config) Constraints() device.Constraints {
	return device.Constraints{
		Device:      c.Capture.Device,
		AudioDevice: c.Capture.AudioDevice,
		Width:       c.Capture.Width,
		Height:      c.Capture.Height,
		FrameRate:   c.Capture.FrameRate,
		FacingMode:  c.Capture.FacingMode,
		Audio:       c.Capture.Audio,
	}
}

// Durations returns the notification display times.
func (c *Config) Durations() notify.Durations {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return notify.Durations{
		Info:    ms(c.Notifications.InfoMS),
		Short:   ms(c.Notifications.ShortMS),
		Success: ms(c.Notifications.SuccessMS),
		Error:   ms(c.Notifications.ErrorMS),
	}
}

// Timeslice is how often the recorder hands over a chunk.
func (c *Config) Timeslice() time.Duration {
	return time.Duration(c.Recording.TimesliceMS) * time.Millisecond
}

// Address is the listen address of the HTTP server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
