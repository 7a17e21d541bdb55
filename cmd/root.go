package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/audiolibrelab/cliptalk/internal/config"
	"github.com/audiolibrelab/cliptalk/internal/logging"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
	logCloser    io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "cliptalk",
	Short: "Record short video clips and send them to a conversational backend",
	Long: `ClipTalk captures a clip from the camera after a short countdown,
uploads it to a backend and shows the backend's reply as a conversation.

Use 'cliptalk serve' for the web interface or 'cliptalk record' for a
single take from the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logCloser = logging.Setup(logging.Options{Verbose: verboseLevel})

		var err error
		cfg, err = loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Logging.File != "" {
			logCloser.Close()
			logCloser = logging.Setup(logging.Options{Verbose: verboseLevel, File: cfg.Logging.File})
		}
		slog.Debug("Configuration loaded", "file", cfgFile, "profile", cfg.Profile)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// loadConfig resolves --config and --profile. A missing default config file
// falls back to the built-in settings; a missing explicit one is an error.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadWithProfile(cfgFile, profile)
	}

	path := defaultConfigPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Debug("No config file found, using built-in defaults", "path", path)
		return config.LoadWithProfile("", profile)
	}
	cfgFile = path
	return config.LoadWithProfile(cfgFile, profile)
}

func defaultConfigPath() string {
	return os.ExpandEnv("$HOME/.config/cliptalk.yaml")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/cliptalk.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().CountVarP(&verboseLevel, "verbose", "v", "verbose output (-v for debug)")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(serveCmd)
}
