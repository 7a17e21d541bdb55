package cmd

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/audiolibrelab/cliptalk/internal/capture"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"sources"},
	Short:   "List available capture devices",
	Long: `List the cameras ffmpeg can open on this platform. The special device
"testsrc" produces a synthetic test pattern and needs no hardware.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		devices, err := capture.NewPlatform().List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}

		fmt.Printf("Capture devices (%s, %d found):\n", runtime.GOOS, len(devices))
		for i, d := range devices {
			marker := " "
			if d == cfg.Capture.Device {
				marker = "*"
			}
			fmt.Printf(" %s %d. %s\n", marker, i+1, d)
		}
		fmt.Printf("\nSet capture.device in the config file to choose one.\n")
		return nil
	},
}
