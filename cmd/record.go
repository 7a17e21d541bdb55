package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/cliptalk/internal/recording"
	"github.com/audiolibrelab/cliptalk/internal/service"
	"github.com/audiolibrelab/cliptalk/internal/transcript"
	"github.com/audiolibrelab/cliptalk/internal/upload"

	"github.com/spf13/cobra"
)

const (
	pollInterval   = 100 * time.Millisecond
	handoffTimeout = 5 * time.Second
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one clip and send it to the backend",
	Long: `Open the camera, count down, record for --duration and upload the clip.
The backend's reply is printed once it arrives. Press Ctrl+C during the
countdown or the recording to discard the take.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		if duration <= 0 {
			return fmt.Errorf("--duration must be positive")
		}

		svc, err := service.New(cfg, cfgFile)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return recordTake(ctx, svc, duration)
	},
}

func recordTake(ctx context.Context, svc service.Service, duration time.Duration) error {
	if err := svc.Init(ctx); err != nil {
		return err
	}
	if err := svc.StartCountdown(); err != nil {
		return err
	}

	slog.Info("Get ready...", "countdown", cfg.Recording.CountdownSeconds)
	if err := waitForState(ctx, svc, recording.StateRecording); err != nil {
		return discard(svc, err)
	}

	slog.Info("Recording", "duration", duration)
	select {
	case <-ctx.Done():
		return discard(svc, ctx.Err())
	case <-time.After(duration):
	}

	if err := svc.Stop(); err != nil {
		return err
	}
	if err := waitForState(context.Background(), svc, recording.StateReady); err != nil {
		return err
	}
	if msg := svc.Status().Session.Error; msg != "" {
		return errors.New(msg)
	}

	job, err := waitForJob(svc)
	if err != nil {
		return err
	}

	select {
	case <-job.Done():
	case <-ctx.Done():
		svc.CancelUpload()
		<-job.Done()
	}
	svc.WaitUploads()

	if job.State() != upload.StateSucceeded {
		if jobErr := upload.AsError(job.Err()); jobErr != nil {
			return fmt.Errorf("upload failed: %s", jobErr.Message())
		}
		return fmt.Errorf("upload %s", job.State())
	}

	printTranscript(svc.Transcript())
	return nil
}

// waitForState polls until the session reaches want. Dropping back to READY
// or IDLE before that means the take was abandoned.
func waitForState(ctx context.Context, svc service.Service, want recording.State) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		snap := svc.Status().Session
		switch {
		case snap.State == want:
			return nil
		case want != recording.StateReady && (snap.State == recording.StateReady || snap.State == recording.StateIdle):
			if snap.Error != "" {
				return errors.New(snap.Error)
			}
			return fmt.Errorf("take ended while waiting for %s", want)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitForJob waits for the finalized clip to reach the upload pipeline
func waitForJob(svc service.Service) (*upload.Job, error) {
	deadline := time.Now().Add(handoffTimeout)
	for time.Now().Before(deadline) {
		if job := svc.LastJob(); job != nil {
			return job, nil
		}
		time.Sleep(pollInterval)
	}
	return nil, fmt.Errorf("recording was not handed over for upload")
}

func discard(svc service.Service, cause error) error {
	if err := svc.Cancel(); err != nil && !errors.Is(err, recording.ErrRejected) {
		slog.Warn("Failed to discard take", "error", err)
	}
	return cause
}

func printTranscript(messages []transcript.Message) {
	for _, m := range messages {
		switch m.Kind {
		case transcript.KindVideo:
			fmt.Printf("[%s] video %s\n", m.Sender, m.Remote)
		case transcript.KindText:
			fmt.Printf("[%s] %s\n", m.Sender, m.Text)
		default:
			fmt.Printf("[%s] %s (%s)\n", m.Sender, m.ContentType, m.ID)
		}
	}
}

func init() {
	recordCmd.Flags().DurationP("duration", "d", 5*time.Second, "how long to record after the countdown")
}
