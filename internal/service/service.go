package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/audiolibrelab/cliptalk/internal/capture"
	"github.com/audiolibrelab/cliptalk/internal/config"
	"github.com/audiolibrelab/cliptalk/internal/device"
	"github.com/audiolibrelab/cliptalk/internal/media"
	"github.com/audiolibrelab/cliptalk/internal/notify"
	"github.com/audiolibrelab/cliptalk/internal/recording"
	"github.com/audiolibrelab/cliptalk/internal/timer"
	"github.com/audiolibrelab/cliptalk/internal/transcript"
	"github.com/audiolibrelab/cliptalk/internal/upload"
)

// Service is the controller: one recording session, one upload pipeline
// and the conversation they produce.
type Service interface {
	// Recording intents
	Init(ctx context.Context) error
	StartCountdown() error
	Pause() error
	Resume() error
	Stop() error
	Cancel() error

	// Upload intents
	CancelUpload() bool
	LastJob() *upload.Job
	WaitUploads()

	// Information
	Status() Status
	Transcript() []transcript.Message
	Media(id string) (contentType string, data []byte, ok bool)
	ClipPath(ref string) (string, bool)
	Devices(ctx context.Context) ([]string, error)
	Subscribe() (<-chan Update, func())

	// Configuration
	LoadProfile(profile string) error
	GetConfig() *config.Config
	GetLastError() string

	Close()
}

// Status is the combined view served to clients.
type Status struct {
	Session   recording.Snapshot `json:"session"`
	Elapsed   string             `json:"elapsed"`
	Upload    *upload.Status     `json:"upload,omitempty"`
	LastError string             `json:"last_error,omitempty"`
	Profile   string             `json:"profile"`
	SessionID string             `json:"session_id"`
}

// ErrBusy is returned by LoadProfile while a take or upload is under way.
var ErrBusy = errors.New("busy: finish or cancel the current take and upload first")

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	platform  device.Platform
	recorders recording.RecorderFactory
	scheduler timer.Scheduler
	transport upload.Transport
	followUp  *bool
	notifier  notify.Notifier
}

func WithPlatform(p device.Platform) Option { return func(o *options) { o.platform = p } }

func WithRecorders(f recording.RecorderFactory) Option { return func(o *options) { o.recorders = f } }

func WithScheduler(s timer.Scheduler) Option { return func(o *options) { o.scheduler = s } }

// WithTransport replaces the HTTP client. followUp says whether the
// transport can answer reply requests.
func WithTransport(t upload.Transport, followUp bool) Option {
	return func(o *options) {
		o.transport = t
		o.followUp = &followUp
	}
}

// WithNotifier adds a sink that receives every notification.
func WithNotifier(n notify.Notifier) Option { return func(o *options) { o.notifier = n } }

// components are rebuilt together whenever the profile changes.
type components struct {
	cfg      *config.Config
	session  *recording.Session
	pipeline *upload.Pipeline
	clips    *media.ClipStore
	devices  *device.Manager
}

// ClipTalkService is the main service implementation
type ClipTalkService struct {
	configFile string
	opts       options
	sessionID  string
	hub        *Hub
	log        *transcript.Log

	mu   sync.RWMutex
	c    *components
	job  *upload.Job
	done bool

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates the service for cfg. configFile is used by LoadProfile.
func New(cfg *config.Config, configFile string, opts ...Option) (*ClipTalkService, error) {
	s := &ClipTalkService{
		configFile: configFile,
		sessionID:  uuid.NewString(),
		hub:        NewHub(),
	}
	for _, o := range opts {
		o(&s.opts)
	}
	s.log = transcript.New(func(m transcript.Message) {
		s.hub.Publish(Update{Kind: UpdateMessage, Message: &m})
	})

	c, err := s.build(cfg)
	if err != nil {
		return nil, err
	}
	s.c = c
	return s, nil
}

func (s *ClipTalkService) build(cfg *config.Config) (*components, error) {
	clips, err := media.NewClipStore(cfg.Recording.ClipsDirectory)
	if err != nil {
		return nil, err
	}

	durations := cfg.Durations()
	notifier := notify.Multi{
		notify.NewLogNotifier(slog.Default()),
		notify.Func(s.trackErrors),
		s.hub,
		s.opts.notifier,
	}

	platform := s.opts.platform
	if platform == nil {
		platform = capture.NewPlatform()
	}
	recorders := s.opts.recorders
	if recorders == nil {
		recorders = capture.NewRecorders(cfg.Recording.FFmpegPath)
	}
	scheduler := s.opts.scheduler
	if scheduler == nil {
		scheduler = timer.NewScheduler(nil)
	}

	transport := s.opts.transport
	followUp := cfg.Upload.ReplyEndpoint != ""
	if transport == nil {
		transport = upload.NewClient(upload.ClientConfig{
			Endpoint:      cfg.Upload.Endpoint,
			ReplyEndpoint: cfg.Upload.ReplyEndpoint,
			FieldName:     cfg.Upload.FieldName,
			FileName:      cfg.Upload.FileName,
			Timeout:       cfg.Upload.Timeout,
		})
	} else if s.opts.followUp != nil {
		followUp = *s.opts.followUp
	}

	pipeline := upload.NewPipeline(transport, upload.Options{
		Notifier:  notifier,
		Sink:      s.log,
		Durations: durations,
		FollowUp:  followUp,
		SessionID: s.sessionID,
		OnProgress: func(job *upload.Job, _ int) {
			st := job.Status()
			s.hub.Publish(Update{Kind: UpdateProgress, Upload: &st})
		},
	})

	devices := device.NewManager(platform, notifier, durations.Error)
	session := recording.New(recording.Config{
		Constraints:      cfg.Constraints(),
		CountdownSeconds: cfg.Recording.CountdownSeconds,
		Timeslice:        cfg.Timeslice(),
		MIMEType:         cfg.Recording.MIMEType,
		Durations:        durations,
	}, recording.Deps{
		Devices:   devices,
		Recorders: recorders,
		Scheduler: scheduler,
		Clips:     clips,
		Notifier:  notifier,
		Handoff: func(clip *media.Clip, localRef string, meta media.Metadata) {
			s.handoff(pipeline, clip, localRef, meta)
		},
	})

	return &components{
		cfg:      cfg,
		session:  session,
		pipeline: pipeline,
		clips:    clips,
		devices:  devices,
	}, nil
}

func (s *ClipTalkService) handoff(p *upload.Pipeline, clip *media.Clip, localRef string, meta media.Metadata) {
	job := p.Submit(clip, localRef, meta)
	s.mu.Lock()
	s.job = job
	s.mu.Unlock()

	st := job.Status()
	s.hub.Publish(Update{Kind: UpdateProgress, Upload: &st})
}

func (s *ClipTalkService) current() *components {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c
}

// Init acquires the capture device (IDLE -> READY)
func (s *ClipTalkService) Init(ctx context.Context) error {
	slog.Debug("Service.Init called")
	return s.intent("initialize the camera", func(c *components) error {
		return c.session.Init(ctx)
	})
}

// StartCountdown starts a take (READY -> COUNTING_DOWN)
func (s *ClipTalkService) StartCountdown() error {
	return s.intent("start recording", func(c *components) error { return c.session.StartCountdown() })
}

func (s *ClipTalkService) Pause() error {
	return s.intent("pause recording", func(c *components) error { return c.session.Pause() })
}

func (s *ClipTalkService) Resume() error {
	return s.intent("resume recording", func(c *components) error { return c.session.Resume() })
}

// Stop finalizes the take; the clip is uploaded in the background
func (s *ClipTalkService) Stop() error {
	return s.intent("stop recording", func(c *components) error { return c.session.Stop() })
}

// Cancel discards the take without uploading it
func (s *ClipTalkService) Cancel() error {
	return s.intent("cancel recording", func(c *components) error { return c.session.Cancel() })
}

// intent runs one session transition. Rejected intents leave the last error
// alone; real failures replace it and successes clear it unless something
// asynchronous reported a newer error meanwhile.
func (s *ClipTalkService) intent(what string, fn func(c *components) error) error {
	before := s.GetLastError()
	err := fn(s.current())
	switch {
	case err == nil:
		s.clearLastErrorIf(before)
	case errors.Is(err, recording.ErrRejected):
		slog.Debug("Intent rejected", "intent", what, "error", err)
	default:
		s.setLastError(fmt.Sprintf("Failed to %s: %v", what, err))
	}
	s.publishStatus()
	return err
}

// CancelUpload aborts the upload in flight
func (s *ClipTalkService) CancelUpload() bool {
	cancelled := s.current().pipeline.CancelActive()
	if cancelled {
		s.publishStatus()
	}
	return cancelled
}

// LastJob returns the most recently submitted upload
func (s *ClipTalkService) LastJob() *upload.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.job
}

// WaitUploads blocks until every upload and follow-up has finished
func (s *ClipTalkService) WaitUploads() {
	s.current().pipeline.Wait()
}

// Status returns the combined state
func (s *ClipTalkService) Status() Status {
	c := s.current()
	snap := c.session.Snapshot()
	st := Status{
		Session:   snap,
		Elapsed:   recording.FormatElapsed(snap.Elapsed),
		LastError: s.GetLastError(),
		Profile:   c.cfg.Profile,
		SessionID: s.sessionID,
	}
	if job := s.LastJob(); job != nil {
		js := job.Status()
		st.Upload = &js
	}
	return st
}

func (s *ClipTalkService) publishStatus() {
	st := s.Status()
	s.hub.Publish(Update{Kind: UpdateStatus, Status: &st})
}

func (s *ClipTalkService) Transcript() []transcript.Message {
	return s.log.Messages()
}

func (s *ClipTalkService) Media(id string) (string, []byte, bool) {
	return s.log.Media(id)
}

// ClipPath resolves a local clip reference to its file
func (s *ClipTalkService) ClipPath(ref string) (string, bool) {
	return s.current().clips.Path(ref)
}

func (s *ClipTalkService) Devices(ctx context.Context) ([]string, error) {
	return s.current().devices.List(ctx)
}

// Subscribe streams updates until the returned function is called
func (s *ClipTalkService) Subscribe() (<-chan Update, func()) {
	return s.hub.Subscribe(0)
}

// LoadProfile switches to another configuration profile. The capture device
// is released and must be initialized again.
func (s *ClipTalkService) LoadProfile(profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.c
	switch old.session.Snapshot().State {
	case recording.StateIdle, recording.StateReady:
	default:
		return ErrBusy
	}
	if old.pipeline.Active() != nil {
		return ErrBusy
	}

	c, err := s.build(newCfg)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}
	old.session.Close()
	old.pipeline.Close()
	s.c = c

	slog.Info("Configuration profile loaded", "profile", newCfg.Profile)
	return nil
}

// GetConfig returns the current configuration
func (s *ClipTalkService) GetConfig() *config.Config {
	return s.current().cfg
}

// Close releases the capture device and aborts uploads
func (s *ClipTalkService) Close() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	c := s.c
	s.mu.Unlock()

	c.session.Close()
	c.pipeline.Close()
	if err := c.clips.Purge(); err != nil {
		slog.Warn("Failed to remove stored clips", "error", err)
	}
}

// trackErrors keeps the last error notification as the last error.
func (s *ClipTalkService) trackErrors(e notify.Event) {
	if e.Severity == notify.SeverityError {
		s.setLastError(e.Message)
	}
}

// GetLastError returns the last error message (thread-safe)
func (s *ClipTalkService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *ClipTalkService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Debug("Service error recorded", "error_message", err)
}

// clearLastErrorIf clears the last error if it is still prev (thread-safe)
func (s *ClipTalkService) clearLastErrorIf(prev string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	if s.lastError == prev {
		s.lastError = ""
	}
}

var _ Service = (*ClipTalkService)(nil)
