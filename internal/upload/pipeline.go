// Package upload transmits finished clips to the backend, reports progress,
// supports cancellation and fetches the backend's follow-up response.
package upload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/cliptalk/internal/media"
	"github.com/audiolibrelab/cliptalk/internal/notify"
)

// ProgressFunc receives cumulative bytes sent out of total.
type ProgressFunc func(sent, total int64)

// Request is one clip to transmit.
type Request struct {
	Clip      *media.Clip
	Metadata  media.Metadata
	FieldName string
	FileName  string
}

// Result is what the backend returned for a successful upload.
type Result struct {
	Reference   string `json:"reference,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Payload     []byte `json:"-"`
}

// Reply is the backend's follow-up response.
type Reply struct {
	ContentType string
	Payload     []byte
}

// Transport moves bytes to the backend.
type Transport interface {
	Upload(ctx context.Context, req Request, progress ProgressFunc) (*Result, error)
	Reply(ctx context.Context, sessionID string) (*Reply, error)
}

// Sink receives the outward events of the pipeline.
type Sink interface {
	VideoRecorded(localRef string, result *Result)
	ResponseReceived(reply *Reply)
}

// Options configure a Pipeline.
type Options struct {
	Notifier  notify.Notifier
	Sink      Sink
	Durations notify.Durations

	// FollowUp enables the reply request after a successful upload.
	FollowUp     bool
	SessionID    string
	ReplyTimeout time.Duration

	// OnProgress is called whenever a job's progress increases.
	OnProgress func(job *Job, percent int)
}

// Pipeline runs uploads, at most one of which is active at a time.
type Pipeline struct {
	transport Transport
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active *Job
}

// NewPipeline creates a pipeline over transport.
func NewPipeline(transport Transport, opts Options) *Pipeline {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		transport: transport,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit starts uploading clip. A job still in flight is cancelled first.
func (p *Pipeline) Submit(clip *media.Clip, localRef string, meta media.Metadata) *Job {
	ctx, cancel := context.WithCancel(p.ctx)
	job := &Job{
		ID:       uuid.NewString(),
		Clip:     clip,
		LocalRef: localRef,
		Metadata: meta,
		Started:  time.Now(),
		state:    StateUploading,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	prev := p.active
	p.active = job
	p.mu.Unlock()

	if prev != nil {
		slog.Info("Superseding active upload", "job_id", prev.ID, "new_job_id", job.ID)
		p.Cancel(prev)
	}

	slog.Info("Upload started", "job_id", job.ID, "clip_id", clip.ID, "bytes", clip.Size())
	p.wg.Add(1)
	go p.run(ctx, job)
	return job
}

// Active returns the job in flight, if any.
func (p *Pipeline) Active() *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Cancel aborts job if it is still uploading. It reports whether the job
// was cancelled by this call.
func (p *Pipeline) Cancel(job *Job) bool {
	if !p.abort(job) {
		return false
	}
	slog.Info("Upload cancelled", "job_id", job.ID, "progress", job.Progress())
	notify.Emit(p.opts.Notifier, notify.SeverityInfo, "Upload cancelled", p.opts.Durations.Short)
	return true
}

// CancelActive cancels the job in flight.
func (p *Pipeline) CancelActive() bool {
	job := p.Active()
	if job == nil {
		return false
	}
	return p.Cancel(job)
}

// Wait blocks until every started job and follow-up has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close aborts the active job without notifying, stops any follow-up and
// waits for the workers to exit.
func (p *Pipeline) Close() {
	if job := p.Active(); job != nil {
		p.abort(job)
	}
	p.cancel()
	p.wg.Wait()
}

// abort marks the job cancelled before tearing down its request, so a
// failure caused by the teardown cannot settle it first.
func (p *Pipeline) abort(job *Job) bool {
	if job == nil {
		return false
	}
	job.report.Lock()
	settled := job.settle(StateCancelled, nil, &Error{Kind: KindAborted, Err: context.Canceled})
	job.report.Unlock()
	if !settled {
		return false
	}
	job.cancel()
	p.release(job)
	return true
}

func (p *Pipeline) release(job *Job) {
	p.mu.Lock()
	if p.active == job {
		p.active = nil
	}
	p.mu.Unlock()
}

func (p *Pipeline) run(ctx context.Context, job *Job) {
	defer p.wg.Done()
	defer job.cancel()

	result, err := p.transport.Upload(ctx, clipRequest(job.Clip, job.Metadata), func(sent, total int64) {
		p.progress(job, sent, total)
	})
	if err != nil {
		uerr := AsError(err)
		job.report.Lock()
		settled := job.settle(StateFailed, nil, uerr)
		job.report.Unlock()
		if !settled {
			return
		}
		p.release(job)
		slog.Error("Upload failed", "job_id", job.ID, "kind", uerr.Kind, "status", uerr.Status, "error", uerr)
		notify.Emit(p.opts.Notifier, notify.SeverityError, "Failed to upload video: "+uerr.Message(), p.opts.Durations.Error)
		return
	}

	job.report.Lock()
	if !job.settle(StateSucceeded, result, nil) {
		job.report.Unlock()
		return
	}
	if p.opts.OnProgress != nil {
		p.opts.OnProgress(job, 100)
	}
	job.report.Unlock()
	p.release(job)
	slog.Info("Upload completed", "job_id", job.ID, "reference", result.Reference)
	notify.Emit(p.opts.Notifier, notify.SeveritySuccess, "Video uploaded successfully!", p.opts.Durations.Success)
	if p.opts.Sink != nil {
		p.opts.Sink.VideoRecorded(job.LocalRef, result)
	}

	if p.opts.FollowUp {
		p.followUp(job)
	}
}

func (p *Pipeline) progress(job *Job, sent, total int64) {
	if total <= 0 {
		return
	}
	percent := int(sent * 100 / total)
	if percent > 99 {
		percent = 99
	}
	job.report.Lock()
	defer job.report.Unlock()
	if job.advance(percent) && p.opts.OnProgress != nil {
		p.opts.OnProgress(job, percent)
	}
}

func (p *Pipeline) followUp(job *Job) {
	ctx, cancel := context.WithTimeout(p.ctx, p.opts.ReplyTimeout)
	defer cancel()

	reply, err := p.transport.Reply(ctx, p.opts.SessionID)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		uerr := AsError(err)
		slog.Error("Follow-up request failed", "job_id", job.ID, "error", uerr)
		notify.Emit(p.opts.Notifier, notify.SeverityError, "Failed to get a response: "+uerr.Message(), p.opts.Durations.Error)
		return
	}

	slog.Debug("Follow-up received", "job_id", job.ID, "content_type", reply.ContentType, "bytes", len(reply.Payload))
	if p.opts.Sink != nil {
		p.opts.Sink.ResponseReceived(reply)
	}
}
