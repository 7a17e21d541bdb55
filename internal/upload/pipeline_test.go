package upload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/cliptalk/internal/media"
	"github.com/audiolibrelab/cliptalk/internal/notify"
)

type fakeTransport struct {
	upload func(ctx context.Context, req Request, progress ProgressFunc) (*Result, error)
	reply  func(ctx context.Context, sessionID string) (*Reply, error)
}

func (f *fakeTransport) Upload(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	return f.upload(ctx, req, progress)
}

func (f *fakeTransport) Reply(ctx context.Context, sessionID string) (*Reply, error) {
	if f.reply == nil {
		return nil, ErrNoReplyEndpoint
	}
	return f.reply(ctx, sessionID)
}

type recordingSink struct {
	mu      sync.Mutex
	calls   []string
	videos  []*Result
	refs    []string
	replies []*Reply
}

func (s *recordingSink) VideoRecorded(localRef string, result *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "video")
	s.refs = append(s.refs, localRef)
	s.videos = append(s.videos, result)
}

func (s *recordingSink) ResponseReceived(reply *Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "reply")
	s.replies = append(s.replies, reply)
}

func (s *recordingSink) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) record(_ *Job, percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, percent)
}

func (p *progressLog) Values() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.values...)
}

func testClip() *media.Clip {
	return media.NewClip(make([]byte, 1000), "video/webm;codecs=vp9,opus")
}

func testMeta() media.Metadata {
	return media.Metadata{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), DurationSeconds: 2, Format: "video/webm", Width: 1280, Height: 720}
}

func chunkedUpload(result *Result) func(context.Context, Request, ProgressFunc) (*Result, error) {
	return func(_ context.Context, req Request, progress ProgressFunc) (*Result, error) {
		total := int64(req.Clip.Size())
		for sent := int64(100); sent <= total; sent += 100 {
			progress(sent, total)
		}
		return result, nil
	}
}

func TestPipelineSuccessWithFollowUp(t *testing.T) {
	events := &notify.Collector{}
	sink := &recordingSink{}
	prog := &progressLog{}
	var gotSession string
	tr := &fakeTransport{
		upload: chunkedUpload(&Result{Reference: "remote/1", Payload: []byte("ok")}),
		reply: func(_ context.Context, sessionID string) (*Reply, error) {
			gotSession = sessionID
			return &Reply{ContentType: "text/plain", Payload: []byte("hello")}, nil
		},
	}
	p := NewPipeline(tr, Options{
		Notifier:   events,
		Sink:       sink,
		FollowUp:   true,
		SessionID:  "sess-1",
		OnProgress: prog.record,
	})

	job := p.Submit(testClip(), "/clips/a.webm", testMeta())
	p.Wait()

	assert.Equal(t, StateSucceeded, job.State())
	assert.Equal(t, 100, job.Progress())
	assert.Equal(t, "remote/1", job.Result().Reference)
	assert.NoError(t, job.Err())
	assert.Nil(t, p.Active())

	values := prog.Values()
	require.NotEmpty(t, values)
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress must not decrease")
	}
	assert.Equal(t, 100, values[len(values)-1])

	assert.Equal(t, []string{"video", "reply"}, sink.Calls())
	assert.Equal(t, []string{"/clips/a.webm"}, sink.refs)
	assert.Equal(t, "hello", string(sink.replies[0].Payload))
	assert.Equal(t, "sess-1", gotSession)
	assert.Equal(t, []string{"Video uploaded successfully!"}, events.Messages())
}

func TestPipelineFollowUpFailureKeepsSuccess(t *testing.T) {
	events := &notify.Collector{}
	sink := &recordingSink{}
	tr := &fakeTransport{
		upload: chunkedUpload(&Result{Reference: "remote/2"}),
		reply: func(context.Context, string) (*Reply, error) {
			return nil, &Error{Kind: KindServerRejected, Status: 500, Detail: "model unavailable"}
		},
	}
	p := NewPipeline(tr, Options{Notifier: events, Sink: sink, FollowUp: true})

	job := p.Submit(testClip(), "/clips/b.webm", testMeta())
	p.Wait()

	assert.Equal(t, StateSucceeded, job.State())
	assert.Equal(t, []string{"video"}, sink.Calls(), "no reply event on follow-up failure")
	assert.Equal(t, 1, events.Count(notify.SeverityError))
	assert.Equal(t, 1, events.Count(notify.SeveritySuccess))
	assert.Equal(t, []string{
		"Video uploaded successfully!",
		"Failed to get a response: model unavailable",
	}, events.Messages())
}

func TestPipelineNoFollowUpWhenDisabled(t *testing.T) {
	sink := &recordingSink{}
	called := false
	tr := &fakeTransport{
		upload: chunkedUpload(&Result{}),
		reply: func(context.Context, string) (*Reply, error) {
			called = true
			return &Reply{}, nil
		},
	}
	p := NewPipeline(tr, Options{Sink: sink})
	p.Submit(testClip(), "", testMeta())
	p.Wait()

	assert.False(t, called)
	assert.Equal(t, []string{"video"}, sink.Calls())
}

func TestPipelineFailureNotifiesSpecificDetail(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{
			name:    "server detail",
			err:     &Error{Kind: KindServerRejected, Status: 422, Detail: "clip too short"},
			message: "Failed to upload video: clip too short",
		},
		{
			name:    "server without detail",
			err:     &Error{Kind: KindServerRejected, Status: 503},
			message: "Failed to upload video: server responded with status 503",
		},
		{
			name:    "network",
			err:     errors.New("dial tcp: connection refused"),
			message: "Failed to upload video: Backend server not available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &notify.Collector{}
			sink := &recordingSink{}
			tr := &fakeTransport{upload: func(context.Context, Request, ProgressFunc) (*Result, error) {
				return nil, tt.err
			}}
			p := NewPipeline(tr, Options{Notifier: events, Sink: sink, FollowUp: true})

			job := p.Submit(testClip(), "", testMeta())
			p.Wait()

			assert.Equal(t, StateFailed, job.State())
			assert.Error(t, job.Err())
			assert.Empty(t, sink.Calls())
			assert.Equal(t, []string{tt.message}, events.Messages())
		})
	}
}

func TestPipelineCancelFreezesProgress(t *testing.T) {
	events := &notify.Collector{}
	sink := &recordingSink{}
	prog := &progressLog{}
	reached := make(chan struct{})
	tr := &fakeTransport{upload: func(ctx context.Context, _ Request, progress ProgressFunc) (*Result, error) {
		progress(400, 1000)
		close(reached)
		<-ctx.Done()
		// Late events after the abort must be dropped.
		progress(800, 1000)
		return nil, &Error{Kind: KindAborted, Err: ctx.Err()}
	}}
	p := NewPipeline(tr, Options{Notifier: events, Sink: sink, OnProgress: prog.record})

	job := p.Submit(testClip(), "", testMeta())
	<-reached
	assert.True(t, p.Cancel(job))
	p.Wait()

	assert.Equal(t, StateCancelled, job.State())
	assert.Equal(t, 40, job.Progress())
	assert.Equal(t, []int{40}, prog.Values())
	assert.Equal(t, []string{"Upload cancelled"}, events.Messages())
	assert.Empty(t, sink.Calls())
	assert.Nil(t, p.Active())

	select {
	case <-job.Done():
	default:
		t.Fatal("cancelled job should be done")
	}
	assert.False(t, p.Cancel(job), "second cancel is a no-op")
	assert.Len(t, events.Messages(), 1)
}

func TestPipelineProgressInFlightLandsBeforeCompletion(t *testing.T) {
	prog := &progressLog{}
	entered := make(chan struct{})
	tr := &fakeTransport{upload: func(_ context.Context, _ Request, progress ProgressFunc) (*Result, error) {
		go progress(900, 1000)
		<-entered
		return &Result{Reference: "remote/1"}, nil
	}}
	p := NewPipeline(tr, Options{OnProgress: func(job *Job, percent int) {
		if percent == 90 {
			close(entered)
			time.Sleep(50 * time.Millisecond)
		}
		prog.record(job, percent)
	}})

	job := p.Submit(testClip(), "", testMeta())
	p.Wait()

	assert.Equal(t, StateSucceeded, job.State())
	assert.Equal(t, []int{90, 100}, prog.Values())
}

func TestPipelineCancelWaitsForProgressInFlight(t *testing.T) {
	events := &notify.Collector{}
	prog := &progressLog{}
	entered := make(chan struct{})
	tr := &fakeTransport{upload: func(ctx context.Context, _ Request, progress ProgressFunc) (*Result, error) {
		progress(500, 1000)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p := NewPipeline(tr, Options{Notifier: events, OnProgress: func(job *Job, percent int) {
		close(entered)
		time.Sleep(50 * time.Millisecond)
		prog.record(job, percent)
	}})

	job := p.Submit(testClip(), "", testMeta())
	<-entered
	require.True(t, p.Cancel(job))
	assert.Equal(t, []int{50}, prog.Values(), "publication finished before cancel returned")
	p.Wait()

	assert.Equal(t, StateCancelled, job.State())
	assert.Equal(t, 50, job.Progress())
	assert.Equal(t, []string{"Upload cancelled"}, events.Messages())
}

func TestPipelineCancelAfterSuccessIsNoop(t *testing.T) {
	events := &notify.Collector{}
	p := NewPipeline(&fakeTransport{upload: chunkedUpload(&Result{})}, Options{Notifier: events})

	job := p.Submit(testClip(), "", testMeta())
	p.Wait()

	assert.False(t, p.Cancel(job))
	assert.False(t, p.CancelActive())
	assert.Equal(t, StateSucceeded, job.State())
	assert.Equal(t, []string{"Video uploaded successfully!"}, events.Messages())
}

func TestPipelineSubmitSupersedesActiveJob(t *testing.T) {
	events := &notify.Collector{}
	first := true
	var mu sync.Mutex
	started := make(chan struct{})
	tr := &fakeTransport{upload: func(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
		mu.Lock()
		isFirst := first
		first = false
		mu.Unlock()
		if isFirst {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &Result{Reference: "second"}, nil
	}}
	p := NewPipeline(tr, Options{Notifier: events})

	a := p.Submit(testClip(), "", testMeta())
	<-started
	b := p.Submit(testClip(), "", testMeta())
	p.Wait()

	assert.Equal(t, StateCancelled, a.State())
	assert.Equal(t, StateSucceeded, b.State())
	assert.Equal(t, []string{"Upload cancelled", "Video uploaded successfully!"}, events.Messages())
}

func TestPipelineCloseAbortsSilently(t *testing.T) {
	events := &notify.Collector{}
	started := make(chan struct{})
	tr := &fakeTransport{upload: func(ctx context.Context, _ Request, _ ProgressFunc) (*Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p := NewPipeline(tr, Options{Notifier: events})

	job := p.Submit(testClip(), "", testMeta())
	<-started

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.Equal(t, StateCancelled, job.State())
	assert.Empty(t, events.Messages())
}
