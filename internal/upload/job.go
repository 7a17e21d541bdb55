package upload

import (
	"context"
	"sync"
	"time"

	"github.com/audiolibrelab/cliptalk/internal/media"
)

// State is the lifecycle state of an upload job.
type State string

const (
	StateUploading State = "UPLOADING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// Job is one clip in transit. Once it leaves StateUploading it never
// changes again.
type Job struct {
	ID       string
	Clip     *media.Clip
	LocalRef string
	Metadata media.Metadata
	Started  time.Time

	cancel context.CancelFunc
	done   chan struct{}

	// report orders progress publication against settling.
	report sync.Mutex

	mu       sync.Mutex
	state    State
	progress int
	result   *Result
	err      *Error
}

// Status is a snapshot of a job.
type Status struct {
	ID       string `json:"id"`
	State    State  `json:"state"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Progress returns the percentage sent, 0 to 100.
func (j *Job) Progress() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

func (j *Job) Result() *Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Err returns the failure, or nil for an upload in flight or succeeded.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err == nil {
		return nil
	}
	return j.err
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := Status{ID: j.ID, State: j.state, Progress: j.progress}
	if j.err != nil && j.state == StateFailed {
		st.Error = j.err.Message()
	}
	return st
}

func (j *Job) advance(percent int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateUploading || percent <= j.progress {
		return false
	}
	j.progress = percent
	return true
}

// settle moves the job to a terminal state. Only the first caller wins.
func (j *Job) settle(state State, result *Result, err *Error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateUploading {
		return false
	}
	j.state = state
	j.result = result
	j.err = err
	if state == StateSucceeded {
		j.progress = 100
	}
	close(j.done)
	return true
}
