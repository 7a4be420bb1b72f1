// Package job tracks pipeline executions: the per-job event log and the
// process-wide registry that owns job records.
package job

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status represents the lifecycle state of a job. A job is running from
// creation until its executor has finished terminal cleanup, whatever the
// outcome; cancellation and failure are reported through the event log and
// the cancelled flag, not through extra statuses.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
)

// Mode selects how the source tree maps to output PDFs.
type Mode string

const (
	// ModeUnified merges the whole source tree into a single output.
	ModeUnified Mode = "unified"
	// ModePerFolder produces one output per top-level source subfolder.
	ModePerFolder Mode = "per_folder"
)

// ParseMode validates a wire-format mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeUnified, ModePerFolder:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Job is one pipeline execution. Identity fields are immutable after
// creation; status and the cancelled flag are guarded by the job's mutex and
// mutated only by the owning executor goroutine and by cancellation
// requests.
type Job struct {
	ID          string
	Mode        Mode
	SourcePath  string
	OutputPath  string
	DisplayName string
	CreatedAt   time.Time

	// TransientSource marks a source directory produced by an upload,
	// which the executor releases during terminal cleanup.
	TransientSource bool

	Log *EventLog

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    Status
	cancelled bool
	doneAt    time.Time
}

// Context returns the job's cancellation context. It is cancelled by
// Cancel; executors observe it only between discrete units of work.
func (j *Job) Context() context.Context {
	return j.ctx
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// MarkDone transitions the job to done. The transition happens once;
// further calls are no-ops.
func (j *Job) MarkDone() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusDone {
		j.status = StatusDone
		j.doneAt = time.Now().UTC()
	}
}

// doneTime reports when the job finished, if it has.
func (j *Job) doneTime() (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusDone {
		return time.Time{}, false
	}
	return j.doneAt, true
}

// Cancel sets the monotonic cancelled flag and cancels the job context.
// It is safe to call at any time, any number of times.
func (j *Job) Cancel() {
	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()
	j.cancel()
}

// Cancelled reports whether cancellation has been requested.
func (j *Job) Cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// Snapshot is a point-in-time read model of a job.
type Snapshot struct {
	ID          string    `json:"job_id"`
	Mode        Mode      `json:"mode"`
	DisplayName string    `json:"display_name,omitempty"`
	SourcePath  string    `json:"source_path"`
	OutputPath  string    `json:"output_path"`
	Status      Status    `json:"status"`
	Cancelled   bool      `json:"cancelled"`
	CreatedAt   time.Time `json:"created_at"`
	Events      int       `json:"events"`
}

// Snapshot returns a consistent copy of the job's observable state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	status := j.status
	cancelled := j.cancelled
	j.mu.Unlock()

	return Snapshot{
		ID:          j.ID,
		Mode:        j.Mode,
		DisplayName: j.DisplayName,
		SourcePath:  j.SourcePath,
		OutputPath:  j.OutputPath,
		Status:      status,
		Cancelled:   cancelled,
		CreatedAt:   j.CreatedAt,
		Events:      j.Log.Len(),
	}
}
