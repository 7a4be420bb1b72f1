package job

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CreateParams carries the validated inputs for a new job.
type CreateParams struct {
	Mode            Mode
	SourcePath      string
	OutputPath      string
	DisplayName     string
	TransientSource bool
}

// Registry is the process-wide owner of job records. Its lock guards only
// the map itself and is never held across I/O; per-job state has its own
// synchronization. Finished jobs are evicted on creation once they exceed
// the configured count or age, running jobs never are.
type Registry struct {
	mu          sync.Mutex
	jobs        map[string]*Job
	maxFinished int
	retention   time.Duration
}

// NewRegistry returns an empty registry. maxFinished <= 0 disables the
// count cap, retention <= 0 disables age-based eviction.
func NewRegistry(maxFinished int, retention time.Duration) *Registry {
	return &Registry{
		jobs:        make(map[string]*Job),
		maxFinished: maxFinished,
		retention:   retention,
	}
}

// Create registers a fully-initialized job and returns it. The job starts
// in the running state with an empty event log and a live cancellation
// context.
func (r *Registry) Create(p CreateParams) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:              uuid.NewString(),
		Mode:            p.Mode,
		SourcePath:      p.SourcePath,
		OutputPath:      p.OutputPath,
		DisplayName:     p.DisplayName,
		CreatedAt:       time.Now().UTC(),
		TransientSource: p.TransientSource,
		Log:             NewEventLog(),
		ctx:             ctx,
		cancel:          cancel,
		status:          StatusRunning,
	}

	r.mu.Lock()
	r.evictLocked()
	r.jobs[j.ID] = j
	r.mu.Unlock()

	return j
}

// Get returns the job with the given id.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

// List returns snapshots of all registered jobs, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Cancel requests cancellation of the job with the given id. Unknown ids
// and already-finished jobs are no-ops, so the operation is idempotent and
// never errors.
func (r *Registry) Cancel(id string) {
	if j, ok := r.Get(id); ok {
		j.Cancel()
	}
}

// IsCancelled reports whether cancellation has been requested for the job.
// Unknown ids report false.
func (r *Registry) IsCancelled(id string) bool {
	j, ok := r.Get(id)
	return ok && j.Cancelled()
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// caller must hold r.mu
func (r *Registry) evictLocked() {
	type finished struct {
		id     string
		doneAt time.Time
	}

	var done []finished
	for id, j := range r.jobs {
		if at, ok := j.doneTime(); ok {
			if r.retention > 0 && time.Since(at) > r.retention {
				delete(r.jobs, id)
				continue
			}
			done = append(done, finished{id: id, doneAt: at})
		}
	}

	if r.maxFinished <= 0 || len(done) <= r.maxFinished {
		return
	}

	slices.SortFunc(done, func(a, b finished) int {
		return a.doneAt.Compare(b.doneAt)
	})
	for i := 0; i < len(done)-r.maxFinished; i++ {
		delete(r.jobs, done[i].id)
	}
}
