package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CZERTAINLY/Runner/internal/model"
)

// Handle is the future of a submitted job.
type Handle struct {
	base model.Job // snapshot taken at submission

	mu       sync.Mutex
	started  *time.Time
	job      model.Job
	timedOut bool

	once sync.Once
	done chan struct{}
}

func newHandle(base model.Job) *Handle {
	return &Handle{
		base: base,
		done: make(chan struct{}),
	}
}

// JobID returns the id of the submitted job.
func (h *Handle) JobID() string {
	return h.base.JobID
}

// Done is closed when the job got resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job is resolved or ctx is done.
func (h *Handle) Wait(ctx context.Context) (model.Job, error) {
	select {
	case <-h.done:
		job, _ := h.Job()
		return job, nil
	case <-ctx.Done():
		return model.Job{}, ctx.Err()
	}
}

// Job returns the terminal snapshot of the job and true once resolved.
func (h *Handle) Job() (model.Job, bool) {
	select {
	case <-h.done:
	default:
		return model.Job{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.Snapshot(), true
}

// TimedOut reports whether the handle was resolved by a timeout.
func (h *Handle) TimedOut() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timedOut
}

func (h *Handle) markStarted() {
	t := time.Now().UTC()
	h.mu.Lock()
	h.started = &t
	h.mu.Unlock()
}

// resolve stores the first terminal snapshot only. hook runs before the
// waiters are released.
func (h *Handle) resolve(job model.Job, timedOut bool, hook func()) {
	h.once.Do(func() {
		h.mu.Lock()
		h.job = job
		h.timedOut = timedOut
		h.mu.Unlock()
		if hook != nil {
			hook()
		}
		close(h.done)
	})
}

// timeoutJob builds the FAILED snapshot reported when the job did not finish
// in time. The job itself is still owned by its worker.
func (h *Handle) timeoutJob(timeout time.Duration) model.Job {
	job := h.base.Snapshot()
	h.mu.Lock()
	if h.started != nil {
		job.Start()
		started := *h.started
		job.StartedAt = &started
	}
	h.mu.Unlock()
	job.Fail(fmt.Sprintf("Script execution timed out after %s", timeout))
	return job
}
