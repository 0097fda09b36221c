// Package worker runs job executions off the caller's goroutine on a bounded
// pool and hands out a Handle resolved once the job is terminal.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/CZERTAINLY/Runner/internal/model"
)

// Func executes a job. It owns the job until it returns and is expected to
// leave it in a terminal state.
type Func func(ctx context.Context, job *model.Job)

// ResolveFunc is called exactly once per submitted job with its terminal
// snapshot. timedOut is true when the job was resolved by its timeout.
type ResolveFunc func(ctx context.Context, job model.Job, timedOut bool)

var errStopped = errors.New("worker pool stopped")

// Pool is a fixed set of worker goroutines consuming a bounded queue.
type Pool struct {
	logger    *slog.Logger
	workers   int
	queueSize int
	onResolve ResolveFunc

	tasks    chan *task
	quit     chan struct{}
	quitOnce sync.Once

	// parent of every job context, canceled when Stop runs out of time
	baseCtx    context.Context
	cancelBase context.CancelCauseFunc

	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	closed  bool
}

type PoolOption func(*Pool)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets how many jobs can wait for a free worker. Submit
// blocks while the queue is full.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n >= 0 {
			p.queueSize = n
		}
	}
}

// WithOnResolve registers a callback for every resolved job.
func WithOnResolve(fn ResolveFunc) PoolOption {
	return func(p *Pool) { p.onResolve = fn }
}

func NewPool(logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger:    logger,
		workers:   runtime.NumCPU(),
		queueSize: 64,
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tasks = make(chan *task, p.queueSize)
	p.baseCtx, p.cancelBase = context.WithCancelCause(context.Background())
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return model.ErrPoolClosed
	}
	if p.started {
		return nil
	}
	p.started = true

	p.logger.InfoContext(ctx, "worker pool starting",
		slog.Int("workers", p.workers),
		slog.Int("queue", p.queueSize),
	)
	for range p.workers {
		p.wg.Add(1)
		go p.loop()
	}
	return nil
}

// Stop rejects new jobs and waits until queued and running jobs are done.
// When ctx ends first, the contexts of all jobs are canceled and ctx error
// is returned without waiting for the workers.
func (p *Pool) Stop(ctx context.Context) error {
	// unblocks the submitters waiting for a queue slot
	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	started := p.started
	p.mu.Unlock()

	if !started {
		// nobody is going to consume the queue
		p.cancelBase(errStopped)
		for t := range p.tasks {
			t.job.Fail(fmt.Sprintf("Job canceled: %v", errStopped))
			p.resolve(t, t.job.Snapshot(), false)
			t.cancel()
		}
		return nil
	}

	p.logger.InfoContext(ctx, "worker pool stopping")
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancelBase(errStopped)
		p.logger.InfoContext(ctx, "worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "worker pool shutdown timed out, cancelling active jobs")
		p.cancelBase(errStopped)
		return ctx.Err()
	}
}

// Submit enqueues job and returns immediately with its handle. The job must
// not be touched by the caller afterwards.
func (p *Pool) Submit(ctx context.Context, job *model.Job, fn Func) (*Handle, error) {
	return p.SubmitWithTimeout(ctx, job, fn, 0)
}

// SubmitWithTimeout is Submit which resolves the handle with a FAILED job
// once timeout elapses. The worker is not stopped, it only sees its context
// canceled with model.ErrTimeout as the cause. Zero timeout disables it.
func (p *Pool) SubmitWithTimeout(ctx context.Context, job *model.Job, fn Func, timeout time.Duration) (*Handle, error) {
	if job == nil || fn == nil {
		return nil, errors.New("worker: job and func are required")
	}

	// the job outlives the request which submitted it
	jobCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	stopBase := context.AfterFunc(p.baseCtx, func() {
		cancel(context.Cause(p.baseCtx))
	})
	t := &task{
		job:    job,
		fn:     fn,
		handle: newHandle(job.Snapshot()),
		cancel: func() {
			stopBase()
			cancel(nil)
		},
	}
	t.ctx = jobCtx
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		t.ctx, cancelTimeout = context.WithTimeoutCause(jobCtx, timeout, model.ErrTimeout)
		stopTimeout := context.AfterFunc(t.ctx, func() {
			if errors.Is(context.Cause(t.ctx), model.ErrTimeout) {
				p.resolve(t, t.handle.timeoutJob(timeout), true)
			}
		})
		prev := t.cancel
		t.cancel = func() {
			stopTimeout()
			cancelTimeout()
			prev()
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		t.cancel()
		return nil, model.ErrPoolClosed
	}
	select {
	case p.tasks <- t:
		return t.handle, nil
	case <-p.quit:
		t.cancel()
		return nil, model.ErrPoolClosed
	case <-ctx.Done():
		t.cancel()
		return nil, ctx.Err()
	}
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.run(t)
	}
}

type task struct {
	ctx    context.Context
	cancel func()
	job    *model.Job
	fn     Func
	handle *Handle
}

func (p *Pool) run(t *task) {
	defer t.cancel()

	if err := t.ctx.Err(); err != nil {
		cause := context.Cause(t.ctx)
		if errors.Is(cause, model.ErrTimeout) {
			// resolved already by the timeout
			return
		}
		t.job.Fail(fmt.Sprintf("Job canceled: %v", cause))
		p.resolve(t, t.job.Snapshot(), false)
		return
	}

	t.handle.markStarted()
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.ErrorContext(t.ctx, "job panicked", "job_id", t.job.JobID, "panic", r)
				t.job.Fail(fmt.Sprintf("Job panicked: %v", r))
			}
		}()
		t.fn(t.ctx, t.job)
	}()
	if !t.job.Status.Terminal() {
		t.job.Fail("Job finished without a terminal state")
	}
	p.resolve(t, t.job.Snapshot(), false)
}

func (p *Pool) resolve(t *task, job model.Job, timedOut bool) {
	t.handle.resolve(job, timedOut, func() {
		p.logger.DebugContext(t.ctx, "job resolved",
			slog.String("job_id", job.JobID),
			slog.String("status", string(job.Status)),
			slog.Bool("timed_out", timedOut),
		)
		if p.onResolve != nil {
			p.onResolve(context.WithoutCancel(t.ctx), job, timedOut)
		}
	})
}
