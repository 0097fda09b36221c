package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/CZERTAINLY/Runner/internal/model"
	"github.com/CZERTAINLY/Runner/internal/worker"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var resolved []model.Job
	p := worker.NewPool(nil,
		worker.WithWorkers(2),
		worker.WithOnResolve(func(_ context.Context, job model.Job, timedOut bool) {
			mu.Lock()
			defer mu.Unlock()
			if !timedOut {
				resolved = append(resolved, job)
			}
		}),
	)
	require.NoError(t, p.Start(t.Context()))
	t.Cleanup(func() { require.NoError(t, p.Stop(context.Background())) })

	release := make(chan struct{})
	job := newJob("demo-1")
	h, err := p.Submit(t.Context(), job, func(_ context.Context, job *model.Job) {
		job.Start()
		<-release
		job.Complete("done")
	})
	require.NoError(t, err)
	require.Equal(t, "demo-1", h.JobID())

	// Submit does not wait for the execution
	_, ok := h.Job()
	require.False(t, ok)
	close(release)

	got, err := h.Wait(t.Context())
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status)
	require.Equal(t, "done", got.Result)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	require.False(t, h.TimedOut())
	mu.Lock()
	require.Len(t, resolved, 1)
	require.Equal(t, got, resolved[0])
	mu.Unlock()

	got2, ok := h.Job()
	require.True(t, ok)
	require.Equal(t, got, got2)
}

func TestBounded(t *testing.T) {
	t.Parallel()

	p := worker.NewPool(nil, worker.WithWorkers(2), worker.WithQueueSize(10))
	require.NoError(t, p.Start(t.Context()))
	t.Cleanup(func() { require.NoError(t, p.Stop(context.Background())) })

	var running, peak atomic.Int32
	fn := func(_ context.Context, job *model.Job) {
		job.Start()
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		job.Complete(nil)
	}

	var handles []*worker.Handle
	for range 6 {
		h, err := p.Submit(t.Context(), newJob("demo"), fn)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		got, err := h.Wait(t.Context())
		require.NoError(t, err)
		require.Equal(t, model.StatusCompleted, got.Status)
	}
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestTerminalGuard(t *testing.T) {
	t.Parallel()

	p := worker.NewPool(nil, worker.WithWorkers(1))
	require.NoError(t, p.Start(t.Context()))
	t.Cleanup(func() { require.NoError(t, p.Stop(context.Background())) })

	var testCases = []struct {
		scenario string
		fn       worker.Func
		then     string
	}{
		{"not terminal", func(_ context.Context, job *model.Job) { job.Start() }, "Job finished without a terminal state"},
		{"panic", func(_ context.Context, job *model.Job) { job.Start(); panic("boom") }, "Job panicked: boom"},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			h, err := p.Submit(t.Context(), newJob("demo"), tc.fn)
			require.NoError(t, err)
			got, err := h.Wait(t.Context())
			require.NoError(t, err)
			require.Equal(t, model.StatusFailed, got.Status)
			require.Equal(t, tc.then, got.ErrorMessage)
			require.NotNil(t, got.CompletedAt)
		})
	}
}

func TestSubmitWithTimeout(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		var calls atomic.Int32
		var timedOutCalls atomic.Int32
		p := worker.NewPool(nil,
			worker.WithWorkers(1),
			worker.WithOnResolve(func(_ context.Context, job model.Job, timedOut bool) {
				calls.Add(1)
				if timedOut {
					timedOutCalls.Add(1)
				}
			}),
		)
		require.NoError(t, p.Start(t.Context()))

		var finished atomic.Bool
		var cause error
		slow := func(ctx context.Context, job *model.Job) {
			job.Start()
			time.Sleep(10 * time.Second)
			cause = context.Cause(ctx)
			job.Complete("late")
			finished.Store(true)
		}

		start := time.Now()
		h1, err := p.SubmitWithTimeout(t.Context(), newJob("slow"), slow, time.Second)
		require.NoError(t, err)
		// queued behind the slow one and never started in time
		h2, err := p.SubmitWithTimeout(t.Context(), newJob("queued"), slow, 2*time.Second)
		require.NoError(t, err)

		got, err := h1.Wait(t.Context())
		require.NoError(t, err)
		require.Equal(t, time.Second, time.Since(start))
		require.True(t, h1.TimedOut())
		require.Equal(t, model.StatusFailed, got.Status)
		require.Equal(t, "Script execution timed out after 1s", got.ErrorMessage)
		require.NotNil(t, got.StartedAt)
		require.NotNil(t, got.CompletedAt)
		require.False(t, finished.Load())

		got, err = h2.Wait(t.Context())
		require.NoError(t, err)
		require.Equal(t, 2*time.Second, time.Since(start))
		require.Equal(t, "Script execution timed out after 2s", got.ErrorMessage)
		require.Nil(t, got.StartedAt)

		require.NoError(t, p.Stop(t.Context()))
		require.True(t, finished.Load())
		require.ErrorIs(t, cause, model.ErrTimeout)

		// the late result does not change the resolved job
		got, _ = h1.Job()
		require.Equal(t, model.StatusFailed, got.Status)
		require.Equal(t, int32(2), calls.Load())
		require.Equal(t, int32(2), timedOutCalls.Load())
	})
}

func TestStop(t *testing.T) {
	t.Parallel()

	p := worker.NewPool(nil, worker.WithWorkers(1), worker.WithQueueSize(5))
	require.NoError(t, p.Start(t.Context()))

	var handles []*worker.Handle
	for range 3 {
		h, err := p.Submit(t.Context(), newJob("demo"), func(_ context.Context, job *model.Job) {
			job.Start()
			time.Sleep(10 * time.Millisecond)
			job.Complete(nil)
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	require.NoError(t, p.Stop(t.Context()))
	for _, h := range handles {
		got, ok := h.Job()
		require.True(t, ok)
		require.Equal(t, model.StatusCompleted, got.Status)
	}

	_, err := p.Submit(t.Context(), newJob("demo"), func(context.Context, *model.Job) {})
	require.ErrorIs(t, err, model.ErrPoolClosed)
	require.NoError(t, p.Stop(t.Context()))
	require.ErrorIs(t, p.Start(t.Context()), model.ErrPoolClosed)
}

func TestStop_Deadline(t *testing.T) {
	t.Parallel()

	p := worker.NewPool(nil, worker.WithWorkers(1))
	require.NoError(t, p.Start(t.Context()))

	running := make(chan struct{})
	h, err := p.Submit(t.Context(), newJob("demo"), func(ctx context.Context, job *model.Job) {
		job.Start()
		close(running)
		<-ctx.Done()
		job.Fail(context.Cause(ctx).Error())
	})
	require.NoError(t, err)
	<-running

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)

	got, err := h.Wait(t.Context())
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, got.Status)
	require.Equal(t, "worker pool stopped", got.ErrorMessage)
}

func TestStop_NotStarted(t *testing.T) {
	t.Parallel()

	p := worker.NewPool(nil)
	var handles []*worker.Handle
	for range 2 {
		h, err := p.Submit(t.Context(), newJob("demo"), func(_ context.Context, job *model.Job) {
			job.Complete(nil)
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	require.NoError(t, p.Stop(t.Context()))
	for _, h := range handles {
		got, ok := h.Job()
		require.True(t, ok)
		require.Equal(t, model.StatusFailed, got.Status)
		require.Equal(t, "Job canceled: worker pool stopped", got.ErrorMessage)
	}
}

func TestSubmit_Canceled(t *testing.T) {
	t.Parallel()

	p := worker.NewPool(nil, worker.WithQueueSize(0))
	t.Cleanup(func() { require.NoError(t, p.Stop(context.Background())) })

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := p.Submit(ctx, newJob("demo"), func(context.Context, *model.Job) {})
	require.ErrorIs(t, err, context.Canceled)
}

func newJob(id string) *model.Job {
	job := model.NewJob("demo")
	job.JobID = id
	job.Submit()
	return job
}
