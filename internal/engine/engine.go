// Package engine drives a job through its lifecycle: it resolves the job
// directory, checks the deployment descriptor, loads the script unit and
// invokes it. Every failure ends as a terminal state of the job, the engine
// itself never fails.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/CZERTAINLY/Runner/internal/deploy"
	"github.com/CZERTAINLY/Runner/internal/log"
	"github.com/CZERTAINLY/Runner/internal/model"
	"github.com/CZERTAINLY/Runner/internal/script"
)

// Publisher receives a snapshot at every milestone of a job.
type Publisher interface {
	Publish(job model.Job)
}

type Engine struct {
	root string
	host *script.Host
	pub  Publisher
}

// New returns an engine for jobs stored under root. pub may be nil.
func New(root string, host *script.Host, pub Publisher) *Engine {
	if host == nil {
		host = script.NewHost()
	}
	return &Engine{
		root: root,
		host: host,
		pub:  pub,
	}
}

// Root returns the directory with client job directories.
func (e *Engine) Root() string {
	return e.root
}

// Dir returns the job directory of client. It fails for a client which
// would escape the root.
func (e *Engine) Dir(client string) (string, error) {
	dir := filepath.Join(e.root, client)
	if !filepath.IsLocal(client) {
		return dir, fmt.Errorf("%s: %w", dir, model.ErrPathNotFound)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return dir, fmt.Errorf("%s: %w", dir, errors.Join(model.ErrPathNotFound, err))
	}
	if !info.IsDir() {
		return dir, fmt.Errorf("%s is not a directory: %w", dir, model.ErrPathNotFound)
	}
	return dir, nil
}

// Run executes job and leaves it in exactly one terminal state. The caller
// must not access the job concurrently.
func (e *Engine) Run(ctx context.Context, job *model.Job) {
	ctx = log.WithJob(ctx, job.JobID, job.Client)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "job execution panicked", "panic", r)
			e.fail(ctx, job, fmt.Sprintf("Job execution failed: %v", r))
		}
	}()

	job.Start()
	e.publish(ctx, job)

	dir, err := e.Dir(job.Client)
	if err != nil {
		e.fail(ctx, job, "File path not found: "+dir)
		return
	}
	job.Path = dir
	e.publish(ctx, job)

	entries, err := deploy.Entries(dir)
	if errors.Is(err, model.ErrNoExecutableFiles) {
		slog.DebugContext(ctx, "listing job directory failed", "err", err)
		e.fail(ctx, job, "Executable files not found: "+dir)
		return
	}

	desc, err := deploy.ReadEntries(dir, entries)
	switch {
	case errors.Is(err, model.ErrDescriptorParse):
		e.fail(ctx, job, "Failed to parse deployment.yml: "+err.Error())
		return
	case err != nil:
		e.fail(ctx, job, "deployment.yml not found in: "+dir)
		return
	}
	e.publish(ctx, job)
	if err := desc.Gate(); errors.Is(err, model.ErrDeploymentInactive) {
		if job.Skip(fmt.Sprintf("Job is inactive (status: %s)", desc.Status)) {
			slog.InfoContext(ctx, "job skipped", "err", err)
			e.publish(ctx, job)
		}
		return
	}

	unit, err := e.host.Load(ctx, dir, desc.FileName)
	switch {
	case errors.Is(err, model.ErrEntryPointNotFound):
		e.fail(ctx, job, "Script file not found: "+desc.FileName)
		return
	case err != nil:
		e.fail(ctx, job, "Script load failed: "+err.Error())
		return
	}

	className, method := job.ClassName, job.Method
	if method == "" {
		className, method = desc.ClassName, desc.Method
	}
	result, err := e.host.Invoke(ctx, unit, className, method, job.Params.Values())
	if err != nil {
		e.fail(ctx, job, err.Error())
		return
	}
	if job.Complete(result) {
		slog.InfoContext(ctx, "job completed", "duration", job.Duration())
		e.publish(ctx, job)
	}
}

func (e *Engine) fail(ctx context.Context, job *model.Job, msg string) {
	if job.Fail(msg) {
		slog.WarnContext(ctx, "job failed", "err", msg)
		e.publish(ctx, job)
	}
}

// publish drops the milestones of a job which was already resolved by
// a timeout
func (e *Engine) publish(ctx context.Context, job *model.Job) {
	if e.pub == nil || errors.Is(context.Cause(ctx), model.ErrTimeout) {
		return
	}
	e.pub.Publish(job.Snapshot())
}
