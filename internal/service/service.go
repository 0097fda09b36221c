package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/Runner/internal/engine"
	"github.com/CZERTAINLY/Runner/internal/log"
	"github.com/CZERTAINLY/Runner/internal/metrics"
	"github.com/CZERTAINLY/Runner/internal/model"
	"github.com/CZERTAINLY/Runner/internal/notify"
	"github.com/CZERTAINLY/Runner/internal/script"
	"github.com/CZERTAINLY/Runner/internal/store"
	"github.com/CZERTAINLY/Runner/internal/worker"
)

var ErrInvalidUpload = errors.New("invalid upload")

type Service struct {
	cfg      model.Config
	root     string
	host     *script.Host
	engine   *engine.Engine
	pool     *worker.Pool
	notifier *notify.Notifier
	store    store.Store
	metrics  *metrics.Recorder
	timeout  time.Duration
}

type Option func(*Service)

// WithStore replaces the default in-memory store. The service closes it.
func WithStore(st store.Store) Option {
	return func(s *Service) { s.store = st }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// WithHost replaces the default script host configured by job.libPath.
func WithHost(h *script.Host) Option {
	return func(s *Service) { s.host = h }
}

func New(cfg model.Config, opts ...Option) (*Service, error) {
	if cfg.Version != 0 {
		return nil, fmt.Errorf("config version %d is not supported, expected 0", cfg.Version)
	}
	if cfg.Job.Path == "" {
		return nil, errors.New("job.path is empty")
	}
	root, err := filepath.Abs(cfg.Job.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving job.path: %w", err)
	}

	s := &Service{
		cfg:     cfg,
		root:    root,
		timeout: cfg.Engine.Timeout.Std(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = store.NewMemory()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.host == nil {
		var hostOpts []script.Option
		if cfg.Job.LibPath != "" {
			hostOpts = append(hostOpts, script.WithLibPath(cfg.Job.LibPath))
		}
		s.host = script.NewHost(hostOpts...)
	}

	s.notifier = notify.New(slog.Default(), notify.WithBufferLimit(cfg.Notifier.Buffer))
	s.engine = engine.New(root, s.host, s.notifier)
	s.pool = worker.NewPool(slog.Default(),
		worker.WithWorkers(cfg.Engine.Workers),
		worker.WithQueueSize(cfg.Engine.Queue),
		worker.WithOnResolve(s.resolved),
	)
	return s, nil
}

// Root returns the absolute job root.
func (s *Service) Root() string {
	return s.root
}

// Start starts the workers.
func (s *Service) Start(ctx context.Context) error {
	return s.pool.Start(ctx)
}

// Close drains the pool, then closes every subscription and the store.
func (s *Service) Close(ctx context.Context) error {
	err := s.pool.Stop(ctx)
	s.notifier.Close()
	return errors.Join(err, s.store.Close())
}

// Upload is a script uploaded together with the job metadata.
type Upload struct {
	Client    string
	FileName  string
	Content   io.Reader
	Extension string
	ClassName string
	Method    string
	Params    model.Params
}

// Submit stores the uploaded script under {root}/{client}/{filename} and
// dispatches a job for the client. It returns the job as submitted, the
// outcome arrives through Events and the store.
func (s *Service) Submit(ctx context.Context, up Upload) (model.Job, error) {
	if !filepath.IsLocal(up.Client) {
		return model.Job{}, fmt.Errorf("%w: client %q", ErrInvalidUpload, up.Client)
	}
	if up.FileName == "" || filepath.Base(up.FileName) != up.FileName || !filepath.IsLocal(up.FileName) {
		return model.Job{}, fmt.Errorf("%w: file name %q", ErrInvalidUpload, up.FileName)
	}
	if up.Content == nil {
		return model.Job{}, fmt.Errorf("%w: no content", ErrInvalidUpload)
	}

	path, err := s.write(up)
	if err != nil {
		return model.Job{}, err
	}

	job := model.NewJob(up.Client)
	job.JobID = newID(up.Client)
	job.Path = path
	job.Extension = up.Extension
	job.ClassName = up.ClassName
	job.Method = up.Method
	job.Params = up.Params.Clone()

	ctx = log.WithJob(ctx, job.JobID, job.Client)
	slog.InfoContext(ctx, "job uploaded", "path", path)
	return s.submitAndRun(ctx, job)
}

func (s *Service) write(up Upload) (string, error) {
	root, err := os.OpenRoot(s.root)
	if err != nil {
		return "", fmt.Errorf("opening job root: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	if err := root.MkdirAll(up.Client, 0o755); err != nil {
		return "", fmt.Errorf("creating client directory: %w", err)
	}
	name := filepath.Join(up.Client, up.FileName)
	f, err := root.Create(name)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", name, err)
	}
	if _, err := io.Copy(f, up.Content); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", name, err)
	}
	return filepath.Join(s.root, name), nil
}

// submitAndRun fails a job whose stored script can't be read, otherwise it
// marks it SUBMITTED and hands it to the pool.
func (s *Service) submitAndRun(ctx context.Context, job *model.Job) (model.Job, error) {
	if err := validateScript(job.Path); err != nil {
		slog.WarnContext(ctx, "script validation failed", "path", job.Path, "err", err)
		job.Fail("Script validation failed")
		s.save(ctx, job.Snapshot())
		return job.Snapshot(), nil
	}
	job.Submit()
	snap := job.Snapshot()
	s.save(ctx, snap)
	if _, err := s.dispatch(ctx, job); err != nil {
		return snap, err
	}
	return snap, nil
}

func validateScript(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}

// Execute runs the job described by spec and waits for its terminal state.
// Only client, class name, method, params and extension of spec are used.
func (s *Service) Execute(ctx context.Context, spec model.Job) (model.Job, error) {
	job := model.NewJob(spec.Client)
	job.JobID = newID(spec.Client)
	job.Extension = spec.Extension
	job.ClassName = spec.ClassName
	job.Method = spec.Method
	job.Params = spec.Params.Clone()
	if dir, err := s.engine.Dir(spec.Client); err == nil {
		job.Path = dir
	}
	job.Submit()

	ctx = log.WithJob(ctx, job.JobID, job.Client)
	s.save(ctx, job.Snapshot())
	h, err := s.dispatch(ctx, job)
	if err != nil {
		return model.Job{}, err
	}
	return h.Wait(ctx)
}

// dispatch hands job over to the pool, the caller must not touch it anymore.
func (s *Service) dispatch(ctx context.Context, job *model.Job) (*worker.Handle, error) {
	jobID := job.JobID
	h, err := s.pool.SubmitWithTimeout(ctx, job, s.engine.Run, s.timeout)
	if err != nil {
		slog.ErrorContext(ctx, "dispatching job failed", "job_id", jobID, "err", err)
		return nil, fmt.Errorf("dispatching job %s: %w", jobID, err)
	}
	return h, nil
}

// resolved is called once per job with its terminal snapshot, before any
// waiter gets it.
func (s *Service) resolved(ctx context.Context, job model.Job, timedOut bool) {
	ctx = log.WithJob(ctx, job.JobID, job.Client)
	if timedOut {
		slog.WarnContext(ctx, "job timed out", "err", job.ErrorMessage)
		s.notifier.Publish(job)
	}
	s.metrics.Record(ctx, job)
	s.save(ctx, job)
}

func (s *Service) save(ctx context.Context, job model.Job) {
	if err := s.store.Save(ctx, job); err != nil {
		slog.ErrorContext(ctx, "saving job failed", "status", job.Status, "err", err)
	}
}

// Events subscribes to the snapshots of all jobs published from now on.
func (s *Service) Events() *notify.Subscription {
	return s.notifier.Subscribe()
}

// Stats describes the event subscribers.
func (s *Service) Stats() notify.Stats {
	return s.notifier.Stats()
}

func (s *Service) Get(ctx context.Context, jobID string) (model.Job, error) {
	return s.store.Get(ctx, jobID)
}

func (s *Service) List(ctx context.Context, client string) ([]model.Job, error) {
	return s.store.List(ctx, client)
}

// newID keeps the client as a readable prefix of a unique id.
func newID(client string) string {
	return client + "-" + uuid.NewString()
}
