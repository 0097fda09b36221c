package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/CZERTAINLY/Runner/internal/engine"
	"github.com/CZERTAINLY/Runner/internal/log"
	"github.com/CZERTAINLY/Runner/internal/model"
	"github.com/CZERTAINLY/Runner/internal/parallel"
	"github.com/CZERTAINLY/Runner/internal/walk"
	"github.com/CZERTAINLY/Runner/internal/worker"
)

// Summary is the result of RunAll.
type Summary struct {
	Status string   `json:"status"`
	Count  int      `json:"count"`
	Files  []string `json:"files"`
	Jobs   []string `json:"jobs"` // ids of the dispatched jobs
}

// RunAll scans the job root for scripts, checks the descriptor next to each
// of them and dispatches one job for every directory with an active
// descriptor. It does not wait for the jobs.
func (s *Service) RunAll(ctx context.Context) (Summary, error) {
	summary, _, err := s.runAll(ctx)
	return summary, err
}

// RunAllWait is RunAll which waits until every dispatched job is resolved or
// ctx is done. The jobs are in the order of Summary.Jobs.
func (s *Service) RunAllWait(ctx context.Context) (Summary, []model.Job, error) {
	summary, handles, err := s.runAll(ctx)
	if err != nil {
		return summary, nil, err
	}
	jobs := make([]model.Job, 0, len(handles))
	for _, h := range handles {
		job, err := h.Wait(ctx)
		if err != nil {
			return summary, jobs, fmt.Errorf("waiting for job %s: %w", h.JobID(), err)
		}
		jobs = append(jobs, job)
	}
	return summary, jobs, nil
}

func (s *Service) runAll(ctx context.Context) (Summary, []*worker.Handle, error) {
	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		slog.WarnContext(ctx, "invalid jobs root path", "path", s.root)
		return Summary{}, nil, fmt.Errorf("invalid jobs root path: %s: %w", s.root, model.ErrPathNotFound)
	}

	files := walk.Files(ctx, s.root, s.cfg.Job.Extension)
	checks := parallel.NewMap(ctx, s.cfg.Engine.Workers, s.engine.Check)

	summary := Summary{
		Status: "success",
		Files:  []string{},
		Jobs:   []string{},
	}
	var active []engine.Discovery
	for d, err := range checks.Iter(files) {
		if d.Path == "" {
			// canceled scan
			return Summary{}, nil, err
		}
		summary.Files = append(summary.Files, d.Path)
		if err != nil {
			slog.WarnContext(ctx, "script check failed", "path", d.Path, "err", err)
			continue
		}
		slog.DebugContext(ctx, "script checked", "path", d.Path, "status", d.Status)
		if d.Status == model.StatusActive {
			active = append(active, d)
		}
	}
	slices.Sort(summary.Files)
	summary.Count = len(summary.Files)

	// the descriptor drives the whole directory, so it runs once
	slices.SortFunc(active, func(a, b engine.Discovery) int {
		return cmp.Or(cmp.Compare(a.Dir, b.Dir), cmp.Compare(a.Path, b.Path))
	})
	active = slices.CompactFunc(active, func(a, b engine.Discovery) bool {
		return a.Dir == b.Dir
	})
	var handles []*worker.Handle
	for _, d := range active {
		client, err := s.engine.Client(d)
		if err != nil {
			slog.WarnContext(ctx, "resolving client failed", "dir", d.Dir, "err", err)
			continue
		}
		job := model.NewJob(client)
		job.JobID = newID(client)
		job.Path = d.Dir
		job.Extension = s.cfg.Job.Extension
		job.Submit()
		jobCtx := log.WithJob(ctx, job.JobID, client)
		s.save(jobCtx, job.Snapshot())
		h, err := s.dispatch(jobCtx, job)
		if err != nil {
			return summary, handles, err
		}
		summary.Jobs = append(summary.Jobs, job.JobID)
		handles = append(handles, h)
	}

	slog.InfoContext(ctx, "run all finished", "files", summary.Count, "jobs", len(summary.Jobs))
	return summary, handles, nil
}
