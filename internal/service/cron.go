package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/CZERTAINLY/Runner/internal/model"
)

// Schedule returns a scheduler calling RunAll on batch.cron or every
// batch.every, or nil when neither is set. The caller starts it and shuts it
// down.
func (s *Service) Schedule(ctx context.Context) (gocron.Scheduler, error) {
	cfg := s.cfg.Batch
	if cfg.Cron == "" && cfg.Every.Std() <= 0 {
		return nil, nil
	}
	return newScheduler(ctx, cfg, func() {
		if _, err := s.RunAll(ctx); err != nil {
			slog.ErrorContext(ctx, "scheduled run all failed", "err", err)
		}
	})
}

func newScheduler(ctx context.Context, cfg model.BatchConfig, task func()) (gocron.Scheduler, error) {
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		interval, err := model.ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing batch.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "run all scheduled", "cron", cfg.Cron, "interval", interval.String())
	case cfg.Every.Std() > 0:
		job = gocron.DurationJob(cfg.Every.Std())
		slog.DebugContext(ctx, "run all scheduled", "every", cfg.Every.Std().String())
	default:
		return nil, errors.New("both batch.cron and batch.every are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(task),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
