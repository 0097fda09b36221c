package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/CZERTAINLY/Runner/internal/api"
	"github.com/CZERTAINLY/Runner/internal/log"
	"github.com/CZERTAINLY/Runner/internal/model"
	"github.com/CZERTAINLY/Runner/internal/service"
	"github.com/CZERTAINLY/Runner/internal/store"

	"github.com/spf13/cobra"
)

var (
	flagClient    string
	flagClassName string
	flagMethod    string
	flagParams    []string
)

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("runner",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))

	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return closeService(svc, err)
	}

	scheduler, err := svc.Schedule(ctx)
	if err != nil {
		return closeService(svc, err)
	}
	if scheduler != nil {
		scheduler.Start()
	}

	srv := api.NewServer(config.Server.Addr, api.NewRouter(svc, config.Server))
	errs := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "listening", "addr", config.Server.Addr, "root", svc.Root())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
	case err = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.Engine.ShutdownTimeout.Std())
	defer cancel()

	srv.SetKeepAlivesEnabled(false)
	shutdownErr := srv.Shutdown(shutdownCtx)
	if scheduler != nil {
		shutdownErr = errors.Join(shutdownErr, scheduler.Shutdown())
	}
	shutdownErr = errors.Join(shutdownErr, svc.Close(shutdownCtx))
	return errors.Join(err, shutdownErr)
}

// runAllResult is the summary extended by the terminal jobs, in the order of
// summary.Jobs.
type runAllResult struct {
	service.Summary
	Results []model.Job `json:"results"`
}

func doRunAll(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("runner",
		slog.String("cmd", "run-all"),
		slog.Int("pid", os.Getpid()),
	))

	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return closeService(svc, err)
	}

	summary, jobs, err := svc.RunAllWait(ctx)
	if err := closeService(svc, err); err != nil {
		return err
	}
	return printJSON(runAllResult{
		Summary: summary,
		Results: jobs,
	})
}

func doExec(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("runner",
		slog.String("cmd", "exec"),
		slog.Int("pid", os.Getpid()),
	))

	params, err := parseParams(flagParams)
	if err != nil {
		return err
	}

	svc, err := newService(ctx)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return closeService(svc, err)
	}

	job, err := svc.Execute(ctx, model.Job{
		Client:    flagClient,
		ClassName: flagClassName,
		Method:    flagMethod,
		Params:    params,
	})
	if err := closeService(svc, err); err != nil {
		return err
	}
	if err := printJSON(job); err != nil {
		return err
	}
	if job.Status != model.StatusCompleted {
		return fmt.Errorf("job %s %s: %s", job.JobID, job.Status, job.ErrorMessage)
	}
	return nil
}

func newService(ctx context.Context) (*service.Service, error) {
	st, err := store.Open(ctx, config.Store)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", config.Store.Driver, err)
	}
	svc, err := service.New(config, service.WithStore(st))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return svc, nil
}

// closeService drains the service and joins its error with err.
func closeService(svc *service.Service, err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.Engine.ShutdownTimeout.Std())
	defer cancel()
	return errors.Join(err, svc.Close(ctx))
}

func parseParams(kvs []string) (model.Params, error) {
	var params model.Params
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", kv)
		}
		params.Set(k, v)
	}
	return params, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
