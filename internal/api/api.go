// Package api exposes the job service over HTTP.
//
//	POST /jobs/submit      multipart upload of a script, 201 with the submitted job
//	POST /jobs/execute     JSON job, waits for the terminal job wrapped in a ResponseMessage
//	POST /jobs/run-all     scans the job root, returns a service.Summary
//	GET  /jobs/events      server-sent events, one job snapshot per event
//	GET  /jobs/events/ws   websocket, one text frame per job snapshot
//	GET  /jobs/{jobId}     stored job
//	GET  /jobs?client=     stored jobs of a client
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/CZERTAINLY/Runner/internal/model"
	"github.com/CZERTAINLY/Runner/internal/notify"
	"github.com/CZERTAINLY/Runner/internal/service"
)

// Jobs is what the handlers need from service.Service.
type Jobs interface {
	Submit(ctx context.Context, up service.Upload) (model.Job, error)
	Execute(ctx context.Context, spec model.Job) (model.Job, error)
	RunAll(ctx context.Context) (service.Summary, error)
	Events() *notify.Subscription
	Get(ctx context.Context, jobID string) (model.Job, error)
	List(ctx context.Context, client string) ([]model.Job, error)
}

var _ Jobs = (*service.Service)(nil)

// maxUpload bounds the multipart form kept in memory, the rest spills to
// temporary files.
const maxUpload = 32 << 20

type handler struct {
	jobs Jobs
}

// NewRouter returns the routes of the runner API.
func NewRouter(jobs Jobs, cfg model.ServerConfig) http.Handler {
	h := handler{jobs: jobs}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging)
	r.Use(middleware.Recoverer)

	r.Route("/jobs", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimit(cfg.RateLimit, cfg.Burst))
			r.Post("/submit", h.submit)
			r.Post("/execute", h.execute)
			r.Post("/run-all", h.runAll)
		})
		r.Get("/events", h.events)
		r.Get("/events/ws", h.eventsWS)
		r.Get("/", h.list)
		// batch job ids may contain the slashes of nested clients
		r.Get("/*", h.get)
	})
	return r
}

// NewServer returns a server for h. There is no write timeout as the event
// streams are long lived.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
