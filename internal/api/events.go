package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// events streams job snapshots as server-sent events until the client goes
// away.
func (h handler) events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, fmt.Errorf("streaming is not supported"))
		return
	}

	sub := h.jobs.Events()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-sub.C():
			if !ok {
				return
			}
			b, err := json.Marshal(job)
			if err != nil {
				slog.ErrorContext(ctx, "encoding job failed", "job_id", job.JobID, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// eventsWS streams job snapshots as websocket text frames. Frames sent by
// the client are discarded, a close frame or a read error ends the stream.
func (h handler) eventsWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.DebugContext(ctx, "websocket upgrade failed", "err", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	sub := h.jobs.Events()
	defer sub.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case job, ok := <-sub.C():
			if !ok {
				_ = wsutil.WriteServerMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusGoingAway, "shutting down"))
				return
			}
			b, err := json.Marshal(job)
			if err != nil {
				slog.ErrorContext(ctx, "encoding job failed", "job_id", job.JobID, "err", err)
				continue
			}
			if err := wsutil.WriteServerText(conn, b); err != nil {
				slog.DebugContext(ctx, "websocket write failed", "err", err)
				return
			}
		}
	}
}
