package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/CZERTAINLY/Runner/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(t.Context(), slog.String("cmd", "serve"))
	jobCtx := log.WithJob(ctx, "demo-1", "demo")
	logger.With("component", "engine").InfoContext(jobCtx, "job finished")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "job finished", record["msg"])
	require.Equal(t, "serve", record["cmd"])
	require.Equal(t, "engine", record["component"])
	require.Equal(t, map[string]any{"id": "demo-1", "client": "demo"}, record["job"])

	// parent context is not affected
	buf.Reset()
	logger.InfoContext(ctx, "other")
	record = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.NotContains(t, record, "job")
}

func TestVerbose(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log.New(&buf, false).DebugContext(context.Background(), "hidden")
	require.Zero(t, buf.Len())

	log.New(&buf, true).DebugContext(context.Background(), "shown")
	require.Contains(t, buf.String(), "shown")
}
