package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/CZERTAINLY/Runner/internal/model"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	job := model.NewJob("demo")
	require.False(t, job.CreateAt.IsZero())
	job.Submit()
	require.Equal(t, model.StatusSubmitted, job.Status)
	require.NotNil(t, job.SubmitAt)

	job.Start()
	require.Equal(t, model.StatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)
	require.False(t, job.StartedAt.Before(*job.SubmitAt))
	started := *job.StartedAt

	job.Start()
	require.Equal(t, started, *job.StartedAt)

	require.True(t, job.Complete("ok"))
	require.Equal(t, model.StatusCompleted, job.Status)
	require.Equal(t, "ok", job.Result)
	require.NotNil(t, job.CompletedAt)
	completed := *job.CompletedAt

	// terminal state is final
	require.False(t, job.Fail("boom"))
	require.False(t, job.Skip("nope"))
	job.Start()
	job.Submit()
	require.Equal(t, model.StatusCompleted, job.Status)
	require.Empty(t, job.ErrorMessage)
	require.Equal(t, completed, *job.CompletedAt)
	require.GreaterOrEqual(t, job.Duration(), time.Duration(0))
}

func TestJobTerminal(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		then     model.Status
		finish   func(*model.Job) bool
	}{
		{"fail", model.StatusFailed, func(j *model.Job) bool { return j.Fail("boom") }},
		{"skip", model.StatusSkipped, func(j *model.Job) bool { return j.Skip("Job is inactive (status: paused)") }},
		{"complete", model.StatusCompleted, func(j *model.Job) bool { return j.Complete(nil) }},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			job := model.NewJob("demo")
			job.Start()
			require.True(t, tc.finish(job))
			require.Equal(t, tc.then, job.Status)
			require.True(t, job.Status.Terminal())
			require.NotNil(t, job.CompletedAt)
			require.False(t, job.CompletedAt.Before(*job.StartedAt))
			require.False(t, tc.finish(job))
		})
	}

	for _, s := range []model.Status{model.StatusSubmitted, model.StatusRunning, model.StatusActive, model.StatusStop} {
		require.False(t, s.Terminal(), s)
	}
}

func TestJobSnapshot(t *testing.T) {
	t.Parallel()

	job := model.NewJob("demo")
	job.Params = model.ParamsOf("a", "1")
	job.Start()
	job.Complete(map[string]any{"k": "v"})

	snap := job.Snapshot()
	job.Params.Set("a", "2")
	*job.StartedAt = job.StartedAt.Add(1)
	job.Result.(map[string]any)["k"] = "changed"

	require.Equal(t, model.ParamsOf("a", "1"), snap.Params)
	require.NotEqual(t, *job.StartedAt, *snap.StartedAt)
	require.Equal(t, map[string]any{"k": "v"}, snap.Result)
}

func TestJobSnapshot_Result(t *testing.T) {
	t.Parallel()

	type point struct {
		X    int
		Tags []string
	}

	cyclic := []any{"x", nil}
	cyclic[1] = cyclic

	var testCases = []struct {
		scenario string
		result   any
		mutate   func(any)
		then     any
	}{
		{
			scenario: "slice",
			result:   []string{"a", "b"},
			mutate:   func(r any) { r.([]string)[0] = "z" },
			then:     []string{"a", "b"},
		},
		{
			scenario: "nested",
			result:   map[string]any{"list": []any{map[string]int{"n": 1}}},
			mutate: func(r any) {
				r.(map[string]any)["list"].([]any)[0].(map[string]int)["n"] = 2
			},
			then: map[string]any{"list": []any{map[string]int{"n": 1}}},
		},
		{
			scenario: "pointer",
			result:   &point{X: 1, Tags: []string{"t"}},
			mutate: func(r any) {
				p := r.(*point)
				p.X = 2
				p.Tags[0] = "u"
			},
			then: &point{X: 1, Tags: []string{"t"}},
		},
		{
			scenario: "scalar",
			result:   "ok",
			mutate:   func(any) {},
			then:     "ok",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			job := model.NewJob("demo")
			job.Start()
			job.Complete(tc.result)

			snap := job.Snapshot()
			tc.mutate(job.Result)
			require.Equal(t, tc.then, snap.Result)
		})
	}

	t.Run("cyclic", func(t *testing.T) {
		t.Parallel()
		job := model.NewJob("demo")
		job.Start()
		job.Complete(cyclic)

		snap := job.Snapshot()
		got := snap.Result.([]any)
		require.Equal(t, "x", got[0])
		inner := got[1].([]any)
		require.Equal(t, "x", inner[0])
		cyclic[0] = "y"
		require.Equal(t, "x", got[0])
	})
}

func TestJobJSON(t *testing.T) {
	t.Parallel()

	given := `{"client":"demo","className":"Task","method":"Run","prams":{"b":"2","a":"1"}}`
	var job model.Job
	require.NoError(t, json.Unmarshal([]byte(given), &job))
	require.Equal(t, "demo", job.Client)
	require.Equal(t, "Task", job.ClassName)
	require.Equal(t, []string{"2", "1"}, job.Params.Values())

	b, err := json.Marshal(job)
	require.NoError(t, err)
	require.Contains(t, string(b), `"params":{"b":"2","a":"1"}`)
	require.NotContains(t, string(b), "startedAt")

	// params wins over the legacy key
	given = `{"client":"demo","params":{"x":"1"},"prams":{"y":"2"}}`
	job = model.Job{}
	require.NoError(t, json.Unmarshal([]byte(given), &job))
	require.Equal(t, model.ParamsOf("x", "1"), job.Params)
}
