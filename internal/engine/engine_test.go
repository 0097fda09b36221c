package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/CZERTAINLY/Runner/internal/engine"
	"github.com/CZERTAINLY/Runner/internal/model"
	"github.com/CZERTAINLY/Runner/internal/script"
	"github.com/stretchr/testify/require"
)

const taskSrc = `package task

import "errors"

type Task struct{}

func (t *Task) Run() string {
	return "ok"
}

func (t *Task) Fail() error {
	return errors.New("boom")
}

func (t *Task) Explode() {
	panic("kaboom")
}

func Concat(a, b string) string {
	return a + b
}
`

func TestRun(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	creat(t, root, "demo/deployment.yml", "status: active\nfile-name: task.go\n")
	creat(t, root, "demo/task.go", taskSrc)
	creat(t, root, "paused/deployment.yml", "status: paused\nfile-name: broken.go\n")
	creat(t, root, "paused/broken.go", "package task\n\nfunc (\n")
	creat(t, root, "missing/deployment.yml", "status: Active\nfile-name: Missing.src\n")
	creat(t, root, "missing/task.go", taskSrc)
	creat(t, root, "nodescriptor/task.go", taskSrc)
	creat(t, root, "badyaml/deployment.yml", "status: [active\n")
	creat(t, root, "broken/deployment.yml", "status: active\nfile-name: broken.go\n")
	creat(t, root, "broken/broken.go", "package task\n\nfunc (\n")
	creat(t, root, "bydescriptor/deployment.yml", "status: active\nfile-name: task.go\nclass-name: Task\nmethod: Run\n")
	creat(t, root, "bydescriptor/task.go", taskSrc)
	creat(t, root, "plain", "not a directory")
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))
	// mounted layout, the files are symlinks into another directory
	data := t.TempDir()
	creat(t, data, "deployment.yml", "status: active\nfile-name: task.go\n")
	creat(t, data, "task.go", taskSrc)
	require.NoError(t, os.Mkdir(filepath.Join(root, "linked"), 0o755))
	for _, name := range []string{"deployment.yml", "task.go"} {
		require.NoError(t, os.Symlink(filepath.Join(data, name), filepath.Join(root, "linked", name)))
	}

	type given struct {
		client    string
		className string
		method    string
		params    model.Params
	}
	type then struct {
		status model.Status
		result any
		msg    string
		prefix string
	}

	var testCases = []struct {
		scenario string
		given    given
		then     then
	}{
		{
			scenario: "completed",
			given:    given{client: "demo", className: "Task", method: "Run"},
			then:     then{status: model.StatusCompleted, result: "ok"},
		},
		{
			scenario: "argument order",
			given:    given{client: "demo", method: "Concat", params: model.ParamsOf("a", "1", "b", "2")},
			then:     then{status: model.StatusCompleted, result: "12"},
		},
		{
			scenario: "method from descriptor",
			given:    given{client: "bydescriptor"},
			then:     then{status: model.StatusCompleted, result: "ok"},
		},
		{
			scenario: "symlinked files",
			given:    given{client: "linked", className: "Task", method: "Run"},
			then:     then{status: model.StatusCompleted, result: "ok"},
		},
		{
			scenario: "inactive",
			given:    given{client: "paused", className: "Task", method: "Run"},
			then:     then{status: model.StatusSkipped, msg: "Job is inactive (status: paused)"},
		},
		{
			scenario: "no directory",
			given:    given{client: "ghost", className: "Task", method: "Run"},
			then:     then{status: model.StatusFailed, msg: "File path not found: " + filepath.Join(root, "ghost")},
		},
		{
			scenario: "escaping client",
			given:    given{client: "../etc", className: "Task", method: "Run"},
			then:     then{status: model.StatusFailed, prefix: "File path not found: "},
		},
		{
			scenario: "not a directory",
			given:    given{client: "plain", className: "Task", method: "Run"},
			then:     then{status: model.StatusFailed, msg: "File path not found: " + filepath.Join(root, "plain")},
		},
		{
			scenario: "empty directory",
			given:    given{client: "empty", className: "Task", method: "Run"},
			then:     then{status: model.StatusFailed, msg: "Executable files not found: " + filepath.Join(root, "empty")},
		},
		{
			scenario: "no descriptor",
			given:    given{client: "nodescriptor", className: "Task", method: "Run"},
			then:     then{status: model.StatusFailed, msg: "deployment.yml not found in: " + filepath.Join(root, "nodescriptor")},
		},
		{
			scenario: "malformed descriptor",
			given:    given{client: "badyaml", className: "Task", method: "Run"},
			then:     then{status: model.StatusFailed, prefix: "Failed to parse deployment.yml: "},
		},
		{
			scenario: "entry file missing",
			given:    given{client: "missing", className: "Task", method: "Run"},
			then:     then{status: model.StatusFailed, msg: "Script file not found: Missing.src"},
		},
		{
			scenario: "load error",
			given:    given{client: "broken", className: "Task", method: "Run"},
			then:     then{status: model.StatusFailed, prefix: "Script load failed: broken.go: "},
		},
		{
			scenario: "returned error",
			given:    given{client: "demo", className: "Task", method: "Fail"},
			then:     then{status: model.StatusFailed, msg: "boom"},
		},
		{
			scenario: "panic",
			given:    given{client: "demo", className: "Task", method: "Explode"},
			then:     then{status: model.StatusFailed, msg: "kaboom"},
		},
		{
			scenario: "unknown method",
			given:    given{client: "demo", className: "Task", method: "Missing"},
			then:     then{status: model.StatusFailed},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			pub := &recorder{}
			e := engine.New(root, script.NewHost(), pub)

			job := model.NewJob(tc.given.client)
			job.JobID = tc.given.client + "-1"
			job.ClassName = tc.given.className
			job.Method = tc.given.method
			job.Params = tc.given.params
			job.Submit()

			e.Run(t.Context(), job)

			require.Equal(t, tc.then.status, job.Status, job.ErrorMessage)
			require.True(t, job.Status.Terminal())
			require.NotNil(t, job.StartedAt)
			require.NotNil(t, job.CompletedAt)
			require.False(t, job.StartedAt.Before(*job.SubmitAt))
			require.Equal(t, tc.then.result, job.Result)
			switch {
			case tc.then.msg != "":
				require.Equal(t, tc.then.msg, job.ErrorMessage)
			case tc.then.prefix != "":
				require.True(t, strings.HasPrefix(job.ErrorMessage, tc.then.prefix), job.ErrorMessage)
			case tc.then.status == model.StatusCompleted:
				require.Empty(t, job.ErrorMessage)
			default:
				require.NotEmpty(t, job.ErrorMessage)
			}

			// the first milestone is RUNNING, the last one is the terminal state
			jobs := pub.jobs()
			require.GreaterOrEqual(t, len(jobs), 2)
			require.Equal(t, model.StatusRunning, jobs[0].Status)
			require.Equal(t, job.Snapshot(), jobs[len(jobs)-1])
			for _, j := range jobs[:len(jobs)-1] {
				require.Equal(t, model.StatusRunning, j.Status)
			}
		})
	}
}

func TestRun_Milestones(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	creat(t, root, "demo/deployment.yml", "status: active\nfile-name: task.go\n")
	creat(t, root, "demo/task.go", taskSrc)

	pub := &recorder{}
	e := engine.New(root, nil, pub)
	job := model.NewJob("demo")
	job.ClassName = "Task"
	job.Method = "Run"
	e.Run(t.Context(), job)

	jobs := pub.jobs()
	require.Len(t, jobs, 4)
	// dispatch start
	require.Equal(t, model.StatusRunning, jobs[0].Status)
	require.Empty(t, jobs[0].Path)
	// path resolved
	require.Equal(t, filepath.Join(root, "demo"), jobs[1].Path)
	// descriptor checked
	require.Equal(t, model.StatusRunning, jobs[2].Status)
	// terminal
	require.Equal(t, model.StatusCompleted, jobs[3].Status)
	require.Equal(t, "ok", jobs[3].Result)
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	creat(t, root, "demo/deployment.yml", "status: active\nfile-name: task.go\n")
	creat(t, root, "demo/task.go", taskSrc)

	pub := &recorder{}
	e := engine.New(root, nil, pub)
	ctx, cancel := context.WithCancelCause(t.Context())
	cancel(model.ErrTimeout)

	job := model.NewJob("demo")
	job.ClassName = "Task"
	job.Method = "Run"
	e.Run(ctx, job)

	require.True(t, job.Status.Terminal())
	require.Empty(t, pub.jobs())
}

func TestRun_Isolation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	const n = 6
	clients := make([]string, n)
	for i := range n {
		client := "client" + string(rune('a'+i))
		clients[i] = client
		creat(t, root, client+"/deployment.yml", "status: active\nfile-name: task.go\n")
		creat(t, root, client+"/task.go", "package task\n\nvar name = \""+client+"\"\n\nfunc Name() string { return name }\n")
	}
	e := engine.New(root, script.NewHost(), nil)

	jobs := make([]*model.Job, n)
	var wg sync.WaitGroup
	for i, client := range clients {
		jobs[i] = model.NewJob(client)
		jobs[i].Method = "Name"
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Run(t.Context(), jobs[i])
		}()
	}
	wg.Wait()

	for i, job := range jobs {
		require.Equal(t, model.StatusCompleted, job.Status, job.ErrorMessage)
		require.Equal(t, clients[i], job.Result)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	creat(t, root, "on/deployment.yml", "status: ACTIVE\nfile-name: task.go\nclass-name: Task\nmethod: Run\n")
	creat(t, root, "on/task.go", taskSrc)
	creat(t, root, "team/off/deployment.yml", "status: stop\nfile-name: task.go\n")
	creat(t, root, "team/off/task.go", taskSrc)
	creat(t, root, "none/task.go", taskSrc)

	e := engine.New(root, nil, nil)

	d, err := e.Check(t.Context(), filepath.Join(root, "on", "task.go"))
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, d.Status)
	require.Equal(t, "Task", d.Deploy.ClassName)
	require.Equal(t, "Run", d.Deploy.Method)
	client, err := e.Client(d)
	require.NoError(t, err)
	require.Equal(t, "on", client)

	d, err = e.Check(t.Context(), filepath.Join(root, "team", "off", "task.go"))
	require.NoError(t, err)
	require.Equal(t, model.StatusStop, d.Status)
	client, err = e.Client(d)
	require.NoError(t, err)
	require.Equal(t, filepath.Join("team", "off"), client)

	d, err = e.Check(t.Context(), filepath.Join(root, "none", "task.go"))
	require.ErrorIs(t, err, model.ErrDescriptorMissing)
	require.Equal(t, model.StatusStop, d.Status)
}

type recorder struct {
	mu   sync.Mutex
	list []model.Job
}

func (r *recorder) Publish(job model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, job)
}

func (r *recorder) jobs() []model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Job(nil), r.list...)
}

func creat(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
