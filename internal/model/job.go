package model

import (
	"encoding/json"
	"time"
)

// Status is a lifecycle state of a Job.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusSkipped   Status = "SKIPPED"

	// ACTIVE and STOP tag scripts discovered by the batch scan, they are
	// never an outcome of an execution.
	StatusActive Status = "ACTIVE"
	StatusStop   Status = "STOP"
)

// Terminal reports whether no further transition may happen from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Job is one request to execute a script unit. A *Job is owned by the single
// lifecycle run processing it; other goroutines only ever see copies made by
// Snapshot.
type Job struct {
	JobID     string `json:"jobId,omitempty"`
	Client    string `json:"client"`
	Path      string `json:"path,omitempty"`
	Extension string `json:"extension,omitempty"`

	ClassName string `json:"className,omitempty"`
	Method    string `json:"method,omitempty"`
	Params    Params `json:"params,omitempty"`

	Status      Status     `json:"status,omitempty"`
	CreateAt    time.Time  `json:"createAt"`
	SubmitAt    *time.Time `json:"submitAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Result       any    `json:"result,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// UnmarshalJSON accepts the legacy "prams" key as an alias of "params".
func (j *Job) UnmarshalJSON(b []byte) error {
	type plain Job
	aux := struct {
		*plain
		Prams Params `json:"prams,omitempty"`
	}{plain: (*plain)(j)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if j.Params == nil && aux.Prams != nil {
		j.Params = aux.Prams
	}
	return nil
}

// NewJob returns a job stamped with its creation time.
func NewJob(client string) *Job {
	return &Job{
		Client:   client,
		CreateAt: now(),
	}
}

// Snapshot returns a copy which does not share mutable state with j. The
// result is deep copied as well.
func (j *Job) Snapshot() Job {
	s := *j
	s.Params = j.Params.Clone()
	s.SubmitAt = clonePtr(j.SubmitAt)
	s.StartedAt = clonePtr(j.StartedAt)
	s.CompletedAt = clonePtr(j.CompletedAt)
	s.Result = cloneResult(j.Result)
	return s
}

// Submit marks the job as SUBMITTED. It is ignored once the job has started.
func (j *Job) Submit() {
	if j.StartedAt != nil || j.Status.Terminal() {
		return
	}
	t := now()
	j.Status = StatusSubmitted
	j.SubmitAt = &t
}

// Start moves the job to RUNNING and stamps StartedAt. StartedAt is set only
// once and never earlier than SubmitAt.
func (j *Job) Start() {
	if j.Status.Terminal() {
		return
	}
	j.Status = StatusRunning
	if j.StartedAt != nil {
		return
	}
	t := now()
	if j.SubmitAt != nil && t.Before(*j.SubmitAt) {
		t = *j.SubmitAt
	}
	j.StartedAt = &t
}

// Complete moves the job to COMPLETED with an optional result.
func (j *Job) Complete(result any) bool {
	if !j.finish(StatusCompleted) {
		return false
	}
	if result != nil {
		j.Result = result
	}
	return true
}

// Fail moves the job to FAILED with the given message.
func (j *Job) Fail(msg string) bool {
	if !j.finish(StatusFailed) {
		return false
	}
	j.ErrorMessage = msg
	return true
}

// Skip moves the job to SKIPPED with an explanatory message.
func (j *Job) Skip(msg string) bool {
	if !j.finish(StatusSkipped) {
		return false
	}
	j.ErrorMessage = msg
	return true
}

// finish performs the one and only terminal transition
func (j *Job) finish(status Status) bool {
	if j.Status.Terminal() {
		return false
	}
	t := now()
	if j.StartedAt != nil && t.Before(*j.StartedAt) {
		t = *j.StartedAt
	}
	j.Status = status
	j.CompletedAt = &t
	return true
}

// Duration returns the time between start and completion, zero when the job
// has not finished.
func (j Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

func now() time.Time {
	return time.Now().UTC()
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
