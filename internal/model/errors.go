package model

import (
	"errors"
)

// Failure taxonomy of a job execution. The engine turns each of them into
// the job's terminal state, they never escape to callers as faults.
var (
	ErrPathNotFound       = errors.New("path not found")
	ErrNoExecutableFiles  = errors.New("no executable files")
	ErrDescriptorMissing  = errors.New("deployment descriptor missing")
	ErrDescriptorParse    = errors.New("deployment descriptor parse error")
	ErrDeploymentInactive = errors.New("deployment inactive")
	ErrEntryPointNotFound = errors.New("entry point not found")
	ErrLoad               = errors.New("load error")
	ErrInvocation         = errors.New("invocation error")
	ErrTimeout            = errors.New("timeout")
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrPoolClosed  = errors.New("worker pool closed")
)
