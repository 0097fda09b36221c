package store

import (
	"context"
	"sync"

	"github.com/CZERTAINLY/Runner/internal/model"
)

// Memory keeps jobs for the lifetime of the process.
type Memory struct {
	mu    sync.RWMutex
	jobs  map[string]model.Job
	order []string
}

func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]model.Job),
	}
}

func (m *Memory) Save(_ context.Context, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.JobID]; !ok {
		m.order = append(m.order, job.JobID)
	}
	m.jobs[job.JobID] = job.Snapshot()
	return nil
}

func (m *Memory) Get(_ context.Context, jobID string) (model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return model.Job{}, model.ErrJobNotFound
	}
	return job.Snapshot(), nil
}

func (m *Memory) List(_ context.Context, client string) ([]model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]model.Job, 0, len(m.order))
	for _, id := range m.order {
		job := m.jobs[id]
		if client != "" && job.Client != client {
			continue
		}
		ret = append(ret, job.Snapshot())
	}
	return ret, nil
}

func (m *Memory) Close() error {
	return nil
}
