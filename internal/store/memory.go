package store

import (
	"context"
	"sync"

	"flowgate/internal/domain"
)

// Memory is an in-process job store used when no DATABASE_URL is configured
// and in tests.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*domain.Job)}
}

func (m *Memory) Put(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.jobs[job.ID]; ok && cur.State.Terminal() && cur.State != job.State {
		return domain.ErrJobTerminal
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *Memory) ListActive(ctx context.Context) ([]*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Job
	for _, job := range m.jobs {
		if !job.State.Terminal() {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

var _ Store = (*Memory)(nil)
