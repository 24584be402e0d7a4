// Package store persists generation jobs. The store is the single source of
// truth for job state: the orchestrator reloads from it after a restart and
// never trusts divergent in-memory copies.
package store

import (
	"context"

	"flowgate/internal/domain"
)

// Store is the minimal key-value job persistence contract. All operations
// are atomic per job id; no cross-job transactions are required. Orchestration
// logic may only rely on read-your-writes within a process.
type Store interface {
	// Put inserts or replaces the job row for job.ID. A row already in a
	// terminal state cannot be moved to a different state; such a write is
	// rejected with domain.ErrJobTerminal, keeping terminal outcomes
	// immutable even when two writers race.
	Put(ctx context.Context, job *domain.Job) error
	// Get returns a snapshot of the job or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)
	// Delete removes the job row. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// ListActive returns all jobs in a non-terminal state, for the restart
	// resumption sweep.
	ListActive(ctx context.Context) ([]*domain.Job, error)
}
