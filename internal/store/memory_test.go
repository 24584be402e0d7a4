package store

import (
	"context"
	"errors"
	"testing"

	"flowgate/internal/domain"
)

func TestMemoryPutGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	job := &domain.Job{ID: "j1", Kind: domain.JobKindImage, State: domain.JobStatePending}
	if err := m.Put(ctx, job); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := m.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != "j1" || got.State != domain.JobStatePending {
		t.Fatalf("Get() = %+v", got)
	}

	// The store hands out snapshots: mutating a read must not leak back.
	got.State = domain.JobStateSucceeded
	again, err := m.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if again.State != domain.JobStatePending {
		t.Fatalf("stored state = %q, want pending", again.State)
	}

	// Same for writes: the caller keeps ownership of the job it put.
	job.State = domain.JobStateFailed
	third, _ := m.Get(ctx, "j1")
	if third.State != domain.JobStatePending {
		t.Fatalf("stored state = %q, want pending after caller mutation", third.State)
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	m := NewMemory()
	if _, err := m.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Put(ctx, &domain.Job{ID: "j1", State: domain.JobStateSucceeded})

	if err := m.Delete(ctx, "j1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := m.Get(ctx, "j1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after delete error = %v, want ErrNotFound", err)
	}
	if err := m.Delete(ctx, "j1"); err != nil {
		t.Fatalf("Delete of absent job error = %v, want nil", err)
	}
}

func TestMemoryListActive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Put(ctx, &domain.Job{ID: "a", State: domain.JobStatePolling})
	_ = m.Put(ctx, &domain.Job{ID: "b", State: domain.JobStateSucceeded})
	_ = m.Put(ctx, &domain.Job{ID: "c", State: domain.JobStatePending})
	_ = m.Put(ctx, &domain.Job{ID: "d", State: domain.JobStateCanceled})

	active, err := m.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("len(active) = %d, want 2", len(active))
	}
	for _, job := range active {
		if job.State.Terminal() {
			t.Fatalf("ListActive returned terminal job %s", job.ID)
		}
	}
}

func TestMemoryPutKeepsTerminalState(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.Put(ctx, &domain.Job{
		ID:        "j1",
		State:     domain.JobStateSucceeded,
		Artifacts: []domain.ArtifactReference{{DurableURL: "http://cdn.test/a.png"}},
	})

	err := m.Put(ctx, &domain.Job{ID: "j1", State: domain.JobStateCanceled})
	if !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("Put over terminal row error = %v, want ErrJobTerminal", err)
	}
	got, _ := m.Get(ctx, "j1")
	if got.State != domain.JobStateSucceeded || got.Result() == nil {
		t.Fatalf("stored job = %+v, want succeeded with durable URL intact", got)
	}

	// Rewriting a terminal row without changing its state stays allowed.
	if err := m.Put(ctx, &domain.Job{ID: "j1", State: domain.JobStateSucceeded, Attempt: 7}); err != nil {
		t.Fatalf("same-state rewrite error = %v", err)
	}
}

func TestMemoryCanceledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Put(ctx, &domain.Job{ID: "j1"}); err == nil {
		t.Fatal("Put with canceled context error = nil, want context error")
	}
	if _, err := m.Get(ctx, "j1"); err == nil {
		t.Fatal("Get with canceled context error = nil, want context error")
	}
}
