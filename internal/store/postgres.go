package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flowgate/internal/domain"
)

// Postgres persists jobs in a single table, one row per job id. It supports
// horizontal scale-out: a second process re-reads current state before
// driving a job.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a job store backed by PostgreSQL and ensures the jobs
// table exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	const ddl = `
CREATE TABLE IF NOT EXISTS generation_jobs (
    id             TEXT PRIMARY KEY,
    kind           TEXT NOT NULL,
    state          TEXT NOT NULL,
    prompt_json    JSONB,
    upstream_ref   TEXT NOT NULL DEFAULT '',
    artifacts_json JSONB,
    failure_json   JSONB,
    attempt        INT NOT NULL DEFAULT 0,
    submitted_at   TIMESTAMPTZ NOT NULL,
    last_polled_at TIMESTAMPTZ,
    deadline       TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure jobs table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Put(ctx context.Context, job *domain.Job) error {
	artifacts, err := json.Marshal(job.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	var failure []byte
	if job.Failure != nil {
		failure, err = json.Marshal(job.Failure)
		if err != nil {
			return fmt.Errorf("encode failure: %w", err)
		}
	}
	// The update is state-guarded: a row that already reached a terminal
	// state is never moved to a different one, so a racing writer cannot
	// overwrite an outcome a client may have observed.
	query := `
INSERT INTO generation_jobs (id, kind, state, prompt_json, upstream_ref, artifacts_json, failure_json, attempt, submitted_at, last_polled_at, deadline, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
ON CONFLICT (id) DO UPDATE
SET state = EXCLUDED.state,
    upstream_ref = EXCLUDED.upstream_ref,
    artifacts_json = EXCLUDED.artifacts_json,
    failure_json = EXCLUDED.failure_json,
    attempt = EXCLUDED.attempt,
    last_polled_at = EXCLUDED.last_polled_at,
    updated_at = NOW()
WHERE generation_jobs.state NOT IN ('succeeded', 'failed', 'timed_out', 'canceled')
   OR generation_jobs.state = EXCLUDED.state;
`
	tag, err := p.pool.Exec(ctx, query,
		job.ID,
		job.Kind,
		job.State,
		nullableBytes(job.PromptJSON),
		job.UpstreamRef,
		nullableBytes(artifacts),
		nullableBytes(failure),
		job.Attempt,
		job.SubmittedAt,
		nullableTime(job.LastPolledAt),
		job.Deadline,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobTerminal
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*domain.Job, error) {
	query := `
SELECT id, kind, state, prompt_json, upstream_ref, artifacts_json, failure_json, attempt, submitted_at, last_polled_at, deadline, updated_at
FROM generation_jobs
WHERE id = $1;
`
	return scanJob(p.pool.QueryRow(ctx, query, id))
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM generation_jobs WHERE id = $1;`, id)
	return err
}

func (p *Postgres) ListActive(ctx context.Context) ([]*domain.Job, error) {
	query := `
SELECT id, kind, state, prompt_json, upstream_ref, artifacts_json, failure_json, attempt, submitted_at, last_polled_at, deadline, updated_at
FROM generation_jobs
WHERE state NOT IN ('succeeded', 'failed', 'timed_out', 'canceled')
ORDER BY submitted_at;
`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job        domain.Job
		artifacts  []byte
		failure    []byte
		lastPolled *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.State,
		&job.PromptJSON,
		&job.UpstreamRef,
		&artifacts,
		&failure,
		&job.Attempt,
		&job.SubmittedAt,
		&lastPolled,
		&job.Deadline,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if lastPolled != nil {
		job.LastPolledAt = *lastPolled
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &job.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts: %w", err)
		}
	}
	if len(failure) > 0 {
		job.Failure = &domain.Failure{}
		if err := json.Unmarshal(failure, job.Failure); err != nil {
			return nil, fmt.Errorf("decode failure: %w", err)
		}
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ Store = (*Postgres)(nil)
