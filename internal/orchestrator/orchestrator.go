// Package orchestrator owns the generation job state machine. Each job runs
// in its own goroutine that suspends between polls, so a 25-minute video job
// never holds more than a parked goroutine.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"flowgate/internal/domain"
	"flowgate/internal/infra"
	"flowgate/internal/store"
	"flowgate/internal/upstream"
)

// UpstreamClient is the orchestrator's view of the generation provider.
// Implemented by *upstream.Client.
type UpstreamClient interface {
	Submit(ctx context.Context, kind domain.JobKind, payload json.RawMessage) (string, error)
	Poll(ctx context.Context, ref string) (upstream.PollResult, error)
	Cancel(ctx context.Context, ref string) error
	FetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error)
}

// ArtifactRelocator moves a completed local artifact into durable storage.
// Implemented by *relocate.Relocator.
type ArtifactRelocator interface {
	Relocate(ctx context.Context, localPath, contentHash string) (string, error)
}

var (
	errCancelRequested = errors.New("cancel requested")
	errShuttingDown    = errors.New("shutting down")
)

// Orchestrator drives jobs through submit, poll, and relocation. It is the
// single writer of job state; the store remains the source of truth across
// restarts.
type Orchestrator struct {
	cfg    *infra.Config
	store  store.Store
	client UpstreamClient
	reloc  ArtifactRelocator
	broker *Broker
	logger infra.Logger
	tmpDir string

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
	closed  bool
	wg      sync.WaitGroup
}

// New constructs an Orchestrator and ensures the ephemeral tmp directory
// exists.
func New(cfg *infra.Config, st store.Store, client UpstreamClient, reloc ArtifactRelocator, broker *Broker, logger infra.Logger) (*Orchestrator, error) {
	if err := os.MkdirAll(cfg.TmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("orchestrator: ensure tmp dir: %w", err)
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		client:  client,
		reloc:   reloc,
		broker:  broker,
		logger:  logger,
		tmpDir:  cfg.TmpDir,
		running: make(map[string]context.CancelCauseFunc),
	}, nil
}

// Broker exposes the event broker for streaming subscribers.
func (o *Orchestrator) Broker() *Broker {
	return o.broker
}

// Submit registers a new job and starts driving it. It returns immediately
// with the job in pending state; completion is observed through the store or
// the event broker.
func (o *Orchestrator) Submit(ctx context.Context, kind domain.JobKind, payload json.RawMessage) (*domain.Job, error) {
	if !kind.Valid() {
		return nil, domain.ErrInvalidKind
	}
	now := time.Now().UTC()
	job := &domain.Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		State:       domain.JobStatePending,
		PromptJSON:  append(json.RawMessage(nil), payload...),
		SubmittedAt: now,
		Deadline:    now.Add(o.cfg.TimeoutForKind(string(kind))),
		UpdatedAt:   now,
	}
	if err := o.store.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	o.start(job.ID)
	return job.Clone(), nil
}

// Resume reloads every non-terminal job from the store and starts driving it
// again. Called once at process start; jobs already past their deadline are
// timed out on their first poll cycle.
func (o *Orchestrator) Resume(ctx context.Context) error {
	jobs, err := o.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}
	for _, job := range jobs {
		o.logger.Info().
			Str("job_id", job.ID).
			Str("state", string(job.State)).
			Msg("orchestrator: resuming job")
		o.start(job.ID)
	}
	return nil
}

// Cancel requests best-effort cancellation. It returns once the cancellation
// signal is delivered; the canceled transition is observed through the store
// or the event stream.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return domain.ErrJobTerminal
	}
	o.mu.Lock()
	cancel, ok := o.running[id]
	o.mu.Unlock()
	if ok {
		// The job's own goroutine performs the transition and the upstream
		// cancel call, preserving single-writer semantics.
		cancel(errCancelRequested)
		return nil
	}
	// No local runner (e.g. another process crashed mid-job): transition
	// directly and fire the upstream cancel without blocking on it.
	// Re-read first: the runner may have finished and deregistered itself
	// between the snapshot above and the map lookup, and its terminal state
	// must not be overwritten. The state-guarded store write backstops the
	// same race if it lands after this read.
	job, err = o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return domain.ErrJobTerminal
	}
	job.Failure = nil
	if err := o.setState(job, domain.JobStateCanceled); err != nil {
		return err
	}
	if job.UpstreamRef != "" {
		go o.upstreamCancel(job.UpstreamRef)
	}
	return nil
}

// Shutdown interrupts all running jobs without transitioning them, so a
// later Resume picks them back up, then waits for the goroutines to drain.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, cancel := range o.running {
		cancel(errShuttingDown)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) start(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if _, ok := o.running[id]; ok {
		return
	}
	jobCtx, cancel := context.WithCancelCause(context.Background())
	o.running[id] = cancel
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.running, id)
			o.mu.Unlock()
			cancel(nil)
		}()
		o.run(jobCtx, id)
	}()
}

func (o *Orchestrator) run(ctx context.Context, id string) {
	// Reload from the store: after a restart the in-memory view is gone and
	// the persisted row decides where to pick up.
	job, err := o.store.Get(context.Background(), id)
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", id).Msg("orchestrator: load job failed")
		return
	}
	if job.State.Terminal() {
		return
	}

	if job.State == domain.JobStatePending {
		if !o.submitUpstream(ctx, job) {
			return
		}
	}
	if job.State == domain.JobStateSubmitted {
		if err := o.setState(job, domain.JobStatePolling); err != nil {
			return
		}
	}
	o.pollLoop(ctx, job)
}

// submitUpstream drives pending → submitted. Transient submit errors are
// retried with exponential backoff up to FlowMaxRetries; terminal rejections
// fail the job immediately with zero poll attempts. Returns false when the
// job reached a terminal state.
func (o *Orchestrator) submitUpstream(ctx context.Context, job *domain.Job) bool {
	var ref string
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.FlowTimeout)
		defer cancel()
		r, err := o.client.Submit(callCtx, job.Kind, job.PromptJSON)
		if err != nil {
			if !upstream.Transient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		ref = r
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(o.cfg.FlowMaxRetries)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if ctx.Err() != nil {
			o.interrupted(ctx, job)
			return false
		}
		kind := domain.FailureUpstreamError
		if !upstream.Transient(err) {
			kind = domain.FailureUpstreamRejected
		}
		o.fail(job, kind, err)
		return false
	}
	job.UpstreamRef = ref
	if err := o.setState(job, domain.JobStateSubmitted); err != nil {
		return false
	}
	return true
}

// pollLoop drives polling → {succeeded, failed, timed_out, canceled}. The
// deadline is evaluated after each poll so an upstream outcome observed in
// the same cycle wins over expiry.
func (o *Orchestrator) pollLoop(ctx context.Context, job *domain.Job) {
	interval := o.cfg.PollIntervalForKind(string(job.Kind))
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			o.interrupted(ctx, job)
			return
		case <-timer.C:
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.FlowTimeout)
		res, err := o.client.Poll(callCtx, job.UpstreamRef)
		cancel()
		if ctx.Err() != nil {
			o.interrupted(ctx, job)
			return
		}

		job.Attempt++
		job.LastPolledAt = time.Now().UTC()

		switch {
		case err == nil && res.Done:
			o.complete(ctx, job, res)
			return
		case err != nil && !upstream.Transient(err):
			o.fail(job, domain.FailureUpstreamRejected, err)
			return
		case err != nil:
			o.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Int("attempt", job.Attempt).
				Msg("orchestrator: transient poll error")
		}

		if !time.Now().Before(job.Deadline) {
			o.timeout(job)
			return
		}
		if job.Attempt >= o.cfg.MaxPollAttempts {
			o.fail(job, domain.FailureUpstreamError, fmt.Errorf("no result after %d poll attempts", job.Attempt))
			return
		}

		// Progress heartbeat for watchers plus a persisted poll cursor.
		if err := o.setState(job, domain.JobStatePolling); err != nil {
			return
		}
		timer.Reset(interval)
	}
}

// complete downloads the finished artifact to ephemeral storage, relocates
// it to the durable backend, and marks the job succeeded. The job is not
// succeeded until the durable URL is populated; a relocation failure yields
// failed with a relocation error and preserves the local file.
func (o *Orchestrator) complete(ctx context.Context, job *domain.Job, res upstream.PollResult) {
	data, mimeType, err := o.client.FetchMedia(ctx, res.MediaURL)
	if err != nil {
		if ctx.Err() != nil {
			o.interrupted(ctx, job)
			return
		}
		o.fail(job, domain.FailureUpstreamError, fmt.Errorf("fetch media: %w", err))
		return
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	localPath := filepath.Join(o.tmpDir, hash+extensionForMIME(mimeType))
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		o.fail(job, domain.FailureRelocation, fmt.Errorf("write artifact: %w", err))
		return
	}
	job.Artifacts = []domain.ArtifactReference{{
		LocalPath:   localPath,
		ContentHash: hash,
		MIME:        mimeType,
	}}

	url, err := o.reloc.Relocate(ctx, localPath, hash)
	if err != nil {
		if ctx.Err() != nil {
			o.interrupted(ctx, job)
			return
		}
		o.fail(job, domain.FailureRelocation, err)
		return
	}
	job.Artifacts[0].DurableURL = url
	if err := o.setState(job, domain.JobStateSucceeded); err != nil {
		return
	}
	o.logger.Info().
		Str("job_id", job.ID).
		Int("attempts", job.Attempt).
		Str("url", url).
		Msg("orchestrator: job succeeded")
}

// interrupted handles a canceled job context: an explicit cancel request
// transitions the job to canceled and fires a best-effort upstream cancel; a
// process shutdown leaves the persisted state untouched for Resume.
func (o *Orchestrator) interrupted(ctx context.Context, job *domain.Job) {
	if !errors.Is(context.Cause(ctx), errCancelRequested) {
		return
	}
	if err := o.setState(job, domain.JobStateCanceled); err != nil {
		return
	}
	if job.UpstreamRef != "" {
		go o.upstreamCancel(job.UpstreamRef)
	}
	o.logger.Info().Str("job_id", job.ID).Msg("orchestrator: job canceled")
}

func (o *Orchestrator) fail(job *domain.Job, kind domain.FailureKind, err error) {
	job.Failure = domain.NewFailure(kind, err)
	if serr := o.setState(job, domain.JobStateFailed); serr != nil {
		return
	}
	o.logger.Error().Err(err).
		Str("job_id", job.ID).
		Str("failure_kind", string(kind)).
		Msg("orchestrator: job failed")
}

func (o *Orchestrator) timeout(job *domain.Job) {
	job.Failure = &domain.Failure{
		Kind:    domain.FailureDeadlineExceeded,
		Message: fmt.Sprintf("deadline exceeded after %d poll attempts", job.Attempt),
	}
	if err := o.setState(job, domain.JobStateTimedOut); err != nil {
		return
	}
	o.logger.Warn().
		Str("job_id", job.ID).
		Time("deadline", job.Deadline).
		Msg("orchestrator: job timed out")
}

// setState validates the transition, persists the job, and publishes the
// event. Terminal writes use a detached context so a canceled job context
// cannot lose the final state.
func (o *Orchestrator) setState(job *domain.Job, to domain.JobState) error {
	if !domain.CanTransition(job.State, to) {
		o.logger.Error().
			Str("job_id", job.ID).
			Str("from", string(job.State)).
			Str("to", string(to)).
			Msg("orchestrator: invalid transition")
		return domain.ErrInvalidTransition
	}
	job.State = to
	job.UpdatedAt = time.Now().UTC()

	putCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.Put(putCtx, job); err != nil {
		if errors.Is(err, domain.ErrJobTerminal) {
			o.logger.Warn().
				Str("job_id", job.ID).
				Str("to", string(to)).
				Msg("orchestrator: job already terminal, keeping stored outcome")
		} else {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: persist state failed")
		}
		return err
	}

	ev := Event{
		JobID:   job.ID,
		Type:    EventTypeStatus,
		State:   job.State,
		Attempt: job.Attempt,
		Failure: job.Failure,
	}
	if r := job.Result(); r != nil {
		ev.URL = r.DurableURL
	}
	o.broker.Publish(ev)
	if to.Terminal() {
		o.broker.Close(job.ID)
	}
	return nil
}

func (o *Orchestrator) upstreamCancel(ref string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.FlowTimeout)
	defer cancel()
	if err := o.client.Cancel(ctx, ref); err != nil {
		o.logger.Warn().Err(err).Str("operation", ref).Msg("orchestrator: upstream cancel failed")
	}
}

func extensionForMIME(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "video/mp4":
		return ".mp4"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
