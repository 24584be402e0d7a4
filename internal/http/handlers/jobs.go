package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"flowgate/internal/domain"
	"flowgate/internal/orchestrator"
)

type submitJobRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// SubmitJob accepts a generation request and returns a job id immediately.
// It never blocks for completion.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Orc.Submit(r.Context(), domain.JobKind(req.Kind), req.Payload)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidKind) {
			a.error(w, http.StatusBadRequest, "bad_request", "kind must be one of chat, image, video")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	a.json(w, http.StatusAccepted, jobView(job))
}

// JobStatus is the poll-once status read for non-streaming callers.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, jobView(job))
}

// CancelJob requests best-effort cancellation and returns immediately. It
// does not guarantee upstream-side cancellation.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	err := a.Orc.Cancel(r.Context(), jobID)
	switch {
	case err == nil:
		a.json(w, http.StatusAccepted, map[string]string{"job_id": jobID, "state": "canceling"})
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrJobTerminal):
		a.error(w, http.StatusConflict, "conflict", "job already terminal")
	default:
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
	}
}

// DeleteJob removes a terminal job row from the store.
func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	if !job.State.Terminal() {
		a.error(w, http.StatusConflict, "conflict", "job still running")
		return
	}
	if err := a.Store.Delete(r.Context(), job.ID); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StreamJob renders the job's state transitions as a server-sent event
// stream, terminating exactly once a terminal state is reached. Heartbeats
// keep the connection alive during long polls; a client disconnect only
// detaches the subscriber, generation continues server-side.
func (a *App) StreamJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	// Subscribe before the snapshot read so a transition between the two is
	// never missed; a reconnect resumes from current state, not the beginning.
	events, unsubscribe := a.Broker.Subscribe(jobID)
	defer unsubscribe()

	job, err := a.Store.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, flusher, snapshotEvent(job))
	if job.State.Terminal() {
		return
	}

	// Events buffered between the subscribe and the snapshot read predate
	// the snapshot; replaying them would deliver progress out of order, so
	// they are dropped. Terminal signals are kept: they can only be newer
	// than a non-terminal snapshot. Dropping a progress update is already
	// tolerated by the non-blocking publish.
	for skimming := true; skimming; {
		select {
		case ev, open := <-events:
			if !open {
				final, err := a.Store.Get(r.Context(), jobID)
				if err == nil && final.State.Terminal() {
					writeEvent(w, flusher, snapshotEvent(final))
				}
				return
			}
			if ev.State.Terminal() {
				writeEvent(w, flusher, ev)
				return
			}
		default:
			skimming = false
		}
	}

	heartbeat := time.NewTicker(a.Cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			writeEvent(w, flusher, orchestrator.Event{
				JobID:     jobID,
				Type:      orchestrator.EventTypeHeartbeat,
				State:     domain.JobStatePolling,
				Timestamp: time.Now().UTC(),
			})
		case ev, open := <-events:
			if !open {
				// Channel closed on terminal publish. Re-read the store so a
				// subscriber that fell behind still observes the outcome.
				final, err := a.Store.Get(r.Context(), jobID)
				if err == nil && final.State.Terminal() {
					writeEvent(w, flusher, snapshotEvent(final))
				}
				return
			}
			writeEvent(w, flusher, ev)
			if ev.State.Terminal() {
				return
			}
		}
	}
}

func (a *App) loadJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Store.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
		} else {
			a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		}
		return nil, false
	}
	return job, true
}

func jobView(job *domain.Job) map[string]any {
	view := map[string]any{
		"job_id":       job.ID,
		"kind":         job.Kind,
		"state":        job.State,
		"attempt":      job.Attempt,
		"submitted_at": job.SubmittedAt,
		"deadline":     job.Deadline,
		"updated_at":   job.UpdatedAt,
	}
	if r := job.Result(); r != nil {
		view["url"] = r.DurableURL
	}
	if job.Failure != nil {
		view["error_kind"] = job.Failure.Kind
		view["error"] = job.Failure.Message
	}
	return view
}

func snapshotEvent(job *domain.Job) orchestrator.Event {
	ev := orchestrator.Event{
		JobID:     job.ID,
		Type:      orchestrator.EventTypeStatus,
		State:     job.State,
		Attempt:   job.Attempt,
		Failure:   job.Failure,
		Timestamp: time.Now().UTC(),
	}
	if r := job.Result(); r != nil {
		ev.URL = r.DurableURL
	}
	return ev
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev orchestrator.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
