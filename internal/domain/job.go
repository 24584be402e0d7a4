package domain

import (
	"encoding/json"
	"time"
)

// JobKind enumerates supported generation job categories. The kind selects
// the upstream endpoint and the wall-clock budget for the job.
type JobKind string

const (
	JobKindChat  JobKind = "chat"
	JobKindImage JobKind = "image"
	JobKindVideo JobKind = "video"
)

// Valid reports whether the kind is one of the supported categories.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindChat, JobKindImage, JobKindVideo:
		return true
	}
	return false
}

// JobState enumerates job lifecycle states.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateSubmitted JobState = "submitted"
	JobStatePolling   JobState = "polling"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateTimedOut  JobState = "timed_out"
	JobStateCanceled  JobState = "canceled"
)

// Terminal reports whether the state ends the job lifecycle. A terminal job
// never re-enters a non-terminal state.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateTimedOut, JobStateCanceled:
		return true
	}
	return false
}

// CanTransition enforces the allowed job state machine edges. Cancellation is
// reachable from every non-terminal state; all other edges are strictly
// forward.
func CanTransition(from, to JobState) bool {
	if to == JobStateCanceled {
		return !from.Terminal()
	}
	switch from {
	case JobStatePending:
		return to == JobStateSubmitted || to == JobStateFailed
	case JobStateSubmitted:
		return to == JobStatePolling
	case JobStatePolling:
		return to == JobStatePolling || to == JobStateSucceeded || to == JobStateFailed || to == JobStateTimedOut
	default:
		return false
	}
}

// ArtifactReference points at one produced media asset. LocalPath is the
// ephemeral location on the generating host and may vanish after a restart;
// DurableURL is set once relocation to durable storage completed.
type ArtifactReference struct {
	LocalPath   string `json:"local_path,omitempty"`
	DurableURL  string `json:"durable_url,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	MIME        string `json:"mime,omitempty"`
}

// Job encapsulates the lifecycle of one generation request. The job store is
// the single source of truth for its fields; only the orchestrator mutates a
// job after submission.
type Job struct {
	ID           string
	Kind         JobKind
	State        JobState
	PromptJSON   json.RawMessage
	UpstreamRef  string
	Artifacts    []ArtifactReference
	Failure      *Failure
	Attempt      int
	SubmittedAt  time.Time
	LastPolledAt time.Time
	Deadline     time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy so stores can hand out snapshots without
// aliasing the caller's slices.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.PromptJSON = append(json.RawMessage(nil), j.PromptJSON...)
	if j.Artifacts != nil {
		out.Artifacts = append([]ArtifactReference(nil), j.Artifacts...)
	}
	if j.Failure != nil {
		f := *j.Failure
		out.Failure = &f
	}
	return &out
}

// Result returns the first artifact with a durable URL, or nil.
func (j *Job) Result() *ArtifactReference {
	for i := range j.Artifacts {
		if j.Artifacts[i].DurableURL != "" {
			return &j.Artifacts[i]
		}
	}
	return nil
}
