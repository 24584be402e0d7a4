package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from JobState
		to   JobState
		want bool
	}{
		{"pending to submitted", JobStatePending, JobStateSubmitted, true},
		{"pending to failed", JobStatePending, JobStateFailed, true},
		{"pending to polling", JobStatePending, JobStatePolling, false},
		{"pending to succeeded", JobStatePending, JobStateSucceeded, false},
		{"submitted to polling", JobStateSubmitted, JobStatePolling, true},
		{"submitted to succeeded", JobStateSubmitted, JobStateSucceeded, false},
		{"polling self loop", JobStatePolling, JobStatePolling, true},
		{"polling to succeeded", JobStatePolling, JobStateSucceeded, true},
		{"polling to failed", JobStatePolling, JobStateFailed, true},
		{"polling to timed out", JobStatePolling, JobStateTimedOut, true},
		{"polling to submitted", JobStatePolling, JobStateSubmitted, false},
		{"cancel from pending", JobStatePending, JobStateCanceled, true},
		{"cancel from submitted", JobStateSubmitted, JobStateCanceled, true},
		{"cancel from polling", JobStatePolling, JobStateCanceled, true},
		{"cancel from succeeded", JobStateSucceeded, JobStateCanceled, false},
		{"cancel from failed", JobStateFailed, JobStateCanceled, false},
		{"cancel from canceled", JobStateCanceled, JobStateCanceled, false},
		{"succeeded is final", JobStateSucceeded, JobStatePolling, false},
		{"timed out is final", JobStateTimedOut, JobStatePolling, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransition(%q, %q) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestJobStateTerminal(t *testing.T) {
	terminal := []JobState{JobStateSucceeded, JobStateFailed, JobStateTimedOut, JobStateCanceled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%q.Terminal() = false, want true", s)
		}
	}
	active := []JobState{JobStatePending, JobStateSubmitted, JobStatePolling}
	for _, s := range active {
		if s.Terminal() {
			t.Fatalf("%q.Terminal() = true, want false", s)
		}
	}
}

func TestJobKindValid(t *testing.T) {
	for _, k := range []JobKind{JobKindChat, JobKindImage, JobKindVideo} {
		if !k.Valid() {
			t.Fatalf("%q.Valid() = false, want true", k)
		}
	}
	if JobKind("audio").Valid() {
		t.Fatal(`JobKind("audio").Valid() = true, want false`)
	}
	if JobKind("").Valid() {
		t.Fatal(`JobKind("").Valid() = true, want false`)
	}
}

func TestJobCloneIsDeep(t *testing.T) {
	job := &Job{
		ID:         "j1",
		Kind:       JobKindImage,
		State:      JobStatePolling,
		PromptJSON: json.RawMessage(`{"prompt":"a cat"}`),
		Artifacts:  []ArtifactReference{{LocalPath: "/tmp/a.png"}},
		Failure:    &Failure{Kind: FailureUpstreamError, Message: "boom"},
	}
	clone := job.Clone()

	clone.PromptJSON[2] = 'X'
	clone.Artifacts[0].LocalPath = "/tmp/b.png"
	clone.Failure.Message = "changed"

	if string(job.PromptJSON) != `{"prompt":"a cat"}` {
		t.Fatalf("prompt mutated through clone: %s", job.PromptJSON)
	}
	if job.Artifacts[0].LocalPath != "/tmp/a.png" {
		t.Fatalf("artifact mutated through clone: %s", job.Artifacts[0].LocalPath)
	}
	if job.Failure.Message != "boom" {
		t.Fatalf("failure mutated through clone: %s", job.Failure.Message)
	}
}

func TestJobResult(t *testing.T) {
	job := &Job{Artifacts: []ArtifactReference{{LocalPath: "/tmp/a.png"}}}
	if got := job.Result(); got != nil {
		t.Fatalf("Result() = %+v, want nil without durable URL", got)
	}
	job.Artifacts = append(job.Artifacts, ArtifactReference{DurableURL: "http://cdn/x.png"})
	r := job.Result()
	if r == nil || r.DurableURL != "http://cdn/x.png" {
		t.Fatalf("Result() = %+v, want durable artifact", r)
	}
}

func TestNewFailureFlattens(t *testing.T) {
	inner := &Failure{Kind: FailureUpstreamRejected, Message: "policy"}
	wrapped := errors.Join(errors.New("outer"), inner)

	got := NewFailure(FailureUpstreamError, wrapped)
	if got.Kind != FailureUpstreamRejected || got.Message != "policy" {
		t.Fatalf("NewFailure = %+v, want inner failure preserved", got)
	}

	plain := NewFailure(FailureRelocation, errors.New("disk full"))
	if plain.Kind != FailureRelocation || plain.Message != "disk full" {
		t.Fatalf("NewFailure = %+v, want relocation_error/disk full", plain)
	}
}
