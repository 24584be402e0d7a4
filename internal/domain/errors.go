package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidKind       = errors.New("invalid job kind")
	ErrJobTerminal       = errors.New("job already terminal")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// FailureKind classifies terminal failures so clients can distinguish
// "rejected" from "ran out of time" from "storage broke after generation".
type FailureKind string

const (
	// FailureUpstreamRejected marks a terminal upstream refusal, e.g. a
	// content policy violation. Never retried.
	FailureUpstreamRejected FailureKind = "upstream_rejected"
	// FailureUpstreamError marks exhausted transient upstream errors.
	FailureUpstreamError FailureKind = "upstream_error"
	// FailureDeadlineExceeded marks a locally observed wall-clock timeout,
	// independent of the upstream outcome.
	FailureDeadlineExceeded FailureKind = "deadline_exceeded"
	// FailureRelocation marks a durable-storage upload failure after a
	// successful generation. The local artifact is preserved.
	FailureRelocation FailureKind = "relocation_error"
)

// Failure is the structured cause attached to a failed or timed-out job.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewFailure builds a Failure from any error, flattening nested failures.
func NewFailure(kind FailureKind, err error) *Failure {
	var inner *Failure
	if errors.As(err, &inner) {
		return inner
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Failure{Kind: kind, Message: msg}
}
