package domain

import (
	"encoding"
	"time"
)

type ProcessingState string

const (
	StateAccepted   ProcessingState = "accepted"
	StateInProgress ProcessingState = "in_progress"
	StateCompleted  ProcessingState = "completed"
	StateFailed     ProcessingState = "failed"
)

var (
	_ encoding.BinaryMarshaler = ProcessingState("")
	_ encoding.TextMarshaler   = ProcessingState("")
)

func (s ProcessingState) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s ProcessingState) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }

func (s ProcessingState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransitionTo reports whether next directly follows s in the lifecycle
// accepted -> in_progress -> completed|failed.
func (s ProcessingState) CanTransitionTo(next ProcessingState) bool {
	switch s {
	case StateAccepted:
		return next == StateInProgress
	case StateInProgress:
		return next == StateCompleted || next == StateFailed
	default:
		return false
	}
}

type FailureReason string

const (
	FailureTimeout               FailureReason = "timeout"
	FailureImageUnreadable       FailureReason = "image_unreadable"
	FailureClassifierUnavailable FailureReason = "classifier_unavailable"
	FailureInternal              FailureReason = "internal"
)

type Failure struct {
	Reason  FailureReason `json:"reason"`
	Message string        `json:"message"`
}

type ProcessingRecord struct {
	ProcessingID string            `json:"processing-id"`
	State        ProcessingState   `json:"status"`
	SubmittedAt  time.Time         `json:"submitted-at"`
	StartedAt    *time.Time        `json:"started-at,omitempty"`
	FinishedAt   *time.Time        `json:"finished-at,omitempty"`
	Result       *ValidationResult `json:"result,omitempty"`
	Failure      *Failure          `json:"failure,omitempty"`
	CallbackURL  string            `json:"-"`
}

// Clone returns a deep copy so callers never share mutable state with the store.
func (r ProcessingRecord) Clone() ProcessingRecord {
	out := r
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	if r.Result != nil {
		res := r.Result.Clone()
		out.Result = &res
	}
	if r.Failure != nil {
		f := *r.Failure
		out.Failure = &f
	}
	return out
}
