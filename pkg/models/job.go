package models

import (
	"time"
)

// JobState represents the lifecycle state of a conversion job
type JobState string

const (
	JobStateCreated        JobState = "created"         // Job built, start request not yet sent
	JobStateRequesting     JobState = "requesting"      // Start request in flight
	JobStateAwaitingEvents JobState = "awaiting_events" // Remote id assigned, listening for events
	JobStateSucceeded      JobState = "succeeded"       // Terminal event carried a result
	JobStateFailed         JobState = "failed"          // Request error, failure event, or timeout
	JobStateCanceled       JobState = "canceled"        // Batch canceled before a terminal event
)

// Job is one image's end-to-end transformation attempt. A job is created
// when a scheduler lane dequeues an image and is never reused; retries are
// expressed as brand-new jobs for the same image.
type Job struct {
	ID          string            `json:"id"`
	Source      ImageHandle       `json:"source"`
	Style       StyleParams       `json:"style"`
	State       JobState          `json:"state"`
	RemoteID    string            `json:"remote_id,omitempty"` // assigned once, on requesting -> awaiting_events
	Progress    float64           `json:"progress"`            // monotonically non-decreasing, 0-1
	ResultURL   string            `json:"result_url,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Transitions []StateTransition `json:"transitions,omitempty"`
}

// StateTransition tracks job state changes with timestamps
type StateTransition struct {
	From      JobState  `json:"from"`
	To        JobState  `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// NewJob creates a job in the created state for one source image.
func NewJob(id string, source ImageHandle, style StyleParams) *Job {
	return &Job{
		ID:        id,
		Source:    source,
		Style:     style,
		State:     JobStateCreated,
		CreatedAt: time.Now(),
	}
}

// Transition moves the job to a new state after validating the move
// against the state machine. Terminal states also stamp CompletedAt.
func (j *Job) Transition(to JobState, reason string) error {
	if err := ValidateTransition(j.State, to); err != nil {
		return err
	}

	j.Transitions = append(j.Transitions, StateTransition{
		From:      j.State,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	j.State = to

	switch {
	case to == JobStateRequesting:
		now := time.Now()
		j.StartedAt = &now
	case IsTerminalState(to):
		now := time.Now()
		j.CompletedAt = &now
	}
	return nil
}

// SetProgress records a progress observation. Progress is kept
// monotonically non-decreasing: an event carrying a lower value than a
// previous one (out-of-order delivery) is ignored. Returns true if the
// stored value changed.
func (j *Job) SetProgress(p float64) bool {
	if p <= j.Progress {
		return false
	}
	if p > 1 {
		p = 1
	}
	j.Progress = p
	return true
}

// Duration returns how long the job ran, or zero if it never started or
// has not finished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
