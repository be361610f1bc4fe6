package models

// Event type classes delivered on the shared server-push stream. The
// remote service has used both "jobProgress"/"jobCompleted"/"jobFailed"
// and the bare forms at different API revisions, so classification
// accepts both.
const (
	EventTypeQueued    = "queued"
	EventTypeProgress  = "progress"
	EventTypeCompleted = "completed"
	EventTypeFailed    = "failed"
)

// Event is one server-pushed message. Older API revisions tag the
// carried identifier as jobId, newer ones as projectId; RemoteID()
// hides the difference.
type Event struct {
	Type      string  `json:"type"`
	ProjectID string  `json:"projectId,omitempty"`
	JobID     string  `json:"jobId,omitempty"`
	Progress  float64 `json:"progress,omitempty"`
	ResultURL string  `json:"resultUrl,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// RemoteID returns the identifier the event is keyed by, preferring the
// newer projectId tag.
func (e Event) RemoteID() string {
	if e.ProjectID != "" {
		return e.ProjectID
	}
	return e.JobID
}

// IsProgress reports whether the event is a progress-class event.
func (e Event) IsProgress() bool {
	switch e.Type {
	case EventTypeProgress, "jobProgress", EventTypeQueued:
		return true
	}
	return false
}

// IsTerminal reports whether the event ends a job's stream participation.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventTypeCompleted, "jobCompleted", EventTypeFailed, "jobFailed":
		return true
	}
	return false
}

// IsSuccess reports whether a terminal event carries a successful result.
func (e Event) IsSuccess() bool {
	return e.Type == EventTypeCompleted || e.Type == "jobCompleted"
}

// NormalizeProgress converts a progress value to the canonical 0-1
// range. The remote service is inconsistent between fractional and
// percentage progress across call sites, so anything above 1 is treated
// as a percentage. Negative values clamp to 0.
func NormalizeProgress(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		v = v / 100
	}
	if v > 1 {
		v = 1
	}
	return v
}
