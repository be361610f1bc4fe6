package models

import (
	"time"
)

// Run is one recorded batch of conversions
type Run struct {
	ID         string     `json:"id"`
	StyleID    string     `json:"style_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Tally      Tally      `json:"tally"`
}

// Duration returns how long the run took, or zero if still in flight
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
