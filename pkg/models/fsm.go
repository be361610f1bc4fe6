package models

import (
	"fmt"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobState]map[JobState]bool{
	JobStateCreated: {
		JobStateRequesting: true, // Created → Requesting (lane starts the job)
		JobStateCanceled:   true, // Created → Canceled (batch canceled before start)
	},
	JobStateRequesting: {
		JobStateAwaitingEvents: true, // Requesting → AwaitingEvents (remote id received)
		JobStateFailed:         true, // Requesting → Failed (start request errored)
		JobStateCanceled:       true, // Requesting → Canceled (batch canceled mid-request)
	},
	JobStateAwaitingEvents: {
		JobStateSucceeded: true, // AwaitingEvents → Succeeded (terminal success event)
		JobStateFailed:    true, // AwaitingEvents → Failed (failure event or timeout)
		JobStateCanceled:  true, // AwaitingEvents → Canceled (batch canceled)
	},
	// Terminal states (no transitions allowed)
	JobStateSucceeded: {},
	JobStateFailed:    {},
	JobStateCanceled:  {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobState) error {
	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobState) bool {
	return state == JobStateSucceeded || state == JobStateFailed || state == JobStateCanceled
}
