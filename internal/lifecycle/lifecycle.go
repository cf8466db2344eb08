// Package lifecycle owns the job state machine. Every status write in
// the system goes through the Manager; the store enforces the same
// edges with guarded updates so concurrent writers cannot corrupt
// status even under races.
package lifecycle

import (
	"errors"

	"vocalis/internal/domain"
)

var (
	// ErrNotFound is returned when a job does not exist (or is not
	// visible to the requesting owner, which looks identical).
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a requested status change
	// is not an edge of the state machine. The job is left unchanged.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrAlreadyClaimed is returned when a claim races another worker;
	// the job must be skipped, not double-processed.
	ErrAlreadyClaimed = errors.New("job already claimed")
)

// transitions is the full edge set of the job state machine.
// Terminal states have no outgoing edges.
var transitions = map[string][]string{
	domain.JobStatusPending: {
		domain.JobStatusQueued,
		domain.JobStatusFailed,
		domain.JobStatusCancelled,
	},
	domain.JobStatusQueued: {
		domain.JobStatusProcessing,
		domain.JobStatusFailed,
		domain.JobStatusCancelled,
	},
	domain.JobStatusProcessing: {
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
		// Retry path: a failed attempt goes straight back to queued.
		domain.JobStatusQueued,
	},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether a job in the given status may still be
// cancelled. Once processing starts, in-flight work is not preemptible,
// so the cancelled edge exists only from pending and queued.
func Cancellable(status string) bool {
	return CanTransition(status, domain.JobStatusCancelled)
}
