package domain

import (
	"fmt"
	"time"
)

// JobStatus is a state of the job lifecycle
type JobStatus string

// Job status constants
const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// transitions lists the allowed successors of every status.
// Pending -> Failed only happens when a JobCreated message is dead-lettered
// before execution could record a result.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusFailed},
	JobStatusRunning: {JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// IsTerminal reports whether no transition out of s exists
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is in the transition table
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns every status from which to can be reached
func Predecessors(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusPending, JobStatusRunning} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// TransitionTo moves the job to status, stamping UpdatedAt and, for terminal
// statuses, CompletedAt. It returns ErrInvalidTransition for moves outside the table.
func (j *Job) TransitionTo(status JobStatus, now time.Time) error {
	if !CanTransition(j.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}

	j.Status = status
	j.UpdatedAt = now
	if status.IsTerminal() {
		completedAt := now
		j.CompletedAt = &completedAt
	}
	return nil
}
