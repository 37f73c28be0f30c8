// Package workflow tracks document-generation runs per application.
//
// A run moves through
//
//	pending -> generating-resume -> [generating-cover-letter ->] completed
//
// and may fail from any non-terminal state. Cancellation is reserved for
// rollback. At most one run per application is active at a time.
package workflow

import (
	"time"
)

// Status is a workflow run's state
type Status string

const (
	StatusPending               Status = "pending"
	StatusGeneratingResume      Status = "generating-resume"
	StatusGeneratingCoverLetter Status = "generating-cover-letter"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
	StatusCancelled             Status = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusGeneratingResume, StatusGeneratingCoverLetter,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions lists the targets reachable through UpdateStatus.
// Failure is reachable from every non-terminal state and handled separately.
var transitions = map[Status][]Status{
	StatusPending:               {StatusGeneratingResume},
	StatusGeneratingResume:      {StatusGeneratingCoverLetter, StatusCompleted},
	StatusGeneratingCoverLetter: {StatusCompleted},
}

// CanTransition reports whether UpdateStatus may move a run from one status to another
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Run is one attempt at generating an application's documents
type Run struct {
	ID            string     `json:"id"`
	ApplicationID string     `json:"application_id"`
	UserID        string     `json:"user_id"`
	Status        Status     `json:"status"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Active reports whether the run still holds the application's active slot
func (r *Run) Active() bool {
	return r != nil && !r.Status.Terminal()
}
