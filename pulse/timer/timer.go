// Package timer is the durable scheduler behind jobpulse: a SQL-backed store of
// due-at timers, a registry of kind handlers and the dispatcher that claims due
// timers and runs them.
//
// Delivery is at-least-once. A timer claimed by a process that dies stays in
// processing until the dispatcher's stale reconciliation returns it to pending,
// so handlers re-check state before every write.
package timer

import (
	"encoding/json"
	"time"
)

// Kind names what a timer does when it fires
type Kind string

const (
	KindAutoApplyDelay   Kind = "auto-apply-delay"
	KindFollowUpReminder Kind = "follow-up-reminder"
	KindDocumentDeletion Kind = "document-deletion"

	// Deprecated kinds may still sit in old databases. They are acknowledged and completed.
	KindCVVerificationTimeout      Kind = "cv-verification-timeout"
	KindMessageVerificationTimeout Kind = "message-verification-timeout"
)

// Deprecated reports whether timers of this kind are only drained, never scheduled
func (k Kind) Deprecated() bool {
	return k == KindCVVerificationTimeout || k == KindMessageVerificationTimeout
}

// Repeating reports whether several pending timers of this kind may share a target
func (k Kind) Repeating() bool {
	return k == KindFollowUpReminder
}

// Known reports whether k is a kind jobpulse understands
func (k Kind) Known() bool {
	switch k {
	case KindAutoApplyDelay, KindFollowUpReminder, KindDocumentDeletion,
		KindCVVerificationTimeout, KindMessageVerificationTimeout:
		return true
	}
	return false
}

// Status is a timer's lifecycle state
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Finished reports whether the timer will never run again
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Timer is a unit of scheduled work
type Timer struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Kind       Kind            `json:"kind"`
	TargetID   string          `json:"target_id"`
	DueAt      time.Time       `json:"due_at"`
	RawPayload json.RawMessage `json:"payload"`
	Status     Status          `json:"status"`
	LastError  string          `json:"last_error,omitempty"`
	Attempts   int             `json:"attempts"`
	ClaimedAt  *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`

	// Payload is RawPayload decoded for Kind; set by Decode before dispatch
	Payload Payload `json:"-"`
}

// Decode parses RawPayload into Payload according to Kind
func (t *Timer) Decode() error {
	p, err := DecodePayload(t.Kind, t.RawPayload)
	if err != nil {
		return err
	}
	t.Payload = p
	return nil
}

// Short returns the first 8 characters of the ID for log lines
func (t *Timer) Short() string {
	if len(t.ID) > 8 {
		return t.ID[:8]
	}
	return t.ID
}
