// Package application is the SQL accessor for applications, user settings and
// follow-up tracking. The orchestrator only reads stages and writes one
// transition (to Applied); the rest of the lifecycle belongs to the tracker UI.
package application

import (
	"time"
)

// Stage is an application's position in the hiring pipeline
type Stage string

const (
	StageSyncing      Stage = "Syncing"
	StageBeingApplied Stage = "Being Applied"
	StageApplied      Stage = "Applied"
	StagePhoneScreen  Stage = "Phone Screen"
	StageInterview    Stage = "Interview"
	StageOffer        Stage = "Offer"
	StageRejected     Stage = "Rejected"
	StageAccepted     Stage = "Accepted"
	StageWithdrawn    Stage = "Withdrawn"
)

// AwaitingResponse reports whether a follow-up reminder makes sense in this stage
func (s Stage) AwaitingResponse() bool {
	switch s {
	case StageApplied, StagePhoneScreen, StageInterview:
		return true
	}
	return false
}

// MaxFollowUps is the number of reminders sent per application
const MaxFollowUps = 3

// Default timings used when a user has no settings row
const (
	DefaultFollowUpIntervalDays  = 7
	DefaultAutoApplyDelaySeconds = 60
)

// Application is a job the user decided to apply to
type Application struct {
	ID                     string     `json:"id"`
	UserID                 string     `json:"user_id"`
	JobID                  string     `json:"job_id"`
	Company                string     `json:"company"`
	Position               string     `json:"position"`
	Stage                  Stage      `json:"stage"`
	AppliedAt              *time.Time `json:"applied_at,omitempty"`
	GeneratedResumeID      string     `json:"generated_resume_id,omitempty"`
	GeneratedCoverLetterID string     `json:"generated_cover_letter_id,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// HasDocuments reports whether generated documents are attached
func (a *Application) HasDocuments() bool {
	return a.GeneratedResumeID != "" || a.GeneratedCoverLetterID != ""
}

// Settings holds the per-user knobs the timers read
type Settings struct {
	UserID                string    `json:"user_id"`
	Email                 string    `json:"email"`
	AutoFollowUpEnabled   bool      `json:"auto_follow_up_enabled"`
	FollowUpIntervalDays  int       `json:"follow_up_interval_days"`
	AutoApplyDelaySeconds int       `json:"auto_apply_delay_seconds"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// FollowUpInterval returns the reminder spacing, falling back to the default
func (s *Settings) FollowUpInterval() time.Duration {
	days := DefaultFollowUpIntervalDays
	if s != nil && s.FollowUpIntervalDays > 0 {
		days = s.FollowUpIntervalDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// AutoApplyDelay returns the grace period before auto-apply fires
func (s *Settings) AutoApplyDelay() time.Duration {
	secs := DefaultAutoApplyDelaySeconds
	if s != nil && s.AutoApplyDelaySeconds > 0 {
		secs = s.AutoApplyDelaySeconds
	}
	return time.Duration(secs) * time.Second
}

// WantsFollowUpEmail reports whether reminder emails should be sent
func (s *Settings) WantsFollowUpEmail() bool {
	return s != nil && s.AutoFollowUpEnabled && s.Email != ""
}
