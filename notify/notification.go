// Package notify delivers per-user notifications: persisted for the inbox and
// fanned out live to every open subscription of that user.
package notify

import (
	"time"
)

// Type identifies what a notification is about
type Type string

const (
	TypeFollowUpReminder      Type = "follow_up_reminder"
	TypeDocumentsGenerating   Type = "documents_generating"
	TypeDocumentsReady        Type = "documents_ready"
	TypeGenerationFailed      Type = "generation_failed"
	TypeApplicationRolledBack Type = "application_rolled_back"
)

// Notification is both the inbox row and the live event payload
type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Type      Type                   `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Read      bool                   `json:"read"`
	CreatedAt time.Time              `json:"created_at"`
}
