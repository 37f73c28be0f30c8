// Package handlers implements the timer handlers the dispatcher runs.
//
// Every handler re-reads the state it acts on before writing, so a timer that
// fires twice (at-least-once delivery after a crash) or races a rollback
// converges on the same result. Missing entities and state conflicts are
// no-ops; only storage failures are returned to the dispatcher.
package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/application"
	"github.com/teranos/jobpulse/document"
	"github.com/teranos/jobpulse/internal/email"
	"github.com/teranos/jobpulse/internal/generation"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/notify"
	"github.com/teranos/jobpulse/pulse/timer"
	"github.com/teranos/jobpulse/workflow"
)

// Applications is the application stage and settings accessor
type Applications interface {
	Get(ctx context.Context, id string) (*application.Application, error)
	MarkApplied(ctx context.Context, id string, at time.Time) error
	GetSettings(ctx context.Context, userID string) (*application.Settings, error)
	IncrementFollowUp(ctx context.Context, applicationID string, at time.Time) (int, bool, error)
	CountReferences(ctx context.Context, documentID, exceptID string) (int, error)
}

// Workflows is the slice of the workflow tracker handlers drive
type Workflows interface {
	GetByApplication(ctx context.Context, applicationID string) (*workflow.Run, error)
	UpdateStatus(ctx context.Context, runID string, status workflow.Status, errMsg string) error
}

// Generator triggers document generation
type Generator interface {
	Trigger(ctx context.Context, req generation.Request) (*generation.Accepted, error)
}

// Mailer sends email
type Mailer interface {
	Send(ctx context.Context, msg email.Message) error
}

// Documents is the generated-document record store
type Documents interface {
	Get(ctx context.Context, id string) (*document.Document, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Blobs deletes stored files; a missing object is not an error
type Blobs interface {
	Delete(ctx context.Context, key string) error
}

// Notifier persists and publishes a notification
type Notifier interface {
	Notify(ctx context.Context, userID string, n notify.Notification) error
}

// Scheduler creates follow-on timers
type Scheduler interface {
	Schedule(ctx context.Context, req timer.ScheduleRequest) (string, error)
}

// Deps are the collaborators shared by the handlers.
// Mailer may be nil when outbound email is not configured.
type Deps struct {
	Applications Applications
	Workflows    Workflows
	Generator    Generator
	Mailer       Mailer
	Documents    Documents
	Blobs        Blobs
	Notifier     Notifier
	Scheduler    Scheduler
	Logger       *zap.SugaredLogger
	Now          func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logger.Logger
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Register adds every handler to reg, including the no-op handlers for
// deprecated kinds still present in old databases.
func Register(reg *timer.Registry, deps Deps) {
	deps = deps.withDefaults()
	reg.Register(NewAutoApply(deps))
	reg.Register(NewFollowUp(deps))
	reg.Register(NewDocumentDeletion(deps))
	reg.Register(NewDeprecated(timer.KindCVVerificationTimeout, deps.Logger))
	reg.Register(NewDeprecated(timer.KindMessageVerificationTimeout, deps.Logger))
}

// notifyUser sends a notification and logs a failure; a lost inbox row never fails a timer
func notifyUser(ctx context.Context, n Notifier, log *zap.SugaredLogger, userID string, note notify.Notification) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, userID, note); err != nil {
		log.Warnw("Notification not persisted",
			logger.FieldUserID, userID,
			"type", note.Type,
			logger.FieldError, err,
		)
	}
}
