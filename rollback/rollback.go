// Package rollback undoes an application: its timers, its workflow run and
// the application itself go away together, and its generated documents are
// queued for deletion after a grace period.
package rollback

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/application"
	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/metrics"
	"github.com/teranos/jobpulse/notify"
	"github.com/teranos/jobpulse/pulse/timer"
	"github.com/teranos/jobpulse/workflow"
)

// DefaultGracePeriod delays document deletion so an accidental rollback can be undone by support
const DefaultGracePeriod = 24 * time.Hour

// Notifier announces a completed rollback
type Notifier interface {
	Notify(ctx context.Context, userID string, n notify.Notification) error
}

// Result describes what a rollback did
type Result struct {
	ApplicationID     string     `json:"application_id"`
	UserID            string     `json:"user_id"`
	TimersCancelled   int        `json:"timers_cancelled"`
	WorkflowCancelled bool       `json:"workflow_cancelled"`
	DeletionTimerID   string     `json:"deletion_timer_id,omitempty"`
	DocumentsDueAt    *time.Time `json:"documents_due_at,omitempty"`
}

// Coordinator performs rollbacks
type Coordinator struct {
	conn     *sql.DB
	apps     *application.Store
	timers   *timer.Store
	tracker  *workflow.Tracker
	notifier Notifier
	grace    time.Duration
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithGracePeriod sets the delay before orphaned documents are deleted
func WithGracePeriod(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.grace = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator. notifier may be nil.
func NewCoordinator(conn *sql.DB, apps *application.Store, timers *timer.Store, tracker *workflow.Tracker,
	notifier Notifier, log *zap.SugaredLogger, opts ...Option) *Coordinator {
	if log == nil {
		log = logger.Logger
	}
	c := &Coordinator{
		conn:     conn,
		apps:     apps,
		timers:   timers,
		tracker:  tracker,
		notifier: notifier,
		grace:    DefaultGracePeriod,
		now:      time.Now,
		logger:   logger.AddRollbackSymbol(log.Named("rollback")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rollback undoes applicationID in its own transaction and notifies the user
// after commit. A missing application is ErrNotFound.
func (c *Coordinator) Rollback(ctx context.Context, applicationID string) (*Result, error) {
	var res *Result
	err := db.WithTx(ctx, c.conn, func(tx *sql.Tx) error {
		r, err := c.RollbackInTx(ctx, tx, applicationID)
		res = r
		return err
	})
	if err != nil {
		outcome := "error"
		if errors.IsNotFoundError(err) {
			outcome = "not_found"
		}
		metrics.RollbacksTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}
	metrics.RollbacksTotal.WithLabelValues("ok").Inc()

	c.logger.Infow("Application rolled back",
		logger.FieldApplicationID, res.ApplicationID,
		logger.FieldUserID, res.UserID,
		"timers_cancelled", res.TimersCancelled,
		"workflow_cancelled", res.WorkflowCancelled,
		"deletion_timer_id", res.DeletionTimerID,
	)

	if c.notifier != nil {
		err := c.notifier.Notify(ctx, res.UserID, notify.Notification{
			Type:    notify.TypeApplicationRolledBack,
			Title:   "Application Rolled Back",
			Message: "The application was withdrawn and its pending actions were cancelled",
			Data: map[string]interface{}{
				"application_id": res.ApplicationID,
			},
		})
		if err != nil {
			c.logger.Warnw("Rollback notification not persisted",
				logger.FieldApplicationID, res.ApplicationID,
				logger.FieldError, err,
			)
		}
	}
	return res, nil
}

// RollbackInTx performs the rollback inside a transaction the caller owns.
// Nothing is published; the caller decides what happens after commit.
func (c *Coordinator) RollbackInTx(ctx context.Context, tx *sql.Tx, applicationID string) (*Result, error) {
	apps := c.apps.WithTx(tx)
	timers := c.timers.WithTx(tx)
	tracker := c.tracker.WithTx(tx)

	app, err := apps.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	res := &Result{ApplicationID: app.ID, UserID: app.UserID}

	if res.TimersCancelled, err = timers.CancelByTarget(ctx, app.ID); err != nil {
		return nil, errors.Wrapf(err, "failed to cancel timers of %s", app.ID)
	}
	if res.WorkflowCancelled, err = tracker.CancelActive(ctx, app.ID); err != nil {
		return nil, errors.Wrapf(err, "failed to cancel workflow of %s", app.ID)
	}

	if app.HasDocuments() {
		due := c.now().Add(c.grace)
		payload := timer.DocumentDeletionPayload{
			ResumeID:      app.GeneratedResumeID,
			CoverLetterID: app.GeneratedCoverLetterID,
			ApplicationID: app.ID,
		}
		id, err := timers.Schedule(ctx, timer.ScheduleRequest{
			UserID:   app.UserID,
			Kind:     timer.KindDocumentDeletion,
			TargetID: payload.Target(),
			DueAt:    due,
			Payload:  payload,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to schedule document deletion for %s", app.ID)
		}
		res.DeletionTimerID = id
		res.DocumentsDueAt = &due
	}

	if err := apps.Delete(ctx, app.ID); err != nil {
		return nil, err
	}
	return res, nil
}
