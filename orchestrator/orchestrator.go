// Package orchestrator wires the timer store, dispatcher, handlers, workflow
// tracker, notification fan-out and rollback coordinator into the surface the
// HTTP server and CLI use.
package orchestrator

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/application"
	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/document"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/notify"
	"github.com/teranos/jobpulse/pulse/handlers"
	"github.com/teranos/jobpulse/pulse/timer"
	"github.com/teranos/jobpulse/rollback"
	"github.com/teranos/jobpulse/workflow"
)

// Services are the external collaborators. Mailer, Blobs and Relay may be nil.
// Broker is optional; pass one when a relay must feed the same fan-out.
type Services struct {
	Generator handlers.Generator
	Mailer    handlers.Mailer
	Blobs     handlers.Blobs
	Relay     notify.Relay
	Broker    *notify.Broker
}

// Config tunes the orchestrator
type Config struct {
	Dispatcher    timer.Config
	DocumentGrace time.Duration        // delay before orphaned documents are deleted (default: 24h)
	Defaults      application.Defaults // timings for users without settings
	Now           func() time.Time     // clock, for tests
}

// Orchestrator is the timer-driven workflow core
type Orchestrator struct {
	conn    *sql.DB
	dialect db.Dialect

	apps     *application.Store
	docs     *document.Store
	timers   *timer.Store
	tracker  *workflow.Tracker
	notes    *notify.Store
	broker   *notify.Broker
	notifier *notify.Notifier

	registry   *timer.Registry
	dispatcher *timer.Dispatcher
	rollback   *rollback.Coordinator
	generator  handlers.Generator

	grace  time.Duration
	now    func() time.Time
	logger *zap.SugaredLogger
}

// New builds an orchestrator on an open, migrated database
func New(conn *sql.DB, dialect db.Dialect, svc Services, cfg Config, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = logger.Logger
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DocumentGrace <= 0 {
		cfg.DocumentGrace = rollback.DefaultGracePeriod
	}
	if svc.Broker == nil {
		svc.Broker = notify.NewBroker(log)
	}

	o := &Orchestrator{
		conn:      conn,
		dialect:   dialect,
		apps:      application.NewStore(conn, dialect).WithDefaults(cfg.Defaults),
		docs:      document.NewStore(conn, dialect),
		timers:    timer.NewStore(conn, dialect),
		tracker:   workflow.NewTracker(conn, dialect, log),
		notes:     notify.NewStore(conn, dialect),
		broker:    svc.Broker,
		registry:  timer.NewRegistry(),
		generator: svc.Generator,
		grace:     cfg.DocumentGrace,
		now:       cfg.Now,
		logger:    log.Named("orchestrator"),
	}
	o.notifier = notify.NewNotifier(o.notes, o.broker, svc.Relay, log)

	handlers.Register(o.registry, handlers.Deps{
		Applications: o.apps,
		Workflows:    o.tracker,
		Generator:    svc.Generator,
		Mailer:       svc.Mailer,
		Documents:    o.docs,
		Blobs:        svc.Blobs,
		Notifier:     o.notifier,
		Scheduler:    o.timers,
		Logger:       log,
		Now:          cfg.Now,
	})
	o.dispatcher = timer.NewDispatcher(o.timers, o.registry, cfg.Dispatcher, log)
	o.rollback = rollback.NewCoordinator(conn, o.apps, o.timers, o.tracker, o.notifier, log,
		rollback.WithGracePeriod(cfg.DocumentGrace),
		rollback.WithClock(cfg.Now),
	)
	return o
}

// Start begins polling for due timers
func (o *Orchestrator) Start() { o.dispatcher.Start() }

// Stop halts polling and waits for the running tick to finish
func (o *Orchestrator) Stop() { o.dispatcher.Stop() }

// Close stops the dispatcher and drops every notification subscription
func (o *Orchestrator) Close() {
	o.dispatcher.Stop()
	o.broker.Close()
}

// SetPollInterval changes the dispatcher interval without a restart
func (o *Orchestrator) SetPollInterval(d time.Duration) { o.dispatcher.SetInterval(d) }

// DispatcherStats reports the dispatcher state
func (o *Orchestrator) DispatcherStats() timer.Stats { return o.dispatcher.Stats() }

// Broker exposes the fan-out, for the redis relay
func (o *Orchestrator) Broker() *notify.Broker { return o.broker }

// Timers exposes the timer store, for CLI inspection
func (o *Orchestrator) Timers() *timer.Store { return o.timers }

// Ping checks the database
func (o *Orchestrator) Ping(ctx context.Context) error { return o.conn.PingContext(ctx) }

// GetApplication loads an application
func (o *Orchestrator) GetApplication(ctx context.Context, id string) (*application.Application, error) {
	return o.apps.Get(ctx, id)
}

// ScheduleAutoApply opens a workflow run for the application and schedules
// the auto-apply timer after delay. An existing active run is kept, and a
// pending auto-apply timer for the application is returned instead of a new one.
func (o *Orchestrator) ScheduleAutoApply(ctx context.Context, userID, applicationID, jobID string, delay time.Duration) (string, error) {
	var id string
	err := db.WithTx(ctx, o.conn, func(tx *sql.Tx) error {
		var err error
		id, err = o.scheduleAutoApplyTx(ctx, tx, userID, applicationID, jobID, delay)
		return err
	})
	return id, err
}

func (o *Orchestrator) scheduleAutoApplyTx(ctx context.Context, tx *sql.Tx, userID, applicationID, jobID string, delay time.Duration) (string, error) {
	if _, err := o.tracker.WithTx(tx).Create(ctx, applicationID, userID); err != nil {
		if !errors.IsConflictError(err) {
			return "", err
		}
		o.logger.Debugw("Workflow already active", logger.FieldApplicationID, applicationID)
	}

	return o.timers.WithTx(tx).Schedule(ctx, timer.ScheduleRequest{
		UserID:   userID,
		Kind:     timer.KindAutoApplyDelay,
		TargetID: applicationID,
		DueAt:    o.now().Add(delay),
		Payload:  timer.AutoApplyPayload{JobID: jobID},
	})
}

// ScheduleFollowUp schedules the next follow-up reminder for an application
func (o *Orchestrator) ScheduleFollowUp(ctx context.Context, userID, applicationID string, dueAt time.Time) (string, error) {
	sent, err := o.apps.FollowUpCount(ctx, applicationID)
	if err != nil {
		return "", err
	}
	if sent >= application.MaxFollowUps {
		return "", errors.NewConflictError("application %s already had %d follow-ups", applicationID, sent)
	}
	return o.timers.Schedule(ctx, timer.ScheduleRequest{
		UserID:   userID,
		Kind:     timer.KindFollowUpReminder,
		TargetID: applicationID,
		DueAt:    dueAt,
		Payload:  timer.FollowUpPayload{Round: sent + 1},
	})
}

// ScheduleDocDeletion schedules deletion of generated documents. coverLetterID may be empty.
// The timer targets the document, so cancelling the application's timers leaves it alone.
func (o *Orchestrator) ScheduleDocDeletion(ctx context.Context, userID, applicationID, resumeID, coverLetterID string, dueAt time.Time) (string, error) {
	payload := timer.DocumentDeletionPayload{ResumeID: resumeID, CoverLetterID: coverLetterID, ApplicationID: applicationID}
	return o.timers.Schedule(ctx, timer.ScheduleRequest{
		UserID:   userID,
		Kind:     timer.KindDocumentDeletion,
		TargetID: payload.Target(),
		DueAt:    dueAt,
		Payload:  payload,
	})
}

// CancelTimersByTarget cancels every live timer for target
func (o *Orchestrator) CancelTimersByTarget(ctx context.Context, target string) (int, error) {
	return o.timers.CancelByTarget(ctx, target)
}

// ProcessPendingTimers runs one dispatcher tick now
func (o *Orchestrator) ProcessPendingTimers(ctx context.Context) (timer.TickResult, error) {
	return o.dispatcher.Tick(ctx, o.now())
}

// Rollback undoes an application
func (o *Orchestrator) Rollback(ctx context.Context, applicationID string) (*rollback.Result, error) {
	return o.rollback.Rollback(ctx, applicationID)
}

// SubscribeToNotifications registers cb for userID's live notifications.
// The returned function unsubscribes and is safe to call more than once.
func (o *Orchestrator) SubscribeToNotifications(userID string, cb notify.Callback) func() {
	return o.broker.Subscribe(userID, cb)
}

// GetActiveConnectionCount returns the number of live subscriptions
func (o *Orchestrator) GetActiveConnectionCount() int {
	return o.broker.ActiveCount()
}

// ListNotifications returns a user's inbox, newest first
func (o *Orchestrator) ListNotifications(ctx context.Context, userID string, limit int, unreadOnly bool) ([]*notify.Notification, error) {
	return o.notes.ListByUser(ctx, userID, limit, unreadOnly)
}

// MarkNotificationRead marks one of the user's notifications read
func (o *Orchestrator) MarkNotificationRead(ctx context.Context, userID, id string) error {
	return o.notes.MarkRead(ctx, userID, id)
}

// CountUnread returns the number of unread notifications
func (o *Orchestrator) CountUnread(ctx context.Context, userID string) (int, error) {
	return o.notes.CountUnread(ctx, userID)
}
