package orchestrator

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/jobpulse/application"
	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/internal/generation"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/notify"
	"github.com/teranos/jobpulse/workflow"
)

// AcceptRequest is a user's decision to apply to a job.
// ApplicationID is optional; a client-chosen ID makes retries idempotent.
type AcceptRequest struct {
	ApplicationID string `json:"application_id,omitempty"`
	UserID        string `json:"user_id"`
	JobID         string `json:"job_id"`
	Company       string `json:"company"`
	Position      string `json:"position"`
}

// AcceptResult is the application and its auto-apply timer
type AcceptResult struct {
	Application *application.Application `json:"application"`
	TimerID     string                   `json:"timer_id"`
	DueAt       time.Time                `json:"due_at"`
}

// AcceptApplication creates the application in Being Applied and schedules
// auto-apply after the user's configured delay. Accepting the same
// application ID again returns the existing timer.
func (o *Orchestrator) AcceptApplication(ctx context.Context, req AcceptRequest) (*AcceptResult, error) {
	if req.UserID == "" || req.JobID == "" {
		return nil, errors.NewInvalidRequestError("accept requires user_id and job_id")
	}
	settings, err := o.apps.GetSettings(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	delay := settings.AutoApplyDelay()

	res := &AcceptResult{}
	err = db.WithTx(ctx, o.conn, func(tx *sql.Tx) error {
		app, err := o.acceptTx(ctx, tx, req)
		if err != nil {
			return err
		}
		id, err := o.scheduleAutoApplyTx(ctx, tx, app.UserID, app.ID, app.JobID, delay)
		if err != nil {
			return err
		}
		t, err := o.timers.WithTx(tx).Get(ctx, id)
		if err != nil {
			return err
		}
		res.Application, res.TimerID, res.DueAt = app, id, t.DueAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Infow("Application accepted",
		logger.FieldApplicationID, res.Application.ID,
		logger.FieldUserID, req.UserID,
		"timer_id", res.TimerID,
		logger.FieldDueAt, res.DueAt,
	)
	return res, nil
}

func (o *Orchestrator) acceptTx(ctx context.Context, tx *sql.Tx, req AcceptRequest) (*application.Application, error) {
	apps := o.apps.WithTx(tx)

	if req.ApplicationID != "" {
		existing, err := apps.Get(ctx, req.ApplicationID)
		switch {
		case err == nil:
			if existing.UserID != req.UserID {
				return nil, errors.NewNotFoundError("application %s", req.ApplicationID)
			}
			if existing.Stage != application.StageBeingApplied {
				return nil, errors.NewConflictError("application %s is already %s", existing.ID, existing.Stage)
			}
			return existing, nil
		case !errors.IsNotFoundError(err):
			return nil, err
		}
	}

	app := &application.Application{
		ID:       req.ApplicationID,
		UserID:   req.UserID,
		JobID:    req.JobID,
		Company:  req.Company,
		Position: req.Position,
		Stage:    application.StageBeingApplied,
	}
	if err := apps.Create(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// Regenerate starts document generation for an application right away.
// A new workflow run is opened; a run that is still pending or generating is
// a conflict. Trigger failures fail the run and are returned to the caller.
func (o *Orchestrator) Regenerate(ctx context.Context, userID, applicationID string) (*workflow.Run, error) {
	app, err := o.apps.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.UserID != userID {
		return nil, errors.NewNotFoundError("application %s", applicationID)
	}

	run, err := o.tracker.Create(ctx, app.ID, app.UserID)
	if err != nil {
		if errors.IsConflictError(err) {
			return nil, errors.WithHint(err, "generation is already scheduled or running for this application")
		}
		return nil, err
	}
	log := o.logger.With(logger.FieldApplicationID, app.ID, logger.FieldRunID, run.ID)

	_, trigErr := o.generator.Trigger(ctx, generation.Request{
		UserID:        app.UserID,
		JobID:         app.JobID,
		ApplicationID: app.ID,
		RunID:         run.ID,
	})
	if trigErr != nil {
		if err := o.tracker.UpdateStatus(ctx, run.ID, workflow.StatusFailed, trigErr.Error()); err != nil {
			log.Warnw("Failed to mark workflow failed", logger.FieldError, err)
		}
		o.notify(ctx, app.UserID, notify.Notification{
			Type:    notify.TypeGenerationFailed,
			Title:   "Document Generation Failed",
			Message: "Regenerating documents for " + app.Company + " failed",
			Data:    map[string]interface{}{"application_id": app.ID, "workflow_run_id": run.ID, "error": trigErr.Error()},
		})
		return nil, trigErr
	}

	if err := o.tracker.UpdateStatus(ctx, run.ID, workflow.StatusGeneratingResume, ""); err != nil {
		return nil, err
	}
	o.notify(ctx, app.UserID, notify.Notification{
		Type:    notify.TypeDocumentsGenerating,
		Title:   "Generating Documents",
		Message: "Your resume and cover letter for " + app.Company + " are being regenerated",
		Data:    map[string]interface{}{"application_id": app.ID, "workflow_run_id": run.ID},
	})
	log.Infow("Regeneration started")
	return o.tracker.Get(ctx, run.ID)
}

func (o *Orchestrator) notify(ctx context.Context, userID string, n notify.Notification) {
	if err := o.notifier.Notify(ctx, userID, n); err != nil {
		o.logger.Warnw("Notification not persisted", logger.FieldUserID, userID, "type", n.Type, logger.FieldError, err)
	}
}
