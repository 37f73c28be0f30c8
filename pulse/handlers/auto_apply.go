package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/internal/generation"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/notify"
	"github.com/teranos/jobpulse/pulse/timer"
	"github.com/teranos/jobpulse/workflow"
)

// AutoApply fires when the grace period after accepting an application ends.
// It starts document generation and moves the application to Applied.
type AutoApply struct {
	deps   Deps
	logger *zap.SugaredLogger
}

func NewAutoApply(deps Deps) *AutoApply {
	deps = deps.withDefaults()
	return &AutoApply{deps: deps, logger: logger.AddPulseSymbol(deps.Logger.Named("auto-apply"))}
}

func (h *AutoApply) Kind() timer.Kind { return timer.KindAutoApplyDelay }

func (h *AutoApply) Handle(ctx context.Context, t *timer.Timer) error {
	payload, ok := t.Payload.(timer.AutoApplyPayload)
	if !ok {
		return errors.Newf("auto-apply timer %s carries %T", t.ID, t.Payload)
	}
	log := h.logger.With(logger.FieldTimerID, t.ID, logger.FieldApplicationID, t.TargetID)

	app, err := h.deps.Applications.Get(ctx, t.TargetID)
	if errors.IsNotFoundError(err) {
		log.Infow("Application gone, skipping auto-apply")
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to load application %s", t.TargetID)
	}

	run, err := h.deps.Workflows.GetByApplication(ctx, app.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to load workflow for %s", app.ID)
	}
	if run == nil || run.Status.Terminal() {
		log.Infow("No active workflow, skipping auto-apply")
		return nil
	}
	if run.Status != workflow.StatusPending {
		// an earlier firing or a manual regenerate already started generation
		log.Infow("Workflow already started", logger.FieldStatus, run.Status)
		return nil
	}

	jobID := payload.JobID
	if jobID == "" {
		jobID = app.JobID
	}
	log = log.With(logger.FieldRunID, run.ID)

	_, trigErr := h.deps.Generator.Trigger(ctx, generation.Request{
		UserID:        app.UserID,
		JobID:         jobID,
		ApplicationID: app.ID,
		RunID:         run.ID,
	})
	if trigErr != nil {
		return h.generationFailed(ctx, log, app.UserID, app.ID, run.ID, trigErr)
	}

	if err := h.deps.Workflows.UpdateStatus(ctx, run.ID, workflow.StatusGeneratingResume, ""); err != nil {
		if errors.IsConflictError(err) {
			log.Infow("Workflow changed during trigger, leaving it", logger.FieldError, err)
			return nil
		}
		return errors.Wrapf(err, "failed to advance workflow %s", run.ID)
	}

	if err := h.deps.Applications.MarkApplied(ctx, app.ID, h.deps.Now()); err != nil {
		if errors.IsNotFoundError(err) {
			log.Infow("Application removed during auto-apply")
			return nil
		}
		return errors.Wrapf(err, "failed to mark %s applied", app.ID)
	}

	notifyUser(ctx, h.deps.Notifier, log, app.UserID, notify.Notification{
		Type:    notify.TypeDocumentsGenerating,
		Title:   "Generating Documents",
		Message: "Your resume and cover letter for " + app.Company + " are being generated",
		Data: map[string]interface{}{
			"application_id":  app.ID,
			"workflow_run_id": run.ID,
		},
	})
	log.Infow("Auto-apply started generation", logger.FieldJobID, jobID)
	return nil
}

// generationFailed ends the workflow. The timer itself completes: the
// failure is reported to the user rather than retried.
func (h *AutoApply) generationFailed(ctx context.Context, log *zap.SugaredLogger, userID, appID, runID string, cause error) error {
	log.Errorw("Generation trigger failed", logger.FieldError, cause)

	if err := h.deps.Workflows.UpdateStatus(ctx, runID, workflow.StatusFailed, cause.Error()); err != nil {
		if !errors.IsConflictError(err) {
			return errors.Wrapf(err, "failed to mark workflow %s failed", runID)
		}
		log.Infow("Workflow changed during trigger, leaving it", logger.FieldError, err)
		return nil
	}

	notifyUser(ctx, h.deps.Notifier, log, userID, notify.Notification{
		Type:    notify.TypeGenerationFailed,
		Title:   "Document Generation Failed",
		Message: "We could not start generating your documents. You can retry from the application page.",
		Data: map[string]interface{}{
			"application_id":  appID,
			"workflow_run_id": runID,
			"error":           cause.Error(),
		},
	})
	return nil
}
