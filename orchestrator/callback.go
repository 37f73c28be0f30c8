package orchestrator

import (
	"context"
	"database/sql"

	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/document"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/notify"
	"github.com/teranos/jobpulse/pulse/timer"
	"github.com/teranos/jobpulse/workflow"
)

// GeneratedFile is a document the pipeline stored
type GeneratedFile struct {
	ID         string `json:"id,omitempty"`
	Filename   string `json:"filename"`
	StorageKey string `json:"storage_key"`
}

// GenerationUpdate is a progress report from the generation pipeline
type GenerationUpdate struct {
	ApplicationID string          `json:"application_id"`
	RunID         string          `json:"workflow_run_id,omitempty"`
	Status        workflow.Status `json:"status"`
	Error         string          `json:"error,omitempty"`
	Resume        *GeneratedFile  `json:"resume,omitempty"`
	CoverLetter   *GeneratedFile  `json:"cover_letter,omitempty"`
}

// errStale marks a callback that no longer applies; the transaction rolls back and nil is returned
var errStale = errors.New("stale generation update")

// HandleGenerationCallback applies a pipeline progress report to the workflow.
// On completion the generated documents are recorded and attached, and the
// documents they replace are queued for deletion. Reports for runs that have
// moved on (rolled back, already finished) are ignored.
func (o *Orchestrator) HandleGenerationCallback(ctx context.Context, u GenerationUpdate) error {
	if u.ApplicationID == "" {
		return errors.NewInvalidRequestError("generation update requires application_id")
	}
	switch u.Status {
	case workflow.StatusGeneratingResume, workflow.StatusGeneratingCoverLetter, workflow.StatusCompleted, workflow.StatusFailed:
	default:
		return errors.NewInvalidRequestError("generation update has unsupported status %q", u.Status)
	}
	if u.Status == workflow.StatusCompleted && u.Resume == nil && u.CoverLetter == nil {
		return errors.NewInvalidRequestError("completed generation update carries no documents")
	}
	log := o.logger.With(logger.FieldApplicationID, u.ApplicationID, logger.FieldStatus, u.Status)

	var run *workflow.Run
	var userID string
	err := db.WithTx(ctx, o.conn, func(tx *sql.Tx) error {
		var err error
		run, err = o.applyUpdateTx(ctx, tx, u)
		if run != nil {
			userID = run.UserID
		}
		return err
	})
	if errors.Is(err, errStale) {
		log.Infow("Ignoring stale generation update", logger.FieldError, err)
		return nil
	}
	if err != nil {
		return err
	}

	switch u.Status {
	case workflow.StatusCompleted:
		o.notify(ctx, userID, notify.Notification{
			Type:    notify.TypeDocumentsReady,
			Title:   "Documents Ready",
			Message: "Your resume and cover letter are ready",
			Data:    map[string]interface{}{"application_id": u.ApplicationID, "workflow_run_id": run.ID},
		})
	case workflow.StatusFailed:
		o.notify(ctx, userID, notify.Notification{
			Type:    notify.TypeGenerationFailed,
			Title:   "Document Generation Failed",
			Message: "We could not generate your documents. You can retry from the application page.",
			Data:    map[string]interface{}{"application_id": u.ApplicationID, "workflow_run_id": run.ID, "error": u.Error},
		})
	}
	log.Infow("Generation update applied", logger.FieldRunID, run.ID)
	return nil
}

func (o *Orchestrator) applyUpdateTx(ctx context.Context, tx *sql.Tx, u GenerationUpdate) (*workflow.Run, error) {
	tracker := o.tracker.WithTx(tx)

	var run *workflow.Run
	var err error
	if u.RunID != "" {
		run, err = tracker.Get(ctx, u.RunID)
	} else {
		run, err = tracker.GetByApplication(ctx, u.ApplicationID)
		if err == nil && run == nil {
			err = errors.NewNotFoundError("workflow run for application %s", u.ApplicationID)
		}
	}
	if err != nil {
		return nil, err
	}
	if run.ApplicationID != u.ApplicationID {
		return nil, errors.NewInvalidRequestError("workflow run %s belongs to another application", run.ID)
	}

	if err := tracker.UpdateStatus(ctx, run.ID, u.Status, u.Error); err != nil {
		if errors.IsConflictError(err) {
			return run, errors.WithSecondaryError(errStale, err)
		}
		return run, err
	}

	if u.Status == workflow.StatusCompleted {
		if err := o.attachTx(ctx, tx, run, u); err != nil {
			return run, err
		}
	}
	return run, nil
}

func (o *Orchestrator) attachTx(ctx context.Context, tx *sql.Tx, run *workflow.Run, u GenerationUpdate) error {
	apps := o.apps.WithTx(tx)
	docs := o.docs.WithTx(tx)

	app, err := apps.Get(ctx, run.ApplicationID)
	if errors.IsNotFoundError(err) {
		return errors.WithSecondaryError(errStale, err)
	}
	if err != nil {
		return err
	}

	record := func(f *GeneratedFile, kind document.Kind) (string, error) {
		if f == nil {
			return "", nil
		}
		d := &document.Document{
			ID:            f.ID,
			UserID:        app.UserID,
			ApplicationID: app.ID,
			Kind:          kind,
			Filename:      f.Filename,
			StorageKey:    f.StorageKey,
		}
		if err := docs.Create(ctx, d); err != nil {
			return "", err
		}
		return d.ID, nil
	}
	resumeID, err := record(u.Resume, document.KindResume)
	if err != nil {
		return err
	}
	coverID, err := record(u.CoverLetter, document.KindCoverLetter)
	if err != nil {
		return err
	}
	if err := apps.AttachDocuments(ctx, app.ID, resumeID, coverID); err != nil {
		return err
	}

	// documents replaced by this run become orphans; the timer targets the
	// document so it survives a later rollback of the application
	var oldResume, oldCover string
	if resumeID != "" && app.GeneratedResumeID != "" && app.GeneratedResumeID != resumeID {
		oldResume = app.GeneratedResumeID
	}
	if coverID != "" && app.GeneratedCoverLetterID != "" && app.GeneratedCoverLetterID != coverID {
		oldCover = app.GeneratedCoverLetterID
	}
	if oldResume == "" && oldCover == "" {
		return nil
	}
	payload := timer.DocumentDeletionPayload{ResumeID: oldResume, CoverLetterID: oldCover, ApplicationID: app.ID}
	_, err = o.timers.WithTx(tx).Schedule(ctx, timer.ScheduleRequest{
		UserID:   app.UserID,
		Kind:     timer.KindDocumentDeletion,
		TargetID: payload.Target(),
		DueAt:    o.now().Add(o.grace),
		Payload:  payload,
	})
	return err
}
