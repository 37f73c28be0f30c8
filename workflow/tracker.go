package workflow

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/metrics"
)

// Tracker persists workflow runs and enforces their state machine
type Tracker struct {
	q       db.Querier
	dialect db.Dialect
	now     func() time.Time
	logger  *zap.SugaredLogger
}

// NewTracker creates a tracker on conn
func NewTracker(conn *sql.DB, dialect db.Dialect, log *zap.SugaredLogger) *Tracker {
	if log == nil {
		log = logger.Logger
	}
	return &Tracker{
		q:       conn,
		dialect: dialect,
		now:     time.Now,
		logger:  logger.AddWorkflowSymbol(log.Named("workflow")),
	}
}

// WithTx returns a copy of the tracker that runs its statements in tx
func (t *Tracker) WithTx(tx *sql.Tx) *Tracker {
	cp := *t
	cp.q = tx
	return &cp
}

const runColumns = `id, application_id, user_id, status, last_error, created_at, updated_at, finished_at`

// Create starts a pending run for an application.
// An existing active run is a conflict; the partial unique index on
// workflow_runs makes this hold under concurrent creators too.
func (t *Tracker) Create(ctx context.Context, applicationID, userID string) (*Run, error) {
	existing, err := t.GetByApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if existing.Active() {
		return nil, errors.NewConflictError("application %s already has active run %s (%s)",
			applicationID, existing.ID, existing.Status)
	}

	now := t.now().UTC()
	run := &Run{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		UserID:        userID,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = t.q.ExecContext(ctx, t.dialect.Rebind(`
		INSERT INTO workflow_runs (id, application_id, user_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), run.ID, run.ApplicationID, run.UserID, string(run.Status), db.FormatTime(now), db.FormatTime(now))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errors.NewConflictError("application %s already has an active run", applicationID)
		}
		return nil, errors.Wrapf(err, "failed to create workflow run for application %s", applicationID)
	}

	metrics.WorkflowTransitions.WithLabelValues(string(StatusPending)).Inc()
	t.logger.Infow("Workflow run created",
		logger.FieldRunID, run.ID,
		logger.FieldApplicationID, applicationID,
		logger.FieldUserID, userID,
	)
	return run, nil
}

// Get retrieves a run by ID. A missing run is ErrNotFound.
func (t *Tracker) Get(ctx context.Context, runID string) (*Run, error) {
	run, err := scanRun(t.q.QueryRowContext(ctx, t.dialect.Rebind(
		`SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`), runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("workflow run %s", runID)
		}
		return nil, errors.Wrapf(err, "failed to get workflow run %s", runID)
	}
	return run, nil
}

// GetByApplication returns the application's latest run, or nil, nil when it has none
func (t *Tracker) GetByApplication(ctx context.Context, applicationID string) (*Run, error) {
	run, err := scanRun(t.q.QueryRowContext(ctx, t.dialect.Rebind(`
		SELECT `+runColumns+` FROM workflow_runs
		WHERE application_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`), applicationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to get workflow run for application %s", applicationID)
	}
	return run, nil
}

// ListByApplication returns every run of an application, oldest first
func (t *Tracker) ListByApplication(ctx context.Context, applicationID string) ([]*Run, error) {
	rows, err := t.q.QueryContext(ctx, t.dialect.Rebind(`
		SELECT `+runColumns+` FROM workflow_runs
		WHERE application_id = ?
		ORDER BY created_at ASC, id ASC
	`), applicationID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list workflow runs for application %s", applicationID)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan workflow run")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateStatus moves a run to status. errMsg is recorded when moving to failed.
// A terminal run, or a transition outside the table, is ErrConflict; callers
// racing a rollback treat that as a no-op.
func (t *Tracker) UpdateStatus(ctx context.Context, runID string, status Status, errMsg string) error {
	if status == StatusCancelled {
		return errors.NewInvalidRequestError("workflow runs are cancelled through Cancel, not UpdateStatus")
	}
	if !status.Valid() {
		return errors.NewInvalidRequestError("unknown workflow status %q", status)
	}

	run, err := t.Get(ctx, runID)
	if err != nil {
		return err
	}
	if !CanTransition(run.Status, status) {
		return errors.NewConflictError("workflow run %s cannot move from %s to %s", runID, run.Status, status)
	}
	return t.transition(ctx, run, status, errMsg)
}

// transition writes from->to guarded by the current status, so a concurrent
// writer that got there first turns this into a conflict instead of a lost update.
func (t *Tracker) transition(ctx context.Context, run *Run, to Status, errMsg string) error {
	now := t.now().UTC()
	var finishedAt sql.NullString
	if to.Terminal() {
		finishedAt = db.NullTime(&now)
	}
	var lastError sql.NullString
	if errMsg != "" {
		lastError = sql.NullString{String: errMsg, Valid: true}
	}

	res, err := t.q.ExecContext(ctx, t.dialect.Rebind(`
		UPDATE workflow_runs
		SET status = ?, last_error = COALESCE(?, last_error), updated_at = ?, finished_at = COALESCE(?, finished_at)
		WHERE id = ? AND status = ?
	`), string(to), lastError, db.FormatTime(now), finishedAt, run.ID, string(run.Status))
	if err != nil {
		return errors.Wrapf(err, "failed to update workflow run %s", run.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.NewConflictError("workflow run %s changed concurrently (expected %s)", run.ID, run.Status)
	}

	metrics.WorkflowTransitions.WithLabelValues(string(to)).Inc()
	t.logger.Infow("Workflow transition",
		logger.FieldRunID, run.ID,
		logger.FieldApplicationID, run.ApplicationID,
		"from", run.Status,
		"to", to,
	)
	return nil
}

// Cancel moves a run to cancelled. A terminal run is left unchanged and nil is returned.
func (t *Tracker) Cancel(ctx context.Context, runID string) error {
	run, err := t.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}
	err = t.transition(ctx, run, StatusCancelled, "")
	if errors.IsConflictError(err) {
		// Finished between read and write
		return nil
	}
	return err
}

// CancelActive cancels the application's active run, if any, and reports whether one was cancelled
func (t *Tracker) CancelActive(ctx context.Context, applicationID string) (bool, error) {
	run, err := t.GetByApplication(ctx, applicationID)
	if err != nil {
		return false, err
	}
	if !run.Active() {
		return false, nil
	}
	if err := t.transition(ctx, run, StatusCancelled, ""); err != nil {
		if errors.IsConflictError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var status, createdAt, updatedAt string
	var lastError, finishedAt sql.NullString

	if err := row.Scan(&run.ID, &run.ApplicationID, &run.UserID, &status, &lastError,
		&createdAt, &updatedAt, &finishedAt); err != nil {
		return nil, err
	}

	run.Status = Status(status)
	run.LastError = lastError.String

	var err error
	if run.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for run %s", run.ID)
	}
	if run.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for run %s", run.ID)
	}
	if run.FinishedAt, err = db.ParseNullTime(finishedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse finished_at for run %s", run.ID)
	}
	return &run, nil
}
