package application

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
)

// Store handles persistence of applications, user settings and follow-up tracking
type Store struct {
	q        db.Querier
	dialect  db.Dialect
	now      func() time.Time
	defaults Defaults
}

// Defaults are the timings applied to users without a settings row.
// The zero value keeps the built-in defaults and reports such users as having no settings.
type Defaults struct {
	AutoApplyDelaySeconds int
	FollowUpIntervalDays  int
}

// NewStore creates a new application store
func NewStore(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{q: conn, dialect: dialect, now: time.Now}
}

// WithDefaults returns a copy of the store that reports d for users without settings
func (s *Store) WithDefaults(d Defaults) *Store {
	cp := *s
	cp.defaults = d
	return &cp
}

// WithTx returns a copy of the store that runs its statements in tx
func (s *Store) WithTx(tx *sql.Tx) *Store {
	cp := *s
	cp.q = tx
	return &cp
}

const applicationColumns = `id, user_id, job_id, company, position, stage, applied_at,
	generated_resume_id, generated_cover_letter_id, created_at, updated_at`

// Create inserts an application. An empty ID is generated, an empty stage defaults to Syncing.
func (s *Store) Create(ctx context.Context, app *Application) error {
	if app.UserID == "" || app.JobID == "" {
		return errors.NewInvalidRequestError("application requires user_id and job_id")
	}
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.Stage == "" {
		app.Stage = StageSyncing
	}
	now := s.now().UTC()
	app.CreatedAt, app.UpdatedAt = now, now

	query := `
		INSERT INTO applications (` + applicationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.q.ExecContext(ctx, s.dialect.Rebind(query),
		app.ID, app.UserID, app.JobID, app.Company, app.Position, string(app.Stage),
		db.NullTime(app.AppliedAt),
		nullString(app.GeneratedResumeID), nullString(app.GeneratedCoverLetterID),
		db.FormatTime(now), db.FormatTime(now),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.NewConflictError("application %s already exists", app.ID)
		}
		return errors.Wrapf(err, "failed to create application %s", app.ID)
	}
	return nil
}

// Get retrieves an application by ID. A missing row is ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = ?`

	app, err := scanApplication(s.q.QueryRowContext(ctx, s.dialect.Rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("application %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get application %s", id)
	}
	return app, nil
}

// ListByUser returns a user's applications, newest first
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE user_id = ? ORDER BY created_at DESC`

	rows, err := s.q.QueryContext(ctx, s.dialect.Rebind(query), userID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list applications for %s", userID)
	}
	defer rows.Close()

	var apps []*Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan application")
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// SetStage moves an application to stage. appliedAt is written only when non-nil.
func (s *Store) SetStage(ctx context.Context, id string, stage Stage, appliedAt *time.Time) error {
	now := db.FormatTime(s.now())
	var (
		res sql.Result
		err error
	)
	if appliedAt != nil {
		res, err = s.q.ExecContext(ctx, s.dialect.Rebind(`
			UPDATE applications SET stage = ?, applied_at = ?, updated_at = ? WHERE id = ?
		`), string(stage), db.FormatTime(*appliedAt), now, id)
	} else {
		res, err = s.q.ExecContext(ctx, s.dialect.Rebind(`
			UPDATE applications SET stage = ?, updated_at = ? WHERE id = ?
		`), string(stage), now, id)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to set stage of application %s", id)
	}
	return requireRow(res, "application %s", id)
}

// MarkApplied moves an application to Applied with applied_at = at
func (s *Store) MarkApplied(ctx context.Context, id string, at time.Time) error {
	return s.SetStage(ctx, id, StageApplied, &at)
}

// AttachDocuments records the generated resume and cover letter on the application.
// An empty ID leaves the corresponding column unchanged.
func (s *Store) AttachDocuments(ctx context.Context, id, resumeID, coverLetterID string) error {
	res, err := s.q.ExecContext(ctx, s.dialect.Rebind(`
		UPDATE applications
		SET generated_resume_id = COALESCE(?, generated_resume_id),
		    generated_cover_letter_id = COALESCE(?, generated_cover_letter_id),
		    updated_at = ?
		WHERE id = ?
	`), nullString(resumeID), nullString(coverLetterID), db.FormatTime(s.now()), id)
	if err != nil {
		return errors.Wrapf(err, "failed to attach documents to application %s", id)
	}
	return requireRow(res, "application %s", id)
}

// CountReferences returns how many applications other than exceptID reference documentID
// as their resume or cover letter.
func (s *Store) CountReferences(ctx context.Context, documentID, exceptID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT COUNT(*) FROM applications
		WHERE (generated_resume_id = ? OR generated_cover_letter_id = ?) AND id <> ?
	`), documentID, documentID, exceptID).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count references to document %s", documentID)
	}
	return n, nil
}

// Delete removes an application and its follow-up tracking. Missing rows are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM follow_up_tracking WHERE application_id = ?`), id); err != nil {
		return errors.Wrapf(err, "failed to delete follow-up tracking for %s", id)
	}
	if _, err := s.q.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM applications WHERE id = ?`), id); err != nil {
		return errors.Wrapf(err, "failed to delete application %s", id)
	}
	return nil
}

// GetSettings returns a user's settings. A user without a row gets the store
// defaults when configured, otherwise nil, nil.
func (s *Store) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	var st Settings
	var enabled int
	var updatedAt string
	err := s.q.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT user_id, email, auto_follow_up_enabled, follow_up_interval_days,
		       auto_apply_delay_seconds, updated_at
		FROM user_settings WHERE user_id = ?
	`), userID).Scan(&st.UserID, &st.Email, &enabled, &st.FollowUpIntervalDays, &st.AutoApplyDelaySeconds, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if s.defaults == (Defaults{}) {
				return nil, nil
			}
			return &Settings{
				UserID:                userID,
				FollowUpIntervalDays:  s.defaults.FollowUpIntervalDays,
				AutoApplyDelaySeconds: s.defaults.AutoApplyDelaySeconds,
			}, nil
		}
		return nil, errors.Wrapf(err, "failed to get settings for %s", userID)
	}
	st.AutoFollowUpEnabled = enabled != 0
	if st.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for settings %s", userID)
	}
	return &st, nil
}

// PutSettings inserts or replaces a user's settings
func (s *Store) PutSettings(ctx context.Context, st *Settings) error {
	if st.UserID == "" {
		return errors.NewInvalidRequestError("settings require user_id")
	}
	if st.FollowUpIntervalDays <= 0 {
		st.FollowUpIntervalDays = DefaultFollowUpIntervalDays
		if s.defaults.FollowUpIntervalDays > 0 {
			st.FollowUpIntervalDays = s.defaults.FollowUpIntervalDays
		}
	}
	if st.AutoApplyDelaySeconds <= 0 {
		st.AutoApplyDelaySeconds = DefaultAutoApplyDelaySeconds
		if s.defaults.AutoApplyDelaySeconds > 0 {
			st.AutoApplyDelaySeconds = s.defaults.AutoApplyDelaySeconds
		}
	}
	st.UpdatedAt = s.now().UTC()

	_, err := s.q.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO user_settings (user_id, email, auto_follow_up_enabled, follow_up_interval_days,
			auto_apply_delay_seconds, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			email = excluded.email,
			auto_follow_up_enabled = excluded.auto_follow_up_enabled,
			follow_up_interval_days = excluded.follow_up_interval_days,
			auto_apply_delay_seconds = excluded.auto_apply_delay_seconds,
			updated_at = excluded.updated_at
	`), st.UserID, st.Email, boolToInt(st.AutoFollowUpEnabled), st.FollowUpIntervalDays,
		st.AutoApplyDelaySeconds, db.FormatTime(st.UpdatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to save settings for %s", st.UserID)
	}
	return nil
}

// IncrementFollowUp atomically bumps the follow-up counter for an application.
// It returns the new count and true, or 0 and false when MaxFollowUps was
// already reached. The check and the increment are one statement, so two
// concurrent reminders can never push the count past the limit.
func (s *Store) IncrementFollowUp(ctx context.Context, applicationID string, at time.Time) (int, bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx, s.dialect.Rebind(`
		INSERT INTO follow_up_tracking (application_id, follow_up_count, last_follow_up_at)
		VALUES (?, 1, ?)
		ON CONFLICT (application_id) DO UPDATE SET
			follow_up_count = follow_up_tracking.follow_up_count + 1,
			last_follow_up_at = excluded.last_follow_up_at
		WHERE follow_up_tracking.follow_up_count < ?
		RETURNING follow_up_count
	`), applicationID, db.FormatTime(at), MaxFollowUps).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, errors.Wrapf(err, "failed to increment follow-up count for %s", applicationID)
	}
	return count, true, nil
}

// FollowUpCount returns the number of reminders already sent
func (s *Store) FollowUpCount(ctx context.Context, applicationID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT follow_up_count FROM follow_up_tracking WHERE application_id = ?
	`), applicationID).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "failed to read follow-up count for %s", applicationID)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row rowScanner) (*Application, error) {
	var app Application
	var stage, createdAt, updatedAt string
	var appliedAt, resumeID, coverLetterID sql.NullString

	if err := row.Scan(
		&app.ID, &app.UserID, &app.JobID, &app.Company, &app.Position, &stage,
		&appliedAt, &resumeID, &coverLetterID, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	app.Stage = Stage(stage)
	app.GeneratedResumeID = resumeID.String
	app.GeneratedCoverLetterID = coverLetterID.String

	var err error
	if app.AppliedAt, err = db.ParseNullTime(appliedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse applied_at for application %s", app.ID)
	}
	if app.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for application %s", app.ID)
	}
	if app.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for application %s", app.ID)
	}
	return &app, nil
}

func requireRow(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError(format, args...)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
