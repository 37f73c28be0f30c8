package timer

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/metrics"
)

// Store handles persistence of timers
type Store struct {
	q       db.Querier
	dialect db.Dialect
	now     func() time.Time
}

// NewStore creates a new timer store
func NewStore(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{q: conn, dialect: dialect, now: time.Now}
}

// WithTx returns a copy of the store that runs its statements in tx
func (s *Store) WithTx(tx *sql.Tx) *Store {
	cp := *s
	cp.q = tx
	return &cp
}

// ScheduleRequest describes a timer to create
type ScheduleRequest struct {
	UserID   string
	Kind     Kind
	TargetID string
	DueAt    time.Time
	Payload  Payload
}

const timerColumns = `id, user_id, kind, target_id, due_at, payload, status, last_error,
	attempts, claimed_at, created_at, updated_at`

// Schedule creates a pending timer and returns its ID.
//
// For every kind except follow-up-reminder there is at most one pending timer
// per target: scheduling again returns the existing timer's ID and inserts
// nothing. The partial unique index idx_timers_pending_kind_target backs this
// up when two schedulers race.
func (s *Store) Schedule(ctx context.Context, req ScheduleRequest) (string, error) {
	if !req.Kind.Known() {
		return "", errors.WithHint(errors.NewInvalidRequestError("unknown timer kind %q", req.Kind),
			"valid kinds: auto-apply-delay, follow-up-reminder, document-deletion")
	}
	if req.Kind.Deprecated() {
		return "", errors.NewInvalidRequestError("timer kind %s is deprecated and cannot be scheduled", req.Kind)
	}
	if req.TargetID == "" || req.UserID == "" {
		return "", errors.NewInvalidRequestError("timer requires user_id and target_id")
	}
	if req.DueAt.IsZero() {
		return "", errors.NewInvalidRequestError("timer requires due_at")
	}

	payload, err := EncodePayload(req.Kind, req.Payload)
	if err != nil {
		return "", err
	}

	if !req.Kind.Repeating() {
		if id, err := s.pendingID(ctx, req.Kind, req.TargetID); err != nil || id != "" {
			return id, err
		}
	}

	id := uuid.NewString()
	now := db.FormatTime(s.now())
	_, err = s.q.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO timers (id, user_id, kind, target_id, due_at, payload, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?)
	`), id, req.UserID, string(req.Kind), req.TargetID, db.FormatTime(req.DueAt), string(payload), now, now)
	if err != nil {
		if db.IsUniqueViolation(err) && !req.Kind.Repeating() {
			// Lost the race to a concurrent scheduler; theirs is ours
			existing, lookupErr := s.pendingID(ctx, req.Kind, req.TargetID)
			if lookupErr == nil && existing != "" {
				return existing, nil
			}
		}
		return "", errors.Wrapf(err, "failed to schedule %s timer for %s", req.Kind, req.TargetID)
	}

	metrics.TimersScheduled.WithLabelValues(string(req.Kind)).Inc()
	return id, nil
}

func (s *Store) pendingID(ctx context.Context, kind Kind, targetID string) (string, error) {
	var id string
	err := s.q.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT id FROM timers
		WHERE kind = ? AND target_id = ? AND status = 'pending'
		ORDER BY due_at ASC
		LIMIT 1
	`), string(kind), targetID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", errors.Wrapf(err, "failed to look up pending %s timer for %s", kind, targetID)
	}
	return id, nil
}

// ClaimDue atomically moves up to limit pending timers with due_at <= now to
// processing and returns them, earliest first. The select and the update are
// one statement; on Postgres the subselect skips rows locked by a concurrent
// claimer, on SQLite the write lock serializes claimers. Either way no timer
// is returned to two callers.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Timer, error) {
	if limit <= 0 {
		return nil, nil
	}

	claimedAt := db.FormatTime(s.now())
	query := `
		UPDATE timers
		SET status = 'processing', claimed_at = ?, updated_at = ?, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM timers
			WHERE status = 'pending' AND due_at <= ?
			ORDER BY due_at ASC
			LIMIT ?` + s.dialect.LockSkipLocked() + `
		) AND status = 'pending'
		RETURNING ` + timerColumns

	rows, err := s.q.QueryContext(ctx, s.dialect.Rebind(query), claimedAt, claimedAt, db.FormatTime(now), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim due timers")
	}
	defer rows.Close()

	timers, err := scanTimers(rows)
	if err != nil {
		return nil, err
	}

	sort.Slice(timers, func(i, j int) bool { return timers[i].DueAt.Before(timers[j].DueAt) })
	metrics.TimersClaimed.Add(float64(len(timers)))
	return timers, nil
}

// MarkCompleted finishes a processing timer
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	return s.finish(ctx, id, StatusCompleted, "")
}

// MarkFailed finishes a processing timer with an error message
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	return s.finish(ctx, id, StatusFailed, errMsg)
}

func (s *Store) finish(ctx context.Context, id string, status Status, errMsg string) error {
	var lastError sql.NullString
	if errMsg != "" {
		lastError = sql.NullString{String: errMsg, Valid: true}
	}

	res, err := s.q.ExecContext(ctx, s.dialect.Rebind(`
		UPDATE timers SET status = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`), string(status), lastError, db.FormatTime(s.now()), id)
	if err != nil {
		return errors.Wrapf(err, "failed to mark timer %s %s", id, status)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n > 0 {
		return nil
	}

	// Nothing updated: either the timer is gone or it left processing (e.g. cancelled by a rollback)
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return errors.NewConflictError("timer %s is %s, not processing", id, current.Status)
}

// CancelByTarget cancels every pending or processing timer for a target and
// returns how many were cancelled. Cancelling twice is harmless.
func (s *Store) CancelByTarget(ctx context.Context, targetID string) (int, error) {
	res, err := s.q.ExecContext(ctx, s.dialect.Rebind(`
		UPDATE timers SET status = 'cancelled', updated_at = ?
		WHERE target_id = ? AND status IN ('pending', 'processing')
	`), db.FormatTime(s.now()), targetID)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to cancel timers for %s", targetID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	metrics.TimersCancelled.Add(float64(n))
	return int(n), nil
}

// ResetStale returns timers stuck in processing since before olderThan to
// pending, so a crashed dispatcher's claims are retried. At most one pending
// timer may exist per non-repeating (kind, target), so a stale timer is failed
// instead when a pending timer already covers its target, or when a newer
// stale timer for the same target is the one being reset.
func (s *Store) ResetStale(ctx context.Context, olderThan time.Time) (int, error) {
	now := db.FormatTime(s.now())
	cutoff := db.FormatTime(olderThan)

	_, err := s.q.ExecContext(ctx, s.dialect.Rebind(`
		UPDATE timers SET status = 'failed', last_error = 'stale claim superseded by a newer claim', updated_at = ?
		WHERE status = 'processing' AND claimed_at < ? AND kind <> 'follow-up-reminder'
		  AND EXISTS (
			SELECT 1 FROM timers n
			WHERE n.status = 'processing' AND n.claimed_at < ?
			  AND n.kind = timers.kind AND n.target_id = timers.target_id
			  AND (n.created_at > timers.created_at OR (n.created_at = timers.created_at AND n.id > timers.id))
		  )
	`), now, cutoff, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to retire duplicate stale timers")
	}

	_, err = s.q.ExecContext(ctx, s.dialect.Rebind(`
		UPDATE timers SET status = 'failed', last_error = 'stale claim superseded by a pending timer', updated_at = ?
		WHERE status = 'processing' AND claimed_at < ? AND kind <> 'follow-up-reminder'
		  AND EXISTS (
			SELECT 1 FROM timers p
			WHERE p.status = 'pending' AND p.kind = timers.kind AND p.target_id = timers.target_id
		  )
	`), now, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to retire superseded stale timers")
	}

	res, err := s.q.ExecContext(ctx, s.dialect.Rebind(`
		UPDATE timers SET status = 'pending', claimed_at = NULL, updated_at = ?
		WHERE status = 'processing' AND claimed_at < ?
		  AND (kind = 'follow-up-reminder' OR NOT EXISTS (
			SELECT 1 FROM timers p
			WHERE p.status = 'pending' AND p.kind = timers.kind AND p.target_id = timers.target_id
		  ))
	`), now, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reset stale timers")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	metrics.TimersReset.Add(float64(n))
	return int(n), nil
}

// Get retrieves a timer by ID. A missing timer is ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Timer, error) {
	rows, err := s.q.QueryContext(ctx, s.dialect.Rebind(`SELECT `+timerColumns+` FROM timers WHERE id = ?`), id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get timer %s", id)
	}
	defer rows.Close()

	timers, err := scanTimers(rows)
	if err != nil {
		return nil, err
	}
	if len(timers) == 0 {
		return nil, errors.NewNotFoundError("timer %s", id)
	}
	return timers[0], nil
}

// ListByTarget returns every timer for a target, earliest due first
func (s *Store) ListByTarget(ctx context.Context, targetID string) ([]*Timer, error) {
	return s.List(ctx, ListFilter{TargetID: targetID})
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Status   Status
	Kind     Kind
	TargetID string
	Limit    int
}

// List returns timers matching filter, earliest due first
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Timer, error) {
	query := `SELECT ` + timerColumns + ` FROM timers WHERE 1 = 1`
	var args []interface{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.TargetID != "" {
		query += ` AND target_id = ?`
		args = append(args, filter.TargetID)
	}
	query += ` ORDER BY due_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.q.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list timers")
	}
	defer rows.Close()
	return scanTimers(rows)
}

// NextDue returns the earliest pending timer, or nil when none is pending
func (s *Store) NextDue(ctx context.Context) (*Timer, error) {
	timers, err := s.List(ctx, ListFilter{Status: StatusPending, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(timers) == 0 {
		return nil, nil
	}
	return timers[0], nil
}

// Stats returns the number of timers in each status
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT status, COUNT(*) FROM timers GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count timers")
	}
	defer rows.Close()

	stats := map[Status]int{
		StatusPending: 0, StatusProcessing: 0, StatusCompleted: 0, StatusCancelled: 0, StatusFailed: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan timer stats")
		}
		stats[Status(status)] = n
	}
	return stats, rows.Err()
}

// PurgeFinished deletes completed, cancelled and failed timers last updated before cutoff
func (s *Store) PurgeFinished(ctx context.Context, before time.Time) (int, error) {
	res, err := s.q.ExecContext(ctx, s.dialect.Rebind(`
		DELETE FROM timers
		WHERE status IN ('completed', 'cancelled', 'failed') AND updated_at < ?
	`), db.FormatTime(before))
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge finished timers")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return int(n), nil
}

func scanTimers(rows *sql.Rows) ([]*Timer, error) {
	var timers []*Timer
	for rows.Next() {
		var t Timer
		var kind, dueAt, payload, status, createdAt, updatedAt string
		var lastError, claimedAt sql.NullString

		if err := rows.Scan(&t.ID, &t.UserID, &kind, &t.TargetID, &dueAt, &payload, &status,
			&lastError, &t.Attempts, &claimedAt, &createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan timer")
		}

		t.Kind = Kind(kind)
		t.Status = Status(status)
		t.LastError = lastError.String
		t.RawPayload = json.RawMessage(payload)

		var err error
		if t.DueAt, err = db.ParseTime(dueAt); err != nil {
			return nil, errors.Wrapf(err, "failed to parse due_at for timer %s", t.ID)
		}
		if t.ClaimedAt, err = db.ParseNullTime(claimedAt); err != nil {
			return nil, errors.Wrapf(err, "failed to parse claimed_at for timer %s", t.ID)
		}
		if t.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, errors.Wrapf(err, "failed to parse created_at for timer %s", t.ID)
		}
		if t.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
			return nil, errors.Wrapf(err, "failed to parse updated_at for timer %s", t.ID)
		}
		timers = append(timers, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate timers")
	}
	return timers, nil
}
