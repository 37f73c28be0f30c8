package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
)

// DefaultListLimit bounds inbox listings when the caller passes no limit
const DefaultListLimit = 50

// Store handles persistence of notifications
type Store struct {
	q       db.Querier
	dialect db.Dialect
}

// NewStore creates a new notification store
func NewStore(conn *sql.DB, dialect db.Dialect) *Store {
	return &Store{q: conn, dialect: dialect}
}

// Create persists n, filling ID and CreatedAt when empty
func (s *Store) Create(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	data := []byte("{}")
	if len(n.Data) > 0 {
		var err error
		if data, err = json.Marshal(n.Data); err != nil {
			return errors.Wrapf(err, "failed to encode data for notification %s", n.ID)
		}
	}

	_, err := s.q.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO notifications (id, user_id, type, title, message, data, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), n.ID, n.UserID, string(n.Type), n.Title, n.Message, string(data), 0, db.FormatTime(n.CreatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to create notification %s", n.ID)
	}
	return nil
}

// ListByUser returns a user's notifications, newest first
func (s *Store) ListByUser(ctx context.Context, userID string, limit int, unreadOnly bool) ([]*Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, user_id, type, title, message, data, read, created_at
		FROM notifications
		WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := s.q.QueryContext(ctx, s.dialect.Rebind(query), userID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list notifications for %s", userID)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		var typ, data, createdAt string
		var read int
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &data, &read, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan notification")
		}
		n.Type = Type(typ)
		n.Read = read != 0
		if data != "" && data != "{}" {
			if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
				return nil, errors.Wrapf(err, "failed to decode data for notification %s", n.ID)
			}
		}
		if n.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, errors.Wrapf(err, "failed to parse created_at for notification %s", n.ID)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// MarkRead marks a user's notification as read. Another user's notification is not found.
func (s *Store) MarkRead(ctx context.Context, userID, id string) error {
	res, err := s.q.ExecContext(ctx, s.dialect.Rebind(`
		UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?
	`), id, userID)
	if err != nil {
		return errors.Wrapf(err, "failed to mark notification %s read", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("notification %s", id)
	}
	return nil
}

// CountUnread returns the number of unread notifications for a user
func (s *Store) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0
	`), userID).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count unread notifications for %s", userID)
	}
	return n, nil
}
