package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/jobpulse/errors"
)

func TestOpenWithMigrations(t *testing.T) {
	db, err := OpenWithMigrations(DialectSQLite, filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schema_migrations", "timers", "workflow_runs", "applications",
		"user_settings", "follow_up_tracking", "generated_documents", "notifications"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist after migrations", table)
	}
}

func TestMigrate(t *testing.T) {
	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, DialectSQLite, nil))
		require.NoError(t, Migrate(db, DialectSQLite, nil), "running migrations multiple times should be safe")

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		assert.Equal(t, 5, count)
	})

	t.Run("fails on closed database", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		err = Migrate(db, DialectSQLite, nil)
		require.Error(t, err)
		assert.True(t, IsDatabaseClosed(err))
	})
}

func TestActiveWorkflowIndexRejectsSecondActiveRun(t *testing.T) {
	db, err := OpenWithMigrations(DialectSQLite, filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	now := FormatTime(time.Now())
	insert := `INSERT INTO workflow_runs (id, application_id, user_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err = db.Exec(insert, "run-1", "app-1", "user-1", "pending", now, now)
	require.NoError(t, err)

	_, err = db.Exec(insert, "run-2", "app-1", "user-1", "generating-resume", now, now)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	// A terminal run does not count as active
	_, err = db.Exec(insert, "run-3", "app-1", "user-1", "completed", now, now)
	assert.NoError(t, err)
}

func TestWithTx(t *testing.T) {
	db, err := OpenWithMigrations(DialectSQLite, filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	now := FormatTime(time.Now())
	insert := `INSERT INTO notifications (id, user_id, type, title, message, created_at) VALUES (?, 'u', 't', 'x', 'y', ?)`

	t.Run("commits on success", func(t *testing.T) {
		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, insert, "n-1", now)
			return err
		})
		require.NoError(t, err)

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM notifications WHERE id = 'n-1'").Scan(&count))
		assert.Equal(t, 1, count)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, insert, "n-2", now); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM notifications WHERE id = 'n-2'").Scan(&count))
		assert.Equal(t, 0, count)
	})
}

func TestTimeRoundTripOrdersLexically(t *testing.T) {
	early := time.Date(2026, 3, 1, 9, 0, 0, 5000, time.FixedZone("X", 3600))
	late := early.Add(1500 * time.Millisecond)

	a, b := FormatTime(early), FormatTime(late)
	assert.Less(t, a, b)
	assert.Len(t, a, len(b))

	parsed, err := ParseTime(a)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(early.Truncate(time.Microsecond)))

	_, err = ParseTime("not a time")
	assert.Error(t, err)

	nilParsed, err := ParseNullTime(sql.NullString{})
	require.NoError(t, err)
	assert.Nil(t, nilParsed)
}
