package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
	jptest "github.com/teranos/jobpulse/internal/testing"
)

func TestStore_CreateListMarkRead(t *testing.T) {
	store := NewStore(jptest.CreateTestDB(t), db.DialectSQLite)
	ctx := context.Background()

	older := &Notification{UserID: "user-1", Type: TypeDocumentsGenerating, Title: "Generating", Message: "working",
		CreatedAt: time.Now().Add(-time.Minute)}
	newer := &Notification{UserID: "user-1", Type: TypeDocumentsReady, Title: "Ready", Message: "done",
		Data: map[string]interface{}{"application_id": "app-1"}}
	other := &Notification{UserID: "user-2", Type: TypeDocumentsReady, Title: "Ready", Message: "done"}
	for _, n := range []*Notification{older, newer, other} {
		require.NoError(t, store.Create(ctx, n))
	}

	list, err := store.ListByUser(ctx, "user-1", 0, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID, "newest first")
	assert.Equal(t, "app-1", list[0].Data["application_id"])

	unread, err := store.CountUnread(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	require.NoError(t, store.MarkRead(ctx, "user-1", older.ID))
	unreadList, err := store.ListByUser(ctx, "user-1", 10, true)
	require.NoError(t, err)
	require.Len(t, unreadList, 1)
	assert.Equal(t, newer.ID, unreadList[0].ID)

	// Someone else's notification is not found
	err = store.MarkRead(ctx, "user-1", other.ID)
	assert.True(t, errors.IsNotFoundError(err))
}
