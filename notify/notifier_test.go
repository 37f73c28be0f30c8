package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/jobpulse/errors"
)

type failingPersister struct{}

func (failingPersister) Create(context.Context, *Notification) error {
	return errors.New("disk full")
}

type recordingRelay struct {
	forwarded []Notification
}

func (r *recordingRelay) Forward(_ context.Context, n Notification) error {
	r.forwarded = append(r.forwarded, n)
	return nil
}

func TestNotifier_PersistFailureStillDelivers(t *testing.T) {
	broker := NewBroker(zap.NewNop().Sugar())
	notifier := NewNotifier(failingPersister{}, broker, nil, zap.NewNop().Sugar())

	var got []Notification
	defer broker.Subscribe("user-1", func(n Notification) { got = append(got, n) })()

	err := notifier.Notify(context.Background(), "user-1", Notification{Type: TypeGenerationFailed, Title: "Failed"})

	assert.Error(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "user-1", got[0].UserID)
}

func TestNotifier_PersistsPublishesAndRelays(t *testing.T) {
	broker := NewBroker(zap.NewNop().Sugar())
	store := &memoryPersister{}
	relay := &recordingRelay{}
	notifier := NewNotifier(store, broker, relay, zap.NewNop().Sugar())

	var got []Notification
	defer broker.Subscribe("user-1", func(n Notification) { got = append(got, n) })()

	require.NoError(t, notifier.Notify(context.Background(), "user-1", Notification{Type: TypeDocumentsReady}))

	require.Len(t, store.saved, 1)
	require.Len(t, got, 1)
	require.Len(t, relay.forwarded, 1)
	assert.Equal(t, store.saved[0].ID, got[0].ID, "live event carries the persisted id")
}

type memoryPersister struct {
	saved []*Notification
}

func (m *memoryPersister) Create(_ context.Context, n *Notification) error {
	n.ID = "n-1"
	m.saved = append(m.saved, n)
	return nil
}
