package notify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisRelay_HandleMessage(t *testing.T) {
	broker := NewBroker(zap.NewNop().Sugar())
	relay, err := NewRedisRelay("redis://localhost:6379/0", "jobpulse:test", broker, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer relay.Close()

	var got []Notification
	defer broker.Subscribe("user-1", func(n Notification) { got = append(got, n) })()

	foreign, _ := json.Marshal(envelope{Origin: "other-process", Notification: Notification{UserID: "user-1", Type: TypeDocumentsReady}})
	own, _ := json.Marshal(envelope{Origin: relay.origin, Notification: Notification{UserID: "user-1", Type: TypeDocumentsReady}})

	assert.True(t, relay.handleMessage(string(foreign)))
	assert.False(t, relay.handleMessage(string(own)), "own events are already delivered locally")
	assert.False(t, relay.handleMessage("not json"))

	assert.Len(t, got, 1)
}

func TestNewRedisRelay_InvalidURL(t *testing.T) {
	_, err := NewRedisRelay("http://nope", "c", NewBroker(zap.NewNop().Sugar()), nil)
	assert.Error(t, err)
}
