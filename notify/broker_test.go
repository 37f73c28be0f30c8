package notify

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBroker_PublishReachesOnlyThatUser(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())

	var gotA, gotB []Notification
	unsubA := b.Subscribe("user-a", func(n Notification) { gotA = append(gotA, n) })
	unsubB := b.Subscribe("user-b", func(n Notification) { gotB = append(gotB, n) })
	defer unsubA()
	defer unsubB()

	delivered := b.Publish("user-a", Notification{Type: TypeDocumentsReady, Title: "ready"})

	assert.Equal(t, 1, delivered)
	require.Len(t, gotA, 1)
	assert.Equal(t, TypeDocumentsReady, gotA[0].Type)
	assert.Empty(t, gotB)
}

func TestBroker_MultipleSubscriptionsPerUser(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())

	var count int32
	for i := 0; i < 5; i++ {
		defer b.Subscribe("user-a", func(Notification) { atomic.AddInt32(&count, 1) })()
	}

	assert.Equal(t, 5, b.Publish("user-a", Notification{Type: TypeFollowUpReminder}))
	assert.Equal(t, int32(5), atomic.LoadInt32(&count))
}

func TestBroker_CountReturnsToBaseline(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())
	baseline := b.ActiveCount()

	var unsubs []func()
	for i := 0; i < 25; i++ {
		unsubs = append(unsubs, b.Subscribe("user-a", func(Notification) {}))
	}
	assert.Equal(t, baseline+25, b.ActiveCount())

	for _, unsub := range unsubs {
		unsub()
		unsub() // idempotent
	}
	assert.Equal(t, baseline, b.ActiveCount())
	assert.Equal(t, 0, b.UserCount(), "empty user buckets are removed")
}

func TestBroker_NoDeliveryAfterUnsubscribe(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())

	var count int32
	unsub := b.Subscribe("user-a", func(Notification) { atomic.AddInt32(&count, 1) })
	unsub()

	assert.Equal(t, 0, b.Publish("user-a", Notification{Type: TypeDocumentsReady}))
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestBroker_UnsubscribeWaitsForInFlightDelivery(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())

	started := make(chan struct{})
	release := make(chan struct{})
	var finished int32
	unsub := b.Subscribe("user-a", func(Notification) {
		close(started)
		<-release
		atomic.StoreInt32(&finished, 1)
	})

	go b.Publish("user-a", Notification{Type: TypeDocumentsReady})
	<-started

	done := make(chan struct{})
	go func() {
		unsub()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("unsubscribe returned while a delivery was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-done
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

func TestBroker_PanickingCallbackIsIsolated(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())

	var ok int32
	defer b.Subscribe("user-a", func(Notification) { panic("boom") })()
	defer b.Subscribe("user-a", func(Notification) { atomic.AddInt32(&ok, 1) })()

	assert.NotPanics(t, func() {
		assert.Equal(t, 1, b.Publish("user-a", Notification{Type: TypeGenerationFailed}))
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&ok))
}

func TestBroker_ConcurrentSubscribePublish(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())
	baseline := b.ActiveCount()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := b.Subscribe("user-a", func(Notification) {})
			b.Publish("user-a", Notification{Type: TypeFollowUpReminder})
			unsub()
		}()
		go func() {
			defer wg.Done()
			b.Publish("user-a", Notification{Type: TypeFollowUpReminder})
		}()
	}
	wg.Wait()

	assert.Equal(t, baseline, b.ActiveCount())
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker(zap.NewNop().Sugar())

	var count int32
	unsub := b.Subscribe("user-a", func(Notification) { atomic.AddInt32(&count, 1) })
	b.Close()

	assert.Equal(t, 0, b.ActiveCount())
	assert.Equal(t, 0, b.Publish("user-a", Notification{}))
	unsub() // still safe

	late := b.Subscribe("user-a", func(Notification) { atomic.AddInt32(&count, 1) })
	late()
	assert.Equal(t, 0, b.ActiveCount())
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}
