package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/metrics"
)

// Callback receives a notification for the subscribed user
type Callback func(Notification)

type subscription struct {
	id     uint64
	userID string
	fn     Callback

	// mu is held across delivery so that unsubscribe waits for an in-flight
	// callback and nothing is delivered after it returns.
	mu     sync.Mutex
	closed bool
}

// Broker fans notifications out to per-user subscriptions.
// Subscriptions are process-local; there is no cap per user.
type Broker struct {
	mu     sync.RWMutex
	users  map[string]map[uint64]*subscription
	nextID uint64
	active int
	closed bool
	logger *zap.SugaredLogger
}

// NewBroker creates an empty broker
func NewBroker(log *zap.SugaredLogger) *Broker {
	if log == nil {
		log = logger.Logger
	}
	return &Broker{
		users:  make(map[string]map[uint64]*subscription),
		logger: logger.AddNotifySymbol(log.Named("notify")),
	}
}

// Subscribe registers fn for userID and returns its unsubscribe function.
// Unsubscribe is idempotent; once it returns fn is never called again.
// Calling unsubscribe from inside fn deadlocks.
func (b *Broker) Subscribe(userID string, fn Callback) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.nextID++
	sub := &subscription{id: b.nextID, userID: userID, fn: fn}
	bucket, ok := b.users[userID]
	if !ok {
		bucket = make(map[uint64]*subscription)
		b.users[userID] = bucket
	}
	bucket[sub.id] = sub
	b.active++
	metrics.NotificationSubscribers.Inc()
	b.mu.Unlock()

	b.logger.Debugw("Subscribed", logger.FieldUserID, userID, "subscription", sub.id)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

func (b *Broker) remove(sub *subscription) {
	b.mu.Lock()
	if bucket, ok := b.users[sub.userID]; ok {
		if _, present := bucket[sub.id]; present {
			delete(bucket, sub.id)
			b.active--
			metrics.NotificationSubscribers.Dec()
		}
		if len(bucket) == 0 {
			delete(b.users, sub.userID)
		}
	}
	b.mu.Unlock()

	// Wait out any delivery in progress, then fence off later ones
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()

	b.logger.Debugw("Unsubscribed", logger.FieldUserID, sub.userID, "subscription", sub.id)
}

// Publish delivers n to every live subscription of userID, synchronously,
// and returns how many callbacks ran. A panicking callback is logged and skipped.
func (b *Broker) Publish(userID string, n Notification) int {
	b.mu.RLock()
	bucket := b.users[userID]
	subs := make([]*subscription, 0, len(bucket))
	for _, sub := range bucket {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	metrics.NotificationsPublished.WithLabelValues(string(n.Type)).Inc()

	delivered := 0
	for _, sub := range subs {
		if b.deliver(sub, n) {
			delivered++
		}
	}
	return delivered
}

func (b *Broker) deliver(sub *subscription, n Notification) (ok bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("Notification callback panicked",
				logger.FieldUserID, sub.userID,
				"subscription", sub.id,
				"panic", r,
			)
			ok = false
		}
	}()
	sub.fn(n)
	return true
}

// ActiveCount returns the number of live subscriptions across all users
func (b *Broker) ActiveCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// UserCount returns the number of users with at least one subscription
func (b *Broker) UserCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.users)
}

// Close drops every subscription. Later Subscribe calls return a no-op unsubscribe.
func (b *Broker) Close() {
	b.mu.Lock()
	var subs []*subscription
	for _, bucket := range b.users {
		for _, sub := range bucket {
			subs = append(subs, sub)
		}
	}
	b.users = make(map[string]map[uint64]*subscription)
	metrics.NotificationSubscribers.Sub(float64(b.active))
	b.active = 0
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
	}
}
