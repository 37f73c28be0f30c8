package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/jobpulse/logger"
)

// Persister stores notifications for the inbox
type Persister interface {
	Create(ctx context.Context, n *Notification) error
}

// Relay forwards notifications to other processes
type Relay interface {
	Forward(ctx context.Context, n Notification) error
}

// Notifier persists a notification and publishes it live.
// The two effects are independent: a persistence failure is returned to the
// caller but live subscribers still receive the event.
type Notifier struct {
	store  Persister
	broker *Broker
	relay  Relay
	logger *zap.SugaredLogger
}

// NewNotifier creates a notifier. relay may be nil.
func NewNotifier(store Persister, broker *Broker, relay Relay, log *zap.SugaredLogger) *Notifier {
	if log == nil {
		log = logger.Logger
	}
	return &Notifier{
		store:  store,
		broker: broker,
		relay:  relay,
		logger: logger.AddNotifySymbol(log.Named("notifier")),
	}
}

// Notify sends n to userID
func (n *Notifier) Notify(ctx context.Context, userID string, note Notification) error {
	note.UserID = userID

	var persistErr error
	if n.store != nil {
		if persistErr = n.store.Create(ctx, &note); persistErr != nil {
			n.logger.Errorw("Failed to persist notification",
				logger.FieldUserID, userID,
				"type", note.Type,
				logger.FieldError, persistErr,
			)
		}
	}

	delivered := n.broker.Publish(userID, note)

	if n.relay != nil {
		if err := n.relay.Forward(ctx, note); err != nil {
			n.logger.Warnw("Failed to relay notification",
				logger.FieldUserID, userID,
				"type", note.Type,
				logger.FieldError, err,
			)
		}
	}

	n.logger.Debugw("Notification sent",
		logger.FieldUserID, userID,
		"type", note.Type,
		"delivered", delivered,
	)
	return persistErr
}
