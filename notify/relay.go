package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
)

// envelope tags a relayed notification with the process that published it
type envelope struct {
	Origin       string       `json:"origin"`
	Notification Notification `json:"notification"`
}

// RedisRelay mirrors notifications across jobpulse processes sharing a redis
// channel, so a subscriber connected to one process sees events raised by another.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	broker  *Broker
	logger  *zap.SugaredLogger
}

// NewRedisRelay connects to redisURL (redis://host:port/db)
func NewRedisRelay(redisURL, channel string, broker *Broker, log *zap.SugaredLogger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "invalid notify.redis_url"),
			"expected redis://[user:password@]host:port[/db]")
	}
	if log == nil {
		log = logger.Logger
	}
	return &RedisRelay{
		client:  redis.NewClient(opts),
		channel: channel,
		origin:  uuid.NewString(),
		broker:  broker,
		logger:  logger.AddNotifySymbol(log.Named("relay")),
	}, nil
}

// Ping checks the redis connection
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Forward publishes n on the shared channel
func (r *RedisRelay) Forward(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(envelope{Origin: r.origin, Notification: n})
	if err != nil {
		return errors.Wrap(err, "failed to encode relayed notification")
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return errors.WrapExternalService(err, "redis")
	}
	return nil
}

// Run replays notifications published by other processes into the local
// broker until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.WrapExternalService(err, "redis")
	}
	r.logger.Infow("Relaying notifications", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handleMessage(msg.Payload)
		}
	}
}

// handleMessage delivers a relayed payload locally unless it originated here
func (r *RedisRelay) handleMessage(payload string) bool {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warnw("Dropping malformed relayed notification", logger.FieldError, err)
		return false
	}
	if env.Origin == r.origin {
		return false
	}
	r.broker.Publish(env.Notification.UserID, env.Notification)
	return true
}

// Close closes the redis client
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
