package commands

import (
	"context"
	"time"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/application"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/internal/blob"
	"github.com/teranos/jobpulse/internal/email"
	"github.com/teranos/jobpulse/internal/generation"
	"github.com/teranos/jobpulse/logger"
	"github.com/teranos/jobpulse/notify"
	"github.com/teranos/jobpulse/orchestrator"
	"github.com/teranos/jobpulse/pulse/timer"
)

// orchestratorConfig maps the am configuration onto the orchestrator
func orchestratorConfig(cfg *am.Config) orchestrator.Config {
	return orchestrator.Config{
		Dispatcher: timer.Config{
			Interval:       cfg.TickerInterval(),
			BatchSize:      cfg.Pulse.BatchSize,
			Workers:        cfg.Pulse.Workers,
			HandlerTimeout: cfg.HandlerTimeout(),
			StaleAfter:     cfg.StaleAfter(),
		},
		DocumentGrace: cfg.DocumentDeletionGrace(),
		Defaults: application.Defaults{
			AutoApplyDelaySeconds: cfg.Workflow.AutoApplyDelaySeconds,
			FollowUpIntervalDays:  cfg.Workflow.FollowUpIntervalDays,
		},
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// services holds the external collaborators and what they need released
type services struct {
	orchestrator.Services
	relay  *notify.RedisRelay
	blobs  blob.Store
	mailer bool
}

// Close releases the storage client and the redis connection
func (s *services) Close() {
	if s.relay != nil {
		if err := s.relay.Close(); err != nil {
			logger.Warnw("Failed to close notification relay", logger.FieldError, err)
		}
	}
	if s.blobs != nil {
		if err := s.blobs.Close(); err != nil {
			logger.Warnw("Failed to close document storage", logger.FieldError, err)
		}
	}
}

// buildServices constructs the generation client and the optional email,
// storage and redis collaborators from configuration.
// Optional collaborators stay nil interfaces when unconfigured.
func buildServices(ctx context.Context, cfg *am.Config) (*services, error) {
	svc := &services{}
	svc.Broker = notify.NewBroker(logger.Logger)
	svc.Generator = generation.NewClient(cfg.Generation.BaseURL, cfg.Generation.APIKey, seconds(cfg.Generation.TimeoutSeconds))

	if cfg.Email.BaseURL != "" {
		svc.Mailer = email.NewClient(cfg.Email.BaseURL, cfg.Email.APIKey, cfg.Email.From,
			seconds(cfg.Email.TimeoutSeconds), cfg.Email.PerMinute)
		svc.mailer = true
	}

	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open document storage")
	}
	svc.blobs = blobs
	svc.Blobs = blobs

	if cfg.Notify.RedisURL != "" {
		relay, err := notify.NewRedisRelay(cfg.Notify.RedisURL, cfg.Notify.Channel, svc.Broker, logger.Logger)
		if err != nil {
			svc.Close()
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := relay.Ping(pingCtx); err != nil {
			relay.Close()
			svc.Close()
			return nil, errors.Wrap(err, "failed to reach notification relay")
		}
		svc.relay = relay
		svc.Relay = relay
	}
	return svc, nil
}
