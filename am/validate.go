package am

import (
	"strings"

	"github.com/teranos/jobpulse/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required when database.driver is postgres")
		}
	default:
		return errors.Newf("database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestsPerMinute < 0 {
		return errors.Newf("server.requests_per_minute must be >= 0, got %d", c.Server.RequestsPerMinute)
	}
	if c.Server.MaxClients < 0 {
		return errors.Newf("server.max_clients must be >= 0, got %d", c.Server.MaxClients)
	}

	// Pulse: 0 = use default, negative = invalid
	if c.Pulse.TickerIntervalSeconds < 0 {
		return errors.Newf("pulse.ticker_interval_seconds must be >= 0, got %d", c.Pulse.TickerIntervalSeconds)
	}
	if c.Pulse.BatchSize < 0 {
		return errors.Newf("pulse.batch_size must be >= 0, got %d", c.Pulse.BatchSize)
	}
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.HandlerTimeoutSeconds < 0 {
		return errors.Newf("pulse.handler_timeout_seconds must be >= 0, got %d", c.Pulse.HandlerTimeoutSeconds)
	}
	if c.Pulse.StaleAfterSeconds > 0 && c.Pulse.HandlerTimeoutSeconds > 0 &&
		c.Pulse.StaleAfterSeconds <= c.Pulse.HandlerTimeoutSeconds {
		return errors.WithHint(
			errors.Newf("pulse.stale_after_seconds (%d) must exceed pulse.handler_timeout_seconds (%d)",
				c.Pulse.StaleAfterSeconds, c.Pulse.HandlerTimeoutSeconds),
			"a timer still inside its handler would otherwise be reset and run twice")
	}

	if c.Workflow.AutoApplyDelaySeconds < 0 {
		return errors.Newf("workflow.auto_apply_delay_seconds must be >= 0, got %d", c.Workflow.AutoApplyDelaySeconds)
	}
	if c.Workflow.FollowUpIntervalDays < 0 {
		return errors.Newf("workflow.follow_up_interval_days must be >= 0, got %d", c.Workflow.FollowUpIntervalDays)
	}
	if c.Workflow.DocumentDeletionGraceHours < 0 {
		return errors.Newf("workflow.document_deletion_grace_hours must be >= 0, got %d", c.Workflow.DocumentDeletionGraceHours)
	}

	if c.Generation.TimeoutSeconds < 0 {
		return errors.Newf("generation.timeout_seconds must be >= 0, got %d", c.Generation.TimeoutSeconds)
	}
	if c.Email.PerMinute < 0 {
		return errors.Newf("email.per_minute must be >= 0, got %d", c.Email.PerMinute)
	}

	switch c.Storage.Backend {
	case "", "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required when storage.backend is gcs")
		}
	default:
		return errors.Newf("storage.backend must be local or gcs, got %q", c.Storage.Backend)
	}

	return nil
}
