package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "jobpulse.db")
	v.SetDefault("database.dsn", "")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.requests_per_minute", 120)
	v.SetDefault("server.max_clients", 0)

	// Pulse (timer dispatcher) defaults
	v.SetDefault("pulse.ticker_interval_seconds", 5)
	v.SetDefault("pulse.batch_size", 50)
	v.SetDefault("pulse.workers", 4)
	v.SetDefault("pulse.handler_timeout_seconds", 30)
	v.SetDefault("pulse.stale_after_seconds", 600)

	// Workflow timing defaults
	v.SetDefault("workflow.auto_apply_delay_seconds", 60)
	v.SetDefault("workflow.follow_up_interval_days", 7)
	v.SetDefault("workflow.document_deletion_grace_hours", 24)

	// External services
	v.SetDefault("generation.base_url", "http://localhost:5678")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.timeout_seconds", 30)
	v.SetDefault("email.base_url", "")
	v.SetDefault("email.api_key", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.timeout_seconds", 15)
	v.SetDefault("email.per_minute", 30)

	// Storage
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.local_dir", "documents")

	// Notifications
	v.SetDefault("notify.redis_url", "")
	v.SetDefault("notify.channel", "jobpulse:notifications")
}

// BindSensitiveEnvVars explicitly binds secrets to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.dsn", "JOBPULSE_DATABASE_DSN", "DATABASE_URL")
	v.BindEnv("generation.api_key", "JOBPULSE_GENERATION_API_KEY")
	v.BindEnv("email.api_key", "JOBPULSE_EMAIL_API_KEY")
	v.BindEnv("notify.redis_url", "JOBPULSE_NOTIFY_REDIS_URL", "REDIS_URL")
}

// TickerInterval returns the dispatcher interval
func (c *Config) TickerInterval() time.Duration {
	if c.Pulse.TickerIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Pulse.TickerIntervalSeconds) * time.Second
}

// HandlerTimeout returns the per-handler timeout
func (c *Config) HandlerTimeout() time.Duration {
	if c.Pulse.HandlerTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Pulse.HandlerTimeoutSeconds) * time.Second
}

// StaleAfter returns how long a timer may sit in processing before reconciliation
func (c *Config) StaleAfter() time.Duration {
	if c.Pulse.StaleAfterSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Pulse.StaleAfterSeconds) * time.Second
}

// AutoApplyDelay returns the default grace period before auto-apply fires
func (c *Config) AutoApplyDelay() time.Duration {
	if c.Workflow.AutoApplyDelaySeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Workflow.AutoApplyDelaySeconds) * time.Second
}

// DocumentDeletionGrace returns the delay before orphaned documents are deleted
func (c *Config) DocumentDeletionGrace() time.Duration {
	if c.Workflow.DocumentDeletionGraceHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Workflow.DocumentDeletionGraceHours) * time.Hour
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "jobpulse.db"
	}
	return c.Database.Path
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s %s, Server: {Port: %d}, Pulse: {Interval: %ds, Workers: %d}}",
		c.Database.Driver, c.GetDatabasePath(), c.Server.Port, c.Pulse.TickerIntervalSeconds, c.Pulse.Workers)
}
