package am

// Config represents the jobpulse configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Pulse      PulseConfig      `mapstructure:"pulse"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Generation GenerationConfig `mapstructure:"generation"`
	Email      EmailConfig      `mapstructure:"email"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

// DatabaseConfig selects the SQL backend
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3 (default) or postgres
	Path   string `mapstructure:"path"`   // SQLite file path
	DSN    string `mapstructure:"dsn"`    // Postgres connection string
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Port              int      `mapstructure:"port"`
	AllowedOrigins    []string `mapstructure:"allowed_origins"`     // websocket origin allow-list; empty allows same-host only
	RequestsPerMinute int      `mapstructure:"requests_per_minute"` // per-user limit on action endpoints, 0 = unlimited
	MaxClients        int      `mapstructure:"max_clients"`         // concurrent notification streams, 0 = unlimited
}

// PulseConfig configures the timer dispatcher
type PulseConfig struct {
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"` // How often to claim due timers (default: 5)
	BatchSize             int `mapstructure:"batch_size"`              // Timers claimed per tick (default: 50)
	Workers               int `mapstructure:"workers"`                 // Handlers run concurrently within a tick (default: 4)
	HandlerTimeoutSeconds int `mapstructure:"handler_timeout_seconds"` // Upper bound on one handler call (default: 30)
	StaleAfterSeconds     int `mapstructure:"stale_after_seconds"`     // Processing timers older than this are reset to pending (default: 600)
}

// WorkflowConfig configures the application workflow timings
type WorkflowConfig struct {
	AutoApplyDelaySeconds      int `mapstructure:"auto_apply_delay_seconds"`      // Used when the user has no setting (default: 60)
	FollowUpIntervalDays       int `mapstructure:"follow_up_interval_days"`       // Used when the user has no setting (default: 7)
	DocumentDeletionGraceHours int `mapstructure:"document_deletion_grace_hours"` // Delay before orphaned documents are deleted (default: 24)
}

// GenerationConfig configures the external document-generation service
type GenerationConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// EmailConfig configures the external email-sending service
type EmailConfig struct {
	BaseURL        string `mapstructure:"base_url"` // empty disables outbound email
	APIKey         string `mapstructure:"api_key"`
	From           string `mapstructure:"from"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PerMinute      int    `mapstructure:"per_minute"` // outbound messages per minute, 0 = unlimited
}

// StorageConfig configures where generated documents live
type StorageConfig struct {
	Backend  string `mapstructure:"backend"` // local or gcs
	Bucket   string `mapstructure:"bucket"`
	LocalDir string `mapstructure:"local_dir"`
}

// NotifyConfig configures notification delivery
type NotifyConfig struct {
	RedisURL string `mapstructure:"redis_url"` // empty keeps fan-out in-process
	Channel  string `mapstructure:"channel"`
}

// Server port constants
const (
	DefaultServerPort = 8787
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
