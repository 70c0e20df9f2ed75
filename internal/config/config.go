package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Source   SourceConfig   `mapstructure:"source" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline" validate:"required"`
	Detector DetectorConfig `mapstructure:"detector" validate:"required"`
}

// ServerConfig contains all server-related configuration settings,
// including the structured logging setup.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// LogFile enables rotating file output in addition to stdout when set.
	LogFile           string `mapstructure:"log_file"`
	LogFileMaxSizeMB  int    `mapstructure:"log_file_max_size_mb" validate:"gte=0"`
	LogFileMaxBackups int    `mapstructure:"log_file_max_backups" validate:"gte=0"`
	LogFileMaxAgeDays int    `mapstructure:"log_file_max_age_days" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings
// for the operations API.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`

	// Operator credentials for the ops API login endpoint. The password is
	// stored as a bcrypt hash, never in the clear.
	OperatorUsername     string `mapstructure:"operator_username" validate:"required"`
	OperatorPasswordHash string `mapstructure:"operator_password_hash" validate:"required"`
}

// SourceConfig describes where media is mirrored from and to.
type SourceConfig struct {
	// CatalogURL is the base URL of the source catalog API the poller queries
	// for new items.
	CatalogURL   string `mapstructure:"catalog_url" validate:"required,url"`
	CatalogToken string `mapstructure:"catalog_token"`

	// UploadURL is the destination ingest endpoint downloaded artifacts are
	// published to.
	UploadURL   string `mapstructure:"upload_url" validate:"required,url"`
	UploadToken string `mapstructure:"upload_token"`

	// DownloadDir is the local spool directory for downloaded artifacts.
	DownloadDir string `mapstructure:"download_dir" validate:"required"`

	// WatchDir is an optional local drop directory scanned for manually
	// placed media files.
	WatchDir string `mapstructure:"watch_dir"`

	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" validate:"gte=0"`
}

// PipelineConfig tunes the task queues and worker pools.
type PipelineConfig struct {
	DownloadConcurrency  int `mapstructure:"download_concurrency" validate:"required,gte=1,lte=16"`
	UploadConcurrency    int `mapstructure:"upload_concurrency" validate:"required,gte=1,lte=16"`
	MaxRetries           int `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	TickSeconds          int `mapstructure:"tick_seconds" validate:"required,gte=1"`
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds" validate:"required,gte=1"`
}

// DetectorConfig tunes how new media items are discovered.
type DetectorConfig struct {
	// PollSchedule is a cron expression for catalog polls. The @every form
	// is accepted as well.
	PollSchedule string `mapstructure:"poll_schedule" validate:"required"`

	// ActiveHoursStart and ActiveHoursEnd bound polling to a daily window in
	// HH:MM form. Both empty means poll around the clock. A window that
	// crosses midnight (start later than end) is valid.
	ActiveHoursStart string `mapstructure:"active_hours_start" validate:"omitempty,datetime=15:04"`
	ActiveHoursEnd   string `mapstructure:"active_hours_end" validate:"omitempty,datetime=15:04"`

	// DedupTTLMinutes is how long a seen source ID suppresses re-detection.
	DedupTTLMinutes int `mapstructure:"dedup_ttl_minutes" validate:"gte=0"`

	// WatchEnabled turns on filesystem watching of Source.WatchDir.
	WatchEnabled bool `mapstructure:"watch_enabled"`
}
