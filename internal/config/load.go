package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults must cover every key so that values supplied only through the
	// environment are visible to Unmarshal.
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/clipmirror")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Running without a config file is fine; environment variables and
		// defaults still apply.
	}

	v.SetEnvPrefix("CLIPMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers a default for every configuration key.
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_file", "")
	v.SetDefault("server.log_file_max_size_mb", 100)
	v.SetDefault("server.log_file_max_backups", 3)
	v.SetDefault("server.log_file_max_age_days", 28)

	// Database
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	// Auth
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime_minutes", 60)
	v.SetDefault("auth.operator_username", "")
	v.SetDefault("auth.operator_password_hash", "")

	// Source
	v.SetDefault("source.catalog_url", "")
	v.SetDefault("source.catalog_token", "")
	v.SetDefault("source.upload_url", "")
	v.SetDefault("source.upload_token", "")
	v.SetDefault("source.download_dir", "/var/lib/clipmirror/downloads")
	v.SetDefault("source.watch_dir", "")
	v.SetDefault("source.request_timeout_seconds", 60)

	// Pipeline
	v.SetDefault("pipeline.download_concurrency", 2)
	v.SetDefault("pipeline.upload_concurrency", 2)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.tick_seconds", 2)
	v.SetDefault("pipeline.shutdown_grace_seconds", 10)

	// Detector
	v.SetDefault("detector.poll_schedule", "@every 15m")
	v.SetDefault("detector.active_hours_start", "")
	v.SetDefault("detector.active_hours_end", "")
	v.SetDefault("detector.dedup_ttl_minutes", 360)
	v.SetDefault("detector.watch_enabled", false)
}
