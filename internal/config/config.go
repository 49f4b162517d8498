package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/payrixa/driftwatch/internal/domain"
)

// Manager loads and validates application configuration using Viper.
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/driftwatch/")

	viper.SetEnvPrefix("DRIFTWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional - defaults and env vars suffice
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "driftwatch")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.min_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.conn_max_idle_time", "30m")
	viper.SetDefault("database.migrations_path", "./migrations")

	// Embedded sqlite store (single-node deployments)
	viper.SetDefault("sqlite.enabled", false)
	viper.SetDefault("sqlite.path", "./data/driftwatch.db")

	// Suppression cache defaults
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.redis_url", "redis://localhost:6379")

	// SMTP defaults
	viper.SetDefault("smtp.host", "localhost")
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.from_address", "alerts@payrixa.com")

	// Slack is disabled by default; a disabled sender is a no-op success
	viper.SetDefault("slack.enabled", false)
	viper.SetDefault("slack.timeout", "10s")

	// Alerting defaults. The 4h suppression cooldown is a fixed product
	// decision, not per-rule configurable.
	viper.SetDefault("alerting.default_alert_email", "alerts@example.com")
	viper.SetDefault("alerting.portal_base_url", "")
	viper.SetDefault("alerting.attach_pdf", false)
	viper.SetDefault("alerting.artifact_dir", "")
	viper.SetDefault("alerting.suppression_cooldown", "4h")
	viper.SetDefault("alerting.noise_scan_limit", 10)
	viper.SetDefault("alerting.noise_verdict_minimum", 2)
	viper.SetDefault("alerting.dispatch_rate_per_sec", 5.0)
	viper.SetDefault("alerting.dispatch_burst", 10)
	viper.SetDefault("alerting.rule_cache_size", 256)
	viper.SetDefault("alerting.rule_cache_ttl", "1m")

	// Drift windowing defaults
	viper.SetDefault("drift.baseline_days", 90)
	viper.SetDefault("drift.current_days", 14)
	viper.SetDefault("drift.min_sample_size", 20)
	viper.SetDefault("drift.significance_threshold", 0.05)

	// Claims store defaults
	viper.SetDefault("claims.dsn", "")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetAlertingConfig returns alerting configuration
func (m *Manager) GetAlertingConfig() *domain.AlertingConfig {
	return &m.config.Alerting
}

// GetDriftConfig returns drift computation configuration
func (m *Manager) GetDriftConfig() *domain.DriftConfig {
	return &m.config.Drift
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration. Missing required settings fail
// here, at startup, rather than degrading silently at send time.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if !config.SQLite.Enabled {
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	} else if config.SQLite.Path == "" {
		return fmt.Errorf("sqlite path is required when sqlite is enabled")
	}

	if config.Alerting.PortalBaseURL == "" {
		return fmt.Errorf("alerting portal base URL is required")
	}
	if config.Alerting.DefaultAlertEmail == "" {
		return fmt.Errorf("default alert email is required")
	}
	if config.Alerting.AttachPDF && config.Alerting.ArtifactDir == "" {
		return fmt.Errorf("artifact dir is required when attach_pdf is enabled")
	}
	if config.Alerting.SuppressionCooldown <= 0 {
		return fmt.Errorf("suppression cooldown must be positive")
	}
	if config.Alerting.NoiseScanLimit <= 0 || config.Alerting.NoiseVerdictMinimum <= 0 {
		return fmt.Errorf("noise suppression limits must be positive")
	}

	if config.Drift.BaselineDays <= 0 || config.Drift.CurrentDays <= 0 {
		return fmt.Errorf("drift window sizes must be positive")
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("redis URL is required when cache is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseURL returns the migration-compatible database URL
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(viper.GetString("environment")) == "production"
}
