package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Cache    CacheConfig    `mapstructure:"cache"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Drift    DriftConfig    `mapstructure:"drift"`
	Claims   ClaimsConfig   `mapstructure:"claims"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents the ops HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents Postgres connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int32         `mapstructure:"max_open_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SQLiteConfig configures the embedded store used by single-node deploys.
type SQLiteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// CacheConfig configures the optional Redis suppression cache.
type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	RedisURL string `mapstructure:"redis_url"`
}

// SMTPConfig configures outbound alert email.
type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FromAddress string `mapstructure:"from_address"`
}

// SlackConfig configures the Slack webhook sender. Slack is disabled by
// default; a disabled sender is a successful no-op so it never fails alerts.
type SlackConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AlertingConfig holds alert evaluation and suppression settings.
type AlertingConfig struct {
	DefaultAlertEmail    string        `mapstructure:"default_alert_email"`
	PortalBaseURL        string        `mapstructure:"portal_base_url"`
	AttachPDF            bool          `mapstructure:"attach_pdf"`
	ArtifactDir          string        `mapstructure:"artifact_dir"`
	SuppressionCooldown  time.Duration `mapstructure:"suppression_cooldown"`
	NoiseScanLimit       int           `mapstructure:"noise_scan_limit"`
	NoiseVerdictMinimum  int           `mapstructure:"noise_verdict_minimum"`
	DispatchRatePerSec   float64       `mapstructure:"dispatch_rate_per_sec"`
	DispatchBurst        int           `mapstructure:"dispatch_burst"`
	RuleCacheSize        int           `mapstructure:"rule_cache_size"`
	RuleCacheTTL         time.Duration `mapstructure:"rule_cache_ttl"`
}

// DriftConfig holds windowing and statistical defaults.
type DriftConfig struct {
	BaselineDays          int     `mapstructure:"baseline_days"`
	CurrentDays           int     `mapstructure:"current_days"`
	MinSampleSize         int     `mapstructure:"min_sample_size"`
	SignificanceThreshold float64 `mapstructure:"significance_threshold"`
}

// ClaimsConfig configures the read-only claim data store connection.
type ClaimsConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
