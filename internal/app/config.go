package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. LIVECLASS_DATABASE_DRIVER.
const EnvPrefix = "LIVECLASS"

// Config represents the runtime configuration for the liveclass backend.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Video      VideoConfig      `mapstructure:"video"`
	Whiteboard WhiteboardConfig `mapstructure:"whiteboard"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Events     EventsConfig     `mapstructure:"events"`
	Retention  RetentionConfig  `mapstructure:"retention"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	HSTS            bool          `mapstructure:"hsts"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuthConfig configures verification of platform access tokens.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TTL      time.Duration `mapstructure:"access_token_ttl"`
}

// VideoConfig configures the media room provider and the join rules.
type VideoConfig struct {
	AppID           string        `mapstructure:"app_id"`
	AppCertificate  string        `mapstructure:"app_certificate"`
	APIBaseURL      string        `mapstructure:"api_base_url"`
	APIToken        string        `mapstructure:"api_token"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	JoinWindow      time.Duration `mapstructure:"join_window"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
}

// WhiteboardConfig configures the whiteboard provider and room limits.
type WhiteboardConfig struct {
	APIBaseURL      string        `mapstructure:"api_base_url"`
	AccessKey       string        `mapstructure:"access_key"`
	SecretKey       string        `mapstructure:"secret_key"`
	Region          string        `mapstructure:"region"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	DefaultCapacity int           `mapstructure:"default_capacity"`
	RoomLifetime    time.Duration `mapstructure:"room_lifetime"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
}

// SchedulerConfig configures the reconciliation sweeps.
type SchedulerConfig struct {
	Enabled           bool            `mapstructure:"enabled"`
	ReminderSpec      string          `mapstructure:"reminder_spec"`
	AutoEndSpec       string          `mapstructure:"auto_end_spec"`
	StuckSpec         string          `mapstructure:"stuck_spec"`
	NoShowSpec        string          `mapstructure:"no_show_spec"`
	WhiteboardSpec    string          `mapstructure:"whiteboard_spec"`
	CachePurgeSpec    string          `mapstructure:"cache_purge_spec"`
	ReminderMarks     []time.Duration `mapstructure:"reminder_marks"`
	ReminderTolerance time.Duration   `mapstructure:"reminder_tolerance"`
	ReminderLookahead time.Duration   `mapstructure:"reminder_lookahead"`
	AutoEndGrace      time.Duration   `mapstructure:"auto_end_grace"`
	StuckThreshold    time.Duration   `mapstructure:"stuck_threshold"`
	NoShowGrace       time.Duration   `mapstructure:"no_show_grace"`
	AbandonThreshold  time.Duration   `mapstructure:"abandon_threshold"`
	JobTimeout        time.Duration   `mapstructure:"job_timeout"`
}

// EventsConfig controls the inbound event surface.
type EventsConfig struct {
	IngestEnabled bool `mapstructure:"ingest_enabled"`
}

// RetentionConfig configures pruning of stale inbox and whiteboard records.
type RetentionConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	NotificationDays     int    `mapstructure:"notification_days"`
	ClosedWhiteboardDays int    `mapstructure:"closed_whiteboard_days"`
	Spec                 string `mapstructure:"spec"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	switch strings.ToLower(strings.TrimSpace(c.Cache.Backend)) {
	case CacheBackendMemory, CacheBackendDatabase:
	default:
		return fmt.Errorf("config: unsupported cache backend %q", c.Cache.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Video.JoinWindow < 0 {
		return errors.New("config: video.join_window must not be negative")
	}
	if c.Retention.NotificationDays < 0 || c.Retention.ClosedWhiteboardDays < 0 {
		return errors.New("config: retention days must not be negative")
	}
	for _, mark := range c.Scheduler.ReminderMarks {
		if mark <= 0 {
			return fmt.Errorf("config: reminder mark %s must be positive", mark)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.hsts", false)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/liveclass.sqlite")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.credential_ttl", "1h")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("auth.jwt.issuer", "")
	v.SetDefault("auth.jwt.audience", "")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("video.token_ttl", "24h")
	v.SetDefault("video.join_window", "15m")
	v.SetDefault("video.provider_timeout", "10s")
	v.SetDefault("video.retry_attempts", 3)

	v.SetDefault("whiteboard.region", "us-sv")
	v.SetDefault("whiteboard.token_ttl", "24h")
	v.SetDefault("whiteboard.default_capacity", 50)
	v.SetDefault("whiteboard.room_lifetime", "6h")
	v.SetDefault("whiteboard.provider_timeout", "10s")
	v.SetDefault("whiteboard.retry_attempts", 3)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.reminder_spec", "@every 1m")
	v.SetDefault("scheduler.auto_end_spec", "@every 5m")
	v.SetDefault("scheduler.stuck_spec", "@hourly")
	v.SetDefault("scheduler.no_show_spec", "@hourly")
	v.SetDefault("scheduler.whiteboard_spec", "@every 5m")
	v.SetDefault("scheduler.cache_purge_spec", "@hourly")
	v.SetDefault("scheduler.reminder_marks", []string{"10m", "5m"})
	v.SetDefault("scheduler.reminder_tolerance", "1m")
	v.SetDefault("scheduler.reminder_lookahead", "15m")
	v.SetDefault("scheduler.auto_end_grace", "15m")
	v.SetDefault("scheduler.stuck_threshold", "3h")
	v.SetDefault("scheduler.no_show_grace", "30m")
	v.SetDefault("scheduler.abandon_threshold", "30m")
	v.SetDefault("scheduler.job_timeout", "2m")

	v.SetDefault("events.ingest_enabled", true)

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.notification_days", 30)
	v.SetDefault("retention.closed_whiteboard_days", 90)
	v.SetDefault("retention.spec", "@daily")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
