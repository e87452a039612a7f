package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/cache"
	"github.com/charlesng35/liveclass/internal/database/testutil"
	"github.com/charlesng35/liveclass/internal/scheduler"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Server.AllowedOrigins)
	require.True(t, cfg.Server.HSTS)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Host)
	require.Equal(t, 5432, cfg.Database.Port)

	require.Equal(t, CacheBackendDatabase, cfg.Cache.Backend)
	require.Equal(t, 30*time.Minute, cfg.Cache.CredentialTTL)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "liveclass", cfg.Auth.JWT.Audience)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)

	require.Equal(t, "rtc-app", cfg.Video.AppID)
	require.Equal(t, 10*time.Minute, cfg.Video.JoinWindow)
	require.Equal(t, 5, cfg.Video.RetryAttempts)
	require.Equal(t, 24*time.Hour, cfg.Video.TokenTTL)

	require.True(t, cfg.Whiteboard.Enabled())
	require.Equal(t, "eu", cfg.Whiteboard.Region)
	require.Equal(t, 30, cfg.Whiteboard.DefaultCapacity)

	require.False(t, cfg.Scheduler.Enabled)
	require.Equal(t, []time.Duration{15 * time.Minute, 5 * time.Minute}, cfg.Scheduler.ReminderMarks)
	require.Equal(t, 20*time.Minute, cfg.Scheduler.AutoEndGrace)
	require.Equal(t, 4*time.Hour, cfg.Scheduler.StuckThreshold)
	require.Equal(t, 30*time.Minute, cfg.Scheduler.NoShowGrace)

	require.False(t, cfg.Events.IngestEnabled)

	require.True(t, cfg.Retention.Enabled)
	require.Equal(t, 14, cfg.Retention.NotificationDays)
	require.Equal(t, 90, cfg.Retention.ClosedWhiteboardDays)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
	require.Equal(t, 15*time.Minute, cfg.Video.JoinWindow)
	require.False(t, cfg.Whiteboard.Enabled())
	require.True(t, cfg.Scheduler.Enabled)
	require.Equal(t, []time.Duration{10 * time.Minute, 5 * time.Minute}, cfg.Scheduler.ReminderMarks)
	require.True(t, cfg.Events.IngestEnabled)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("LIVECLASS_SERVER_PORT", "7070")
	t.Setenv("LIVECLASS_VIDEO_JOIN_WINDOW", "5m")
	t.Setenv("LIVECLASS_CACHE_BACKEND", "database")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 5*time.Minute, cfg.Video.JoinWindow)
	require.Equal(t, CacheBackendDatabase, cfg.Cache.Backend)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8000},
			Database: DatabaseConfig{Driver: "sqlite"},
			Cache:    CacheConfig{Backend: CacheBackendMemory},
		}
	}
	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Database.Driver = "oracle"
	require.ErrorContains(t, cfg.Validate(), "unsupported database driver")

	cfg = valid()
	cfg.Cache.Backend = "redis"
	require.ErrorContains(t, cfg.Validate(), "unsupported cache backend")

	cfg = valid()
	cfg.Server.Port = 0
	require.ErrorContains(t, cfg.Validate(), "invalid server port")

	cfg = valid()
	cfg.Retention.NotificationDays = -1
	require.ErrorContains(t, cfg.Validate(), "retention days")

	cfg = valid()
	cfg.Scheduler.ReminderMarks = []time.Duration{0}
	require.ErrorContains(t, cfg.Validate(), "must be positive")
}

func TestAuthConfigAdapter(t *testing.T) {
	cfg := AuthConfig{JWT: JWTSettings{Secret: "secret", Issuer: " issuer ", TTL: 30 * time.Minute}}
	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		AccessTokenTTL: 30 * time.Minute,
	}, cfg.JWTServiceConfig())

	var empty AuthConfig
	require.Equal(t, auth.DefaultAccessTokenTTL, empty.JWTServiceConfig().AccessTokenTTL)
}

func TestProviderAndDatabaseAdapters(t *testing.T) {
	db := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, Name: "lc", Username: " root ", Password: "pw"}
	conn := db.ConnectionConfig()
	require.Equal(t, "mysql", conn.Driver)
	require.Equal(t, "root", conn.User)
	require.Equal(t, "lc", conn.Name)

	video := VideoConfig{AppID: "app", AppCertificate: "cert", ProviderTimeout: 3 * time.Second, RetryAttempts: 2}
	rtc := video.RTCConfig()
	require.Equal(t, "app", rtc.AppID)
	require.Equal(t, 3*time.Second, rtc.Timeout)
	require.Equal(t, 2, rtc.RetryAttempts)

	board := WhiteboardConfig{AccessKey: "ak", SecretKey: "sk", APIBaseURL: "https://wb", Region: "cn-hz"}
	require.True(t, board.Enabled())
	require.Equal(t, "https://wb", board.ClientConfig().BaseURL)
}

func TestSchedulerConfigAdapter(t *testing.T) {
	cfg := SchedulerConfig{
		ReminderMarks: []time.Duration{15 * time.Minute},
		AutoEndGrace:  20 * time.Minute,
	}
	got := cfg.ReconcilerConfig()
	require.Equal(t, []time.Duration{15 * time.Minute}, got.ReminderMarks)
	require.Equal(t, 20*time.Minute, got.AutoEndGrace)
	require.Empty(t, got.ReminderSpec)

	cfg.ReminderMarks[0] = time.Minute
	require.Equal(t, 15*time.Minute, got.ReminderMarks[0])

	require.Equal(t, scheduler.DefaultConfig().JobTimeout, 2*time.Minute)
}

func TestCacheStoreSelection(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	store, err := CacheConfig{Backend: CacheBackendMemory}.NewStore(db, nil)
	require.NoError(t, err)
	require.IsType(t, &cache.MemoryStore{}, store)

	store, err = CacheConfig{Backend: CacheBackendDatabase}.NewStore(db, nil)
	require.NoError(t, err)
	require.IsType(t, &cache.DatabaseStore{}, store)

	store, err = CacheConfig{Backend: "DATABASE", EncryptionKey: "k"}.NewStore(db, nil)
	require.NoError(t, err)
	require.IsType(t, &cache.SealedStore{}, store)

	store, err = CacheConfig{Backend: CacheBackendDatabase}.NewStore(nil, nil)
	require.NoError(t, err)
	require.IsType(t, &cache.MemoryStore{}, store)
}
