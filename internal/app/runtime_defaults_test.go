package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyRuntimeDefaultsGeneratesMissingSecrets(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	require.Len(t, cfg.Auth.JWT.Secret, jwtSecretBytes*2)
	require.NotEmpty(t, cfg.Video.AppCertificate)
	require.Equal(t, "liveclass-local", cfg.Video.AppID)
	require.Equal(t, map[string]bool{
		"auth.jwt.secret":       true,
		"video.app_certificate": true,
		"video.app_id":          true,
	}, generated)
}

func TestApplyRuntimeDefaultsPreservesExistingSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWT.Secret = strings.Repeat("a", 10)
	cfg.Video.AppID = "app"
	cfg.Video.AppCertificate = strings.Repeat("b", 10)

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, strings.Repeat("a", 10), cfg.Auth.JWT.Secret)
}

func TestApplyRuntimeDefaultsCacheKeyOnlyForDatabaseBackend(t *testing.T) {
	cfg := &Config{Cache: CacheConfig{Backend: CacheBackendMemory}}
	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.False(t, generated["cache.encryption_key"])
	require.Empty(t, cfg.Cache.EncryptionKey)

	cfg = &Config{Cache: CacheConfig{Backend: CacheBackendDatabase}}
	generated, err = ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.True(t, generated["cache.encryption_key"])
	require.Len(t, cfg.Cache.EncryptionKey, cacheKeyBytes*2)
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	require.ErrorContains(t, err, "config is nil")
}

func TestGenerateHexKey(t *testing.T) {
	key, err := generateHexKey(4)
	require.NoError(t, err)
	require.Len(t, key, 8)

	_, err = generateHexKey(0)
	require.Error(t, err)
}
