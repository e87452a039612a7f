package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	jwtSecretBytes = 48
	cacheKeyBytes  = 32
)

// ApplyRuntimeDefaults fills secrets a local run cannot start without. A generated JWT secret
// only verifies tokens minted by this process, so production deployments must configure the
// platform's shared secret. The returned map names the generated keys without their values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := generateHexKey(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	if cfg.Cache.usesDatabase() && strings.TrimSpace(cfg.Cache.EncryptionKey) == "" {
		key, err := generateHexKey(cacheKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("generate cache encryption key: %w", err)
		}
		cfg.Cache.EncryptionKey = key
		generated["cache.encryption_key"] = true
	}

	if strings.TrimSpace(cfg.Video.AppCertificate) == "" {
		secret, err := generateHexKey(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate video app certificate: %w", err)
		}
		cfg.Video.AppCertificate = secret
		generated["video.app_certificate"] = true
	}
	if strings.TrimSpace(cfg.Video.AppID) == "" {
		cfg.Video.AppID = "liveclass-local"
		generated["video.app_id"] = true
	}

	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
