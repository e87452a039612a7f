package app

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/cache"
)

// Cache backends.
const (
	CacheBackendMemory   = "memory"
	CacheBackendDatabase = "database"
)

// CacheConfig selects the store behind credentials, whiteboard state and reminder marks.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	CredentialTTL time.Duration `mapstructure:"credential_ttl"`
	// EncryptionKey seals values written to the database backend. Replicas sharing the
	// database must share the key.
	EncryptionKey string `mapstructure:"encryption_key"`
}

func (c CacheConfig) usesDatabase() bool {
	return strings.EqualFold(strings.TrimSpace(c.Backend), CacheBackendDatabase)
}

// NewStore builds the configured cache store. The database backend shares db with the services,
// so every replica sees the same entries; the memory backend is per process.
func (c CacheConfig) NewStore(db *gorm.DB, now func() time.Time) (cache.Store, error) {
	if !c.usesDatabase() || db == nil {
		return cache.NewMemoryStore(now), nil
	}

	store := cache.NewDatabaseStore(db, cache.WithDatabaseClock(now))
	if strings.TrimSpace(c.EncryptionKey) == "" {
		return store, nil
	}
	return cache.NewSealedStore(store, []byte(c.EncryptionKey))
}
