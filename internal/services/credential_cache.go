package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/cache"
	"github.com/charlesng35/liveclass/internal/provider"
	"github.com/charlesng35/liveclass/pkg/logger"
)

// DefaultCredentialTTL bounds how long a whiteboard room token is served from cache.
const DefaultCredentialTTL = time.Hour

var cachedAccessRoles = []provider.AccessRole{provider.AccessAdmin, provider.AccessWriter, provider.AccessReader}

// CredentialCache is a cache-aside layer for whiteboard room tokens. A cache without a store
// misses on every read.
type CredentialCache struct {
	store cache.Store
	ttl   time.Duration
	log   *zap.Logger
}

// NewCredentialCache wraps store. A non-positive ttl uses DefaultCredentialTTL.
func NewCredentialCache(store cache.Store, ttl time.Duration) *CredentialCache {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &CredentialCache{store: store, ttl: ttl, log: logger.WithModule("whiteboard")}
}

// Get returns a cached token for the room and role.
func (c *CredentialCache) Get(ctx context.Context, roomUUID string, role provider.AccessRole) (string, bool) {
	if c == nil || c.store == nil {
		return "", false
	}
	value, ok, err := c.store.Get(ctx, credentialKey(roomUUID, role))
	if err != nil {
		c.log.Debug("credential cache read failed", zap.String("room", roomUUID), zap.Error(err))
		return "", false
	}
	if !ok || len(value) == 0 {
		return "", false
	}
	return string(value), true
}

// Put caches token for the room and role.
func (c *CredentialCache) Put(ctx context.Context, roomUUID string, role provider.AccessRole, token string) {
	if c == nil || c.store == nil || token == "" {
		return
	}
	if err := c.store.Set(ctx, credentialKey(roomUUID, role), []byte(token), c.ttl); err != nil {
		c.log.Debug("credential cache write failed", zap.String("room", roomUUID), zap.Error(err))
	}
}

// Evict drops every cached token of the room.
func (c *CredentialCache) Evict(ctx context.Context, roomUUID string) {
	if c == nil || c.store == nil {
		return
	}
	keys := make([]string, 0, len(cachedAccessRoles))
	for _, role := range cachedAccessRoles {
		keys = append(keys, credentialKey(roomUUID, role))
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.log.Warn("credential cache eviction failed", zap.String("room", roomUUID), zap.Error(err))
	}
}

func credentialKey(roomUUID string, role provider.AccessRole) string {
	return "whiteboard:token:" + roomUUID + ":" + string(role)
}
