package app

import (
	"strings"

	"github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/database"
	"github.com/charlesng35/liveclass/internal/provider"
	"github.com/charlesng35/liveclass/internal/scheduler"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         strings.TrimSpace(c.JWT.Issuer),
		Audience:       strings.TrimSpace(c.JWT.Audience),
		AccessTokenTTL: ttl,
	}
}

// ConnectionConfig converts DatabaseConfig into database.Open parameters.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	return database.Config{
		Driver:          strings.TrimSpace(c.Driver),
		Path:            strings.TrimSpace(c.Path),
		DSN:             strings.TrimSpace(c.DSN),
		Host:            strings.TrimSpace(c.Host),
		Port:            c.Port,
		Name:            strings.TrimSpace(c.Name),
		User:            strings.TrimSpace(c.Username),
		Password:        c.Password,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		LogLevel:        c.LogLevel,
	}
}

// RTCConfig converts VideoConfig into media provider parameters.
func (c VideoConfig) RTCConfig() provider.RTCConfig {
	return provider.RTCConfig{
		AppID:          c.AppID,
		AppCertificate: c.AppCertificate,
		TokenTTL:       c.TokenTTL,
		APIBaseURL:     c.APIBaseURL,
		APIToken:       c.APIToken,
		Timeout:        c.ProviderTimeout,
		RetryAttempts:  c.RetryAttempts,
	}
}

// Enabled reports whether whiteboard credentials are configured.
func (c WhiteboardConfig) Enabled() bool {
	return strings.TrimSpace(c.AccessKey) != "" && strings.TrimSpace(c.SecretKey) != ""
}

// ClientConfig converts WhiteboardConfig into whiteboard provider parameters.
func (c WhiteboardConfig) ClientConfig() provider.WhiteboardConfig {
	return provider.WhiteboardConfig{
		BaseURL:       c.APIBaseURL,
		AccessKey:     c.AccessKey,
		SecretKey:     c.SecretKey,
		Region:        c.Region,
		TokenTTL:      c.TokenTTL,
		Timeout:       c.ProviderTimeout,
		RetryAttempts: c.RetryAttempts,
	}
}

// ReconcilerConfig converts SchedulerConfig into sweep settings. Zero values take the
// reconciler defaults.
func (c SchedulerConfig) ReconcilerConfig() scheduler.Config {
	return scheduler.Config{
		ReminderSpec:      c.ReminderSpec,
		AutoEndSpec:       c.AutoEndSpec,
		StuckSpec:         c.StuckSpec,
		NoShowSpec:        c.NoShowSpec,
		WhiteboardSpec:    c.WhiteboardSpec,
		CachePurgeSpec:    c.CachePurgeSpec,
		ReminderMarks:     append(c.ReminderMarks[:0:0], c.ReminderMarks...),
		ReminderTolerance: c.ReminderTolerance,
		ReminderLookahead: c.ReminderLookahead,
		AutoEndGrace:      c.AutoEndGrace,
		StuckThreshold:    c.StuckThreshold,
		NoShowGrace:       c.NoShowGrace,
		AbandonThreshold:  c.AbandonThreshold,
		JobTimeout:        c.JobTimeout,
	}
}
