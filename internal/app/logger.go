package app

import (
	"strings"

	"github.com/charlesng35/liveclass/pkg/logger"
)

// ConfigureLogging initialises the global logger from server.log_level and server.log_format.
// An empty level means info; any format other than console means JSON.
func (c ServerConfig) ConfigureLogging() error {
	level := strings.ToLower(strings.TrimSpace(c.LogLevel))
	if level == "" {
		level = "info"
	}
	return logger.InitWithOptions(logger.Options{Level: level, Encoding: c.LogFormat})
}
