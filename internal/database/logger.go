package database

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/charlesng35/liveclass/pkg/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

type zapWriter struct {
	log *zap.Logger
}

func (w zapWriter) Printf(format string, args ...any) {
	w.log.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// newGormLogger routes gorm diagnostics into the module logger. Unknown levels stay silent.
func newGormLogger(level string) gormlogger.Interface {
	var lvl gormlogger.LogLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		lvl = gormlogger.Error
	case "warn":
		lvl = gormlogger.Warn
	case "info":
		lvl = gormlogger.Info
	default:
		return gormlogger.Default.LogMode(gormlogger.Silent)
	}

	return gormlogger.New(zapWriter{log: logger.WithModule("database")}, gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  lvl,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
