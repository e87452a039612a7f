package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	mu           sync.RWMutex
)

func init() {
	globalLogger = zap.NewNop()
}

// Options tune the global logger.
type Options struct {
	Level string
	// Encoding is "json" (default) or "console".
	Encoding string
}

// Init configures the global logger using the provided level string.
func Init(level string) error {
	return InitWithOptions(Options{Level: level})
}

// InitWithOptions builds a production zap logger from opts and installs it globally.
func InitWithOptions(opts Options) error {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(strings.TrimSpace(opts.Level))); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	if strings.EqualFold(strings.TrimSpace(opts.Encoding), "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	Replace(built)
	return nil
}

// Replace swaps the global logger. Tests use it to install an observer core.
func Replace(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	globalLogger = l
}

// Logger returns the configured global logger.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return globalLogger
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger annotated with the module name.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}

// SessionFields returns the standard fields used to correlate log lines for a class session.
func SessionFields(sessionID, classSessionID string) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	if classSessionID != "" {
		fields = append(fields, zap.String("class_session_id", classSessionID))
	}
	return fields
}

func Info(msg string, fields ...zap.Field) {
	Logger().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	Logger().Error(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Logger().Warn(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	Logger().Debug(msg, fields...)
}
