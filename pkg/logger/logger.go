// Package logger provides the process-wide structured logging capability.
// It keeps the call shape the original hand-rolled logger exposed
// (Init/Debug/Info/Warn/Error with printf-style formatting) so call sites
// elsewhere in the repository read the same, but is backed by zap instead
// of the standard library's log package.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps a zap.SugaredLogger. A nil *Logger is not usable; callers
// get one from Init or New.
type Logger struct {
	sugar *zap.SugaredLogger
}

var global *Logger

// Init builds the process-wide logger from environment variables:
// LOG_LEVEL (debug|info|error, default info) and LOG_FILE (if set, logs
// rotate through lumberjack instead of going to stderr).
func Init() *Logger {
	level := zapcore.InfoLevel
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = zapcore.DebugLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var writer zapcore.WriteSyncer
	if path := os.Getenv("LOG_FILE"); path != "" {
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	} else {
		writer = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), writer, level)
	zl := zap.New(core)

	global = &Logger{sugar: zl.Sugar()}
	return global
}

// New builds a standalone Logger (used by tests that want isolation from
// process-wide global state).
func New(level zapcore.Level) *Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	zl, _ := cfg.Build()
	return &Logger{sugar: zl.Sugar()}
}

func ensure() *Logger {
	if global == nil {
		return Init()
	}
	return global
}

// Debug logs a debug-level message with printf-style formatting.
func Debug(format string, args ...interface{}) { ensure().sugar.Debugf(format, args...) }

// Info logs an info-level message with printf-style formatting.
func Info(format string, args ...interface{}) { ensure().sugar.Infof(format, args...) }

// Warn logs a warn-level message with printf-style formatting.
func Warn(format string, args ...interface{}) { ensure().sugar.Warnf(format, args...) }

// Error logs an error-level message with printf-style formatting. Errors
// are always emitted regardless of configured level.
func Error(format string, args ...interface{}) { ensure().sugar.Errorf(format, args...) }

// Sync flushes any buffered log entries; call before process exit.
func Sync() {
	if global != nil {
		_ = global.sugar.Sync()
	}
}

// With returns a namespaced child logger carrying structured key/value
// fields on every subsequent call, for components (broadcaster, aiqueue)
// that want a per-document/per-request logger instead of the package-level
// singleton.
func With(args ...interface{}) *Logger {
	return &Logger{sugar: ensure().sugar.With(args...)}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }
