// Package logging provides the leveled, named logger used throughout this
// module, trimmed down from a fleet-wide logging system to what a single
// control loop process needs: no network appenders, no remotely
// adjustable levels.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface used across the module. It carries
// the full sugared set (including the *w structured variants and the
// Fatal family) so it also satisfies go.viam.com/utils's ILogger
// constraint, letting a binary hand one straight to utils.ContextualMain.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})
	// With returns a child logger with the given key/value pairs attached
	// to every subsequent log entry, mirroring zap's SugaredLogger.With.
	With(args ...interface{}) Logger
}

type sugared struct {
	*zap.SugaredLogger
}

func (s *sugared) With(args ...interface{}) Logger {
	return &sugared{s.SugaredLogger.With(args...)}
}

// NewLogger returns a new Logger named name that logs Info and above to
// stdout.
func NewLogger(name string) Logger {
	return newLogger(name, zap.InfoLevel)
}

// NewDebugLogger returns a new Logger named name that logs Debug and above
// to stdout. Useful when Config.Debug is set.
func NewDebugLogger(name string) Logger {
	return newLogger(name, zap.DebugLevel)
}

func newLogger(name string, level zapcore.Level) Logger {
	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Encoding:    "console",
		OutputPaths: []string{"stdout"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		DisableStacktrace: true,
		ErrorOutputPaths:  []string{"stderr"},
	}
	zl, err := cfg.Build()
	if err != nil {
		// Falls back to a no-op core rather than panicking; a logger
		// that silently drops output is preferable to a control loop
		// that fails to start because of a logging misconfiguration.
		zl = zap.NewNop()
	}
	return &sugared{zl.Named(name).Sugar()}
}
