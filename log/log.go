// Package log provides the contextual structured logger shared by every
// component. It wraps zap instead of klaytn's own log package (which is
// referenced throughout the teacher tree but not itself part of it).
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a small contextual wrapper over *zap.SugaredLogger. Components
// obtain one via New and attach static fields with With.
type Logger struct {
	sugar *zap.SugaredLogger
}

var consoleEnabled = false

// EnableConsole turns on console (stderr) logging in addition to the file
// sink, mirroring the CLI's second positional argument (spec §6).
func EnableConsole() {
	consoleEnabled = true
}

func buildBase() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if consoleEnabled {
		cfg.OutputPaths = []string{"torrentnode.log", "stderr"}
	} else {
		cfg.OutputPaths = []string{"torrentnode.log"}
	}

	l, err := cfg.Build()
	if err != nil {
		// Logging must never be able to crash startup; fall back to stderr.
		l = zap.NewExample()
	}
	return l
}

var base = buildBase()

// New returns a logger tagged with the given component name, e.g. "fetcher",
// "workers.indexer".
func New(component string) *Logger {
	return &Logger{sugar: base.Sugar().With("component", component)}
}

// With returns a derived logger with additional static key/value fields.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

// Sync flushes buffered log entries; call on shutdown.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

func init() {
	if os.Getenv("TORRENTNODE_CONSOLE_LOG") == "true" {
		consoleEnabled = true
		base = buildBase()
	}
}
