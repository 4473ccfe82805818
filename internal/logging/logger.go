// Package logging is the zap-backed logger shared by the whitelist, its
// console and the servers in front of it.
package logging

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLevel names the environment variable that selects debug output.
const EnvLevel = "WHITELISTD_LOG_LEVEL"

// Logger wraps zap.Logger with helpers for whitelist events.
type Logger struct {
	logger *zap.Logger
}

// NewLogger builds a colored console logger when debug is set and a JSON
// production logger otherwise.
func NewLogger(debug bool) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return &Logger{logger: logger}
}

// NewLoggerFromEnv enables debug output when WHITELISTD_LOG_LEVEL (or the
// older LOG_LEVEL) is "debug".
func NewLoggerFromEnv() *Logger {
	level := os.Getenv(EnvLevel)
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	return NewLogger(strings.EqualFold(level, "debug"))
}

func NewNop() *Logger {
	return &Logger{logger: zap.NewNop()}
}

// NewWithCore builds a Logger on an arbitrary zap core, e.g. zaptest/observer.
func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{logger: zap.New(core)}
}

func (l *Logger) Info(msg string, fields ...zap.Field)  { l.logger.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.logger.Warn(msg, fields...) }
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.logger.Debug(msg, fields...) }

// Error logs at error level and attaches err when non-nil.
func (l *Logger) Error(msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.logger.Error(msg, fields...)
}

// Named scopes the logger to a subsystem ("whitelist", "gateway", "api").
func (l *Logger) Named(system string) *Logger {
	return &Logger{logger: l.logger.Named(system)}
}

func (l *Logger) Sync() error {
	return l.logger.Sync()
}

// LogRequest records one served HTTP request; durationMS is in milliseconds.
func (l *Logger) LogRequest(method, path string, status int, durationMS float64) {
	l.Info("HTTP Request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Float64("duration_ms", durationMS),
	)
}

func (l *Logger) LogConfigLoad(path string, err error) {
	if err != nil {
		l.Error("Failed to load configuration", err, zap.String("path", path))
		return
	}
	l.Info("Configuration loaded", zap.String("path", path))
}

// LogStoreEvent reports a load or save of the persisted whitelist. Failures
// are errors, successes debug.
func (l *Logger) LogStoreEvent(op, name string, err error) {
	if err != nil {
		l.Error("Whitelist store operation failed", err, zap.String("op", op), zap.String("name", name))
		return
	}
	l.Debug("Whitelist store operation completed", zap.String("op", op), zap.String("name", name))
}

// LogMutation reports an operator change to the whitelist. address is empty
// for clear; by names the operator surface or remote peer.
func (l *Logger) LogMutation(op, address, by string) {
	fields := []zap.Field{zap.String("op", op), zap.String("by", by)}
	if address != "" {
		fields = append(fields, zap.String("address", address))
	}
	l.Info("Whitelist changed", fields...)
}

// LogPeerRejected reports a peer turned away at stage "accept" or "request".
func (l *Logger) LogPeerRejected(stage, peer string, fields ...zap.Field) {
	l.Debug("Non-whitelisted peer rejected",
		append([]zap.Field{zap.String("stage", stage), zap.String("peer", peer)}, fields...)...)
}

func (l *Logger) LogServerStart(addr, enforce string) {
	l.Info("Server starting", zap.String("listen", addr), zap.String("enforce", enforce))
}

func (l *Logger) LogServerStop() {
	l.Info("Server shutting down")
}

// Field helpers so callers need not import zap.

func String(key, val string) zap.Field { return zap.String(key, val) }

func Int(key string, val int) zap.Field { return zap.Int(key, val) }

func Error(err error) zap.Field { return zap.Error(err) }

func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }
