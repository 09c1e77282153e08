// Package relaylog provides the relay's structured logging wrapper around zap.
package relaylog

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig controls logger construction.
type LogConfig struct {
	Level       string // debug | info | warn | error | fatal
	Format      string // json | text
	Output      string // file path; empty = stderr
	Development bool   // caller info, stack traces on warn+ (the encoder follows Format)
}

// Logger wraps a zap.Logger and a cached sugared logger for the relay's
// domain fields.
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// InitLogger builds a Logger from cfg, falling back to sane defaults and
// never failing: an unwritable Output falls back to stderr rather than
// returning an error, since logging must never block startup.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	var encoder zapcore.Encoder
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "text" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.AddSync(os.Stderr)
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(encoder, sink, level)

	var opts []zap.Option
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller(), zap.AddStacktrace(zapcore.WarnLevel))
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// With returns a child Logger with the given fields attached.
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// WithComponent scopes subsequent log lines to a named subsystem
// (e.g. "ingress", "evaluator", "store").
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithAccount scopes subsequent log lines to an EA account id.
func (l *Logger) WithAccount(accountID string) *Logger {
	return l.With(Account(accountID))
}

// WithTopic scopes subsequent log lines to a wire topic.
func (l *Logger) WithTopic(topic string) *Logger {
	return l.With(Topic(topic))
}

// Sugar returns the cached SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Global logger plumbing
// ============================================================

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// GetGlobalLogger returns the process-wide logger, lazily creating one
// with default settings if InitGlobalLogger/SetGlobalLogger have not been
// called yet.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// InitGlobalLogger builds a logger from cfg and installs it globally.
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger installs l as the process-wide logger.
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// L is shorthand for GetGlobalLogger, used at call sites that cannot take a
// logger via constructor injection.
func L() *Logger {
	return GetGlobalLogger()
}

// ============================================================
// Package-level convenience functions (operate on the global logger)
// ============================================================

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().sugar.Errorf(format, args...) }

// ============================================================
// Domain field constructors (relay domain: accounts, topics, protocol
// messages, runtime status — replacing the trading-specific field set of
// the teacher's logger with the relay's own vocabulary)
// ============================================================

func Account(accountID string) zap.Field    { return zap.String("account_id", accountID) }
func Role(role string) zap.Field            { return zap.String("role", role) }
func MasterAccount(id string) zap.Field     { return zap.String("master_account", id) }
func SlaveAccount(id string) zap.Field      { return zap.String("slave_account", id) }
func Topic(topic string) zap.Field          { return zap.String("topic", topic) }
func MessageType(t string) zap.Field        { return zap.String("message_type", t) }
func ConfigVersion(v int64) zap.Field       { return zap.Int64("config_version", v) }
func RuntimeStatus(s int) zap.Field         { return zap.Int("runtime_status", s) }
func WarningCode(c string) zap.Field        { return zap.String("warning_code", c) }
func Ticket(ticket int64) zap.Field         { return zap.Int64("ticket", ticket) }
func RequestID(id string) zap.Field         { return zap.String("request_id", id) }
func Component(name string) zap.Field       { return zap.String("component", name) }

func Latency(seconds float64) zap.Field { return zap.Float64("latency_ms", seconds*1000) }

// Re-exported field constructors so call sites only need to import relaylog.
func String(key, val string) zap.Field        { return zap.String(key, val) }
func Int(key string, val int) zap.Field        { return zap.Int(key, val) }
func Int64(key string, val int64) zap.Field     { return zap.Int64(key, val) }
func Float64(key string, val float64) zap.Field { return zap.Float64(key, val) }
func Bool(key string, val bool) zap.Field       { return zap.Bool(key, val) }
func Err(err error) zap.Field                   { return zap.Error(err) }
func Any(key string, val interface{}) zap.Field { return zap.Any(key, val) }

// fieldsToInterface flattens zap.Field values into alternating key/value
// pairs, used when handing fields off to a SugaredLogger call. Order is
// preserved field-by-field (unlike the unordered MapObjectEncoder).
func fieldsToInterface(fields []zap.Field) []interface{} {
	out := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		enc := zapcore.NewMapObjectEncoder()
		f.AddTo(enc)
		out = append(out, f.Key, enc.Fields[f.Key])
	}
	return out
}
