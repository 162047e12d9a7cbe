package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the global structured logger. Init must be called before use;
// the package helpers below are nil-safe for tests that skip Init.
var Log *zap.Logger

var sugar *zap.SugaredLogger

// Init configures the global logger. level is one of debug|info|warn|
// error (default info); format is text|json (default text). The
// CHATSYNC_LOG_LEVEL env var wins over the level argument when set, so
// operators can turn on debug logging without editing config.
func Init(level, format string) {
	if v := strings.TrimSpace(os.Getenv("CHATSYNC_LOG_LEVEL")); v != "" {
		level = v
	}
	var lv zapcore.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lv = zapcore.DebugLevel
	case "warn", "warning":
		lv = zapcore.WarnLevel
	case "error":
		lv = zapcore.ErrorLevel
	default:
		lv = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if strings.ToLower(strings.TrimSpace(format)) == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lv)
	Log = zap.New(core)
	sugar = Log.Sugar()
}

// Sync flushes buffered log entries.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// Debug logs with key/value pairs.
func Debug(msg string, kv ...interface{}) {
	if sugar == nil {
		return
	}
	sugar.Debugw(msg, kv...)
}

// Info logs with key/value pairs.
func Info(msg string, kv ...interface{}) {
	if sugar == nil {
		return
	}
	sugar.Infow(msg, kv...)
}

// Warn logs with key/value pairs.
func Warn(msg string, kv ...interface{}) {
	if sugar == nil {
		return
	}
	sugar.Warnw(msg, kv...)
}

// Error logs with key/value pairs.
func Error(msg string, kv ...interface{}) {
	if sugar == nil {
		return
	}
	sugar.Errorw(msg, kv...)
}
