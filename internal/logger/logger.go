package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerOptions is a single structured field attached to a log line.
type LoggerOptions struct {
	Key  string
	Data interface{}
}

// Logger is the process-wide zap logger. It discards everything until Init is called.
var Logger = zap.NewNop()

// Init replaces the no-op logger with a console logger writing to stderr.
func Init(debug bool) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		cfg.Development = false
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Logger = l
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger.Sync()
}

func fields(payload []LoggerOptions) []zapcore.Field {
	zapFields := make([]zapcore.Field, 0, len(payload))
	for _, data := range payload {
		zapFields = append(zapFields, zap.Any(data.Key, data.Data))
	}
	return zapFields
}

// Debug logs debug level messages.
func Debug(msg string, payload ...LoggerOptions) {
	Logger.Debug(msg, fields(payload)...)
}

// Info logs info level messages.
func Info(msg string, payload ...LoggerOptions) {
	Logger.Info(msg, fields(payload)...)
}

// Warning logs warning messages.
func Warning(msg string, payload ...LoggerOptions) {
	Logger.Warn(msg, fields(payload)...)
}

// Error logs error messages.
// Describe the incident in msg and pass the error through logger options
// with key "error".
func Error(msg string, payload ...LoggerOptions) {
	Logger.Error(msg, fields(payload)...)
}
