package planbase

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts go.uber.org/zap to the Logger interface
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// NewZapLogger creates a new Zap logger adapter
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{
		logger: logger.Sugar(),
	}
}

// NewZapLoggerFromSugar creates a logger from an existing sugared logger
func NewZapLoggerFromSugar(logger *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{
		logger: logger,
	}
}

// NewProductionZapLogger creates a JSON logger at info level with ISO8601 timestamps.
func NewProductionZapLogger() (*ZapLogger, error) {
	return NewZapLoggerFromConfig("info", "json")
}

// NewDevelopmentZapLogger creates a human-readable console logger at debug level.
func NewDevelopmentZapLogger() (*ZapLogger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	return NewZapLogger(logger), nil
}

// NewZapLoggerFromConfig builds a logger from the LOG_LEVEL and LOG_FORMAT
// settings of Config. format is "json" or "console".
func NewZapLoggerFromConfig(level, format string) (*ZapLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "LogLevel",
			"value":  level,
			"reason": err.Error(),
		})
	}

	var config zap.Config
	switch format {
	case "", "json":
		config = zap.NewProductionConfig()
	case "console":
		config = zap.NewDevelopmentConfig()
	default:
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "LogFormat",
			"value":  format,
			"reason": "must be json or console",
		})
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return NewZapLogger(logger), nil
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debugw(msg, fields...)
}

func (l *ZapLogger) Info(msg string, fields ...interface{}) {
	l.logger.Infow(msg, fields...)
}

func (l *ZapLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warnw(msg, fields...)
}

func (l *ZapLogger) Error(msg string, fields ...interface{}) {
	l.logger.Errorw(msg, fields...)
}

// Sync flushes any buffered log entries
// Should be called before application exit
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
