package planbase

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Debug("debug message", "table", "tasks")
	logger.Info("info message", "version", 3)
	logger.Warn("warn message", "issues", 2)
	logger.Error("error message", "error", "boom")

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(entries))
	}

	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, entry := range entries {
		if entry.Level != wantLevels[i] {
			t.Errorf("entry %d level = %v, want %v", i, entry.Level, wantLevels[i])
		}
	}

	fields := entries[1].ContextMap()
	if fields["version"] != int64(3) {
		t.Errorf("version field = %v (%T), want 3", fields["version"], fields["version"])
	}
	if entries[0].ContextMap()["table"] != "tasks" {
		t.Errorf("table field = %v, want tasks", entries[0].ContextMap()["table"])
	}
}

func TestZapLoggerRespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := NewZapLoggerFromSugar(zap.New(core).Sugar())

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")

	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry at warn level, got %d", logs.Len())
	}
	if logs.All()[0].Message != "kept" {
		t.Errorf("message = %q, want kept", logs.All()[0].Message)
	}
}

func TestNewZapLoggerFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"console debug", "debug", "console", false},
		{"default format", "warn", "", false},
		{"bad level", "loud", "json", true},
		{"bad format", "info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewZapLoggerFromConfig(tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewZapLoggerFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			logger.Info("configured", "level", tt.level)
			_ = logger.Sync()
		})
	}
}

func TestNewProductionAndDevelopmentZapLogger(t *testing.T) {
	prod, err := NewProductionZapLogger()
	if err != nil {
		t.Fatalf("failed to create production logger: %v", err)
	}
	prod.Info("production", "ok", true)
	_ = prod.Sync()

	dev, err := NewDevelopmentZapLogger()
	if err != nil {
		t.Fatalf("failed to create development logger: %v", err)
	}
	dev.Debug("development", "ok", true)
	_ = dev.Sync()
}
