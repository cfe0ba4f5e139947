package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("debug", "console")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}

	logger, err = New("WARN", "json")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info should be disabled at warn level")
	}
}

func TestNewRejectsInvalidInput(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatal("expected error for invalid format")
	}
}
