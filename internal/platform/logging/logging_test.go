package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	log, err := New("verbose", "shows")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !log.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info level to be enabled")
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be disabled")
	}
}

func TestNew_DebugLevel(t *testing.T) {
	log, err := New(" DEBUG ", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
}

func TestStdLog_NilLogger(t *testing.T) {
	if StdLog(nil, "cron") == nil {
		t.Fatal("expected non-nil std logger")
	}
}
