package run

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.uber.org/zap"
)

func TestWithSignals_CleanExit(t *testing.T) {
	r := New(zap.NewNop())
	hookCalled := false
	code := r.WithSignals(func(ctx context.Context) error {
		return http.ErrServerClosed
	}, func(context.Context) error {
		hookCalled = true
		return nil
	})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !hookCalled {
		t.Fatal("expected shutdown hook to run")
	}
}

func TestWithSignals_ErrorExit(t *testing.T) {
	r := New(zap.NewNop())
	code := r.WithSignals(func(ctx context.Context) error {
		return errors.New("listen failed")
	}, func(context.Context) error {
		return errors.New("hook failed")
	})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}
