package server

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunReturnsInitErrorForInvalidConfig(t *testing.T) {
	err := Run(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for invalid config")
	}
	if !strings.Contains(err.Error(), "init relay server") {
		t.Fatalf("error = %v, want init relay server prefix", err)
	}
}

func TestRunStartsAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, Config{HTTPAddr: "127.0.0.1:0"})
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}
