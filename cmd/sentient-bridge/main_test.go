package main

import (
	"context"
	"testing"
	"time"

	"github.com/AaronLay10/SentientBridge/internal/bridge"
	"github.com/AaronLay10/SentientBridge/internal/eventloop"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-c", "/etc/bridge.yaml", "--script", "run.yaml", "--api-port", "9000", "--no-api"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.configPath != "/etc/bridge.yaml" || opts.scriptPath != "run.yaml" {
		t.Errorf("unexpected paths %+v", opts)
	}
	if opts.apiPort != 9000 || !opts.noAPI || opts.noPostgres {
		t.Errorf("unexpected flags %+v", opts)
	}

	opts, err = parseFlags(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.configPath != "bridge.yaml" {
		t.Errorf("expected default config path, got %s", opts.configPath)
	}

	if _, err := parseFlags([]string{"extra"}); err == nil {
		t.Error("expected error for positional argument")
	}
	if _, err := parseFlags([]string{"--bogus"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		state bridge.State
		want  int
	}{
		{bridge.StateDone, 0},
		{bridge.StateAborted, 1},
		{bridge.StateIdle, 1},
	}
	for _, tt := range tests {
		if got := exitCode(tt.state); got != tt.want {
			t.Errorf("exitCode(%s) = %d, want %d", tt.state, got, tt.want)
		}
	}
}

// neverExits is a session whose target keeps running.
type neverExits struct{}

func (neverExits) OnExit(func(int)) {}

// suspendedRun returns a bridge parked on a wait-exit that never fires.
func suspendedRun(t *testing.T) *bridge.Commands {
	t.Helper()
	loop := eventloop.New()
	t.Cleanup(loop.Stop)

	bc := bridge.New("cli-test", loop)
	bc.AddWaitExit(neverExits{})
	bc.AddExecute(nil)
	if err := bc.Start(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for bc.State() != bridge.StateSuspended {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for suspension, state %s", bc.State())
		}
		time.Sleep(time.Millisecond)
	}
	return bc
}

func awaitAsync(ctx context.Context, bc *bridge.Commands) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		awaitRun(ctx, bc)
		close(done)
	}()
	return done
}

func TestAwaitRun_ReturnsAfterStop(t *testing.T) {
	bc := suspendedRun(t)
	done := awaitAsync(context.Background(), bc)

	bc.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("awaitRun did not return after Stop")
	}
	if exitCode(bc.State()) != 1 {
		t.Errorf("expected exit code 1 for a stopped run, got %d", exitCode(bc.State()))
	}
}

func TestAwaitRun_CancelStopsRun(t *testing.T) {
	bc := suspendedRun(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := awaitAsync(ctx, bc)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("awaitRun did not return after cancel")
	}
	if bc.State() != bridge.StateIdle {
		t.Errorf("expected idle, got %s", bc.State())
	}
}

func TestAwaitRun_ReturnsWhenFinished(t *testing.T) {
	loop := eventloop.New()
	defer loop.Stop()

	bc := bridge.New("cli-test", loop)
	bc.AddExecute(nil)
	if err := bc.Start(); err != nil {
		t.Fatal(err)
	}

	done := awaitAsync(context.Background(), bc)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("awaitRun did not return after the run finished")
	}
	if bc.State() != bridge.StateDone {
		t.Errorf("expected done, got %s", bc.State())
	}
}
