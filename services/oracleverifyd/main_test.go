package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oraclecheck/verify"
	"oraclecheck/whitelist"
)

func TestTickIntervalFloor(t *testing.T) {
	require.Equal(t, minTick, tickInterval(0))
	require.Equal(t, minTick, tickInterval(-time.Minute))
	require.Equal(t, minTick, tickInterval(time.Nanosecond))
	require.Equal(t, 15*time.Minute, tickInterval(15*time.Minute))
}

func TestPruneLoopToleratesTinyTTL(t *testing.T) {
	svc := verify.NewService(verify.Deps{Whitelist: whitelist.New()})
	t.Cleanup(svc.Close)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pruneLoop(ctx, svc, time.Nanosecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("prune loop did not stop")
	}
}
