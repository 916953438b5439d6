package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulse/internal/broker"
	"pulse/internal/config"
	"pulse/internal/logger"
)

type blockingConsumer struct{}

func (blockingConsumer) Consume(ctx context.Context, topic string, handler broker.HandlerFunc) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingConsumer) Close() error { return nil }

func (blockingConsumer) SetServiceName(string) {}

// Run owns an HTTP server that only stops when Shutdown is called, so the
// shutdown path must be reachable while the errgroup is still waiting.
func TestRun_ReturnsOnContextCancel(t *testing.T) {
	app := NewApp(&config.Config{}, logger.NopLogger())
	app.Consumer = blockingConsumer{}
	app.server = &http.Server{Addr: "127.0.0.1:0"}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
