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

// Run owns an HTTP server that only stops when Shutdown is called, so the
// shutdown path must be reachable while the errgroup is still waiting. The
// consumer points at a dead broker; its fetch loop exits on cancellation.
func TestRun_ReturnsOnContextCancel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Broker.Kafka.Brokers = []string{"127.0.0.1:1"}

	app := NewApp(cfg, logger.NopLogger())
	app.consumer = broker.NewDeadLetterConsumer(cfg.Broker.Kafka, logger.NopLogger())
	app.server = &http.Server{Addr: "127.0.0.1:0"}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
