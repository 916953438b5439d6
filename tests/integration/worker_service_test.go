package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/broker"
	"pulse/internal/storage"
	"pulse/internal/worker"
	"pulse/pkg/models"
)

func queueMessage(event models.Event) models.QueueMessage {
	return models.QueueMessage{
		ID:         event.EventID.String(),
		EnqueuedAt: time.Now().UTC(),
		Event:      event,
	}
}

func TestWorkerService_StoresAndAcks(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	store := storage.NewRepository(infra.PostgresDB)
	svc := worker.NewService(store, createTestLogger())

	event := newEvent("user-1", "signup", time.Now().UTC().Add(-time.Hour))

	disposition, err := svc.Handle(ctx, queueMessage(event))
	require.NoError(t, err)
	assert.Equal(t, broker.Ack, disposition)

	count, err := store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWorkerService_RedeliveryAcksWithoutSecondRow(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	store := storage.NewRepository(infra.PostgresDB)
	svc := worker.NewService(store, createTestLogger())

	event := newEvent("user-1", "purchase", time.Now().UTC().Add(-time.Hour))
	msg := queueMessage(event)

	first, err := svc.Handle(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, broker.Ack, first)

	redelivered := msg
	redelivered.Delivery.Attempt = 2

	second, err := svc.Handle(ctx, redelivered)
	require.NoError(t, err)
	assert.Equal(t, broker.Ack, second)

	count, err := store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWorkerService_OversizedColumnTerminates(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	store := storage.NewRepository(infra.PostgresDB)
	svc := worker.NewService(store, createTestLogger())

	event := newEvent("user-1", "signup", time.Now().UTC().Add(-time.Hour))
	event.EventID = uuid.New()
	for len(event.UserID) <= 255 {
		event.UserID += event.UserID
	}

	disposition, err := svc.Handle(ctx, queueMessage(event))
	require.Error(t, err)
	assert.Equal(t, broker.Terminate, disposition)

	count, err := store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
