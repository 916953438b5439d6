package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/storage"
	pkgerrors "pulse/pkg/errors"
)

func TestStorageRepository_InsertEvent(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	repo := storage.NewRepository(infra.PostgresDB)

	event := newEvent("user-1", "signup", time.Now().UTC().Add(-time.Hour))

	err := repo.InsertEvent(ctx, &event)
	require.NoError(t, err)
	assert.False(t, event.ReceivedAt.IsZero(), "received_at should be set by the store")

	count, err := repo.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStorageRepository_InsertEvent_Redelivery(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	repo := storage.NewRepository(infra.PostgresDB)

	event := newEvent("user-1", "purchase", time.Now().UTC().Add(-time.Hour))
	require.NoError(t, repo.InsertEvent(ctx, &event))

	// Same event_id delivered again must not produce a second row.
	redelivered := event
	err := repo.InsertEvent(ctx, &redelivered)
	require.ErrorIs(t, err, storage.ErrDuplicateEvent)

	count, err := repo.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStorageRepository_InsertEvent_SameUserDifferentIDs(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	repo := storage.NewRepository(infra.PostgresDB)

	first := newEvent("user-1", "page_view", time.Now().UTC().Add(-2*time.Hour))
	second := newEvent("user-1", "page_view", time.Now().UTC().Add(-time.Hour))

	require.NoError(t, repo.InsertEvent(ctx, &first))
	require.NoError(t, repo.InsertEvent(ctx, &second))

	count, err := repo.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStorageRepository_InsertEvent_OversizedColumnIsFatal(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	repo := storage.NewRepository(infra.PostgresDB)

	event := newEvent("user-1", "signup", time.Now().UTC().Add(-time.Hour))
	for len(event.UserID) <= 255 {
		event.UserID += event.UserID
	}

	err := repo.InsertEvent(ctx, &event)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))

	var fatalErr pkgerrors.FatalError
	require.ErrorAs(t, err, &fatalErr)
	assert.True(t, fatalErr.IsFatal(), "column overflow cannot succeed on retry")
}

func TestStorageRepository_InsertEvent_ContextCancellation(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := storage.NewRepository(infra.PostgresDB)
	event := newEvent("user-1", "signup", time.Now().UTC().Add(-time.Hour))

	err := repo.InsertEvent(ctx, &event)
	require.Error(t, err)
}
