package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"pulse/internal/config"
	"pulse/internal/constants"
	"pulse/internal/logger"
	"pulse/internal/storage"
	"pulse/pkg/models"
)

const (
	containerStartupTimeout = 60
	testTopic               = "events.test"
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestIngestionConfig() config.IngestionConfig {
	return config.IngestionConfig{
		MaxBatchSize:    100,
		DedupTTLSeconds: 300,
		OnRedisError:    constants.FallbackAllow,
	}
}

func newCandidate(userID, eventType string, occurredAt time.Time) models.EventCandidate {
	return models.EventCandidate{
		EventID:    uuid.New().String(),
		UserID:     userID,
		EventType:  eventType,
		OccurredAt: occurredAt.Format(time.RFC3339),
	}
}

func newEvent(userID, eventType string, occurredAt time.Time) models.Event {
	return models.Event{
		EventID:    uuid.New(),
		UserID:     userID,
		EventType:  eventType,
		OccurredAt: occurredAt,
		Properties: map[string]interface{}{"source": "test"},
	}
}

// seedEvents writes events straight into the store, bypassing the pipeline.
func seedEvents(t *testing.T, repo *storage.PostgresRepository, events ...models.Event) {
	t.Helper()

	ctx := context.Background()
	for i := range events {
		require.NoError(t, repo.InsertEvent(ctx, &events[i]))
	}
}

func day(t *testing.T, s string) time.Time {
	t.Helper()

	d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	require.NoError(t, err)
	return d
}

func at(t *testing.T, s string) time.Time {
	t.Helper()

	ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	require.NoError(t, err)
	return ts
}
