package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/deadletter"
	"pulse/pkg/migrations"
	"pulse/pkg/models"
)

func newDeadLetter(reason string, failedAt time.Time) models.DeadLetter {
	eventID := uuid.New()
	return models.DeadLetter{
		Message: models.QueueMessage{
			ID:         eventID.String(),
			EnqueuedAt: failedAt.Add(-time.Minute),
			Event: models.Event{
				EventID:    eventID,
				UserID:     "user-1",
				EventType:  "purchase",
				OccurredAt: failedAt.Add(-time.Hour),
			},
			Delivery: models.DeliveryInfo{
				Attempt:   5,
				LastError: "store write failed",
			},
		},
		Reason:      reason,
		SourceTopic: "events.raw",
		FailedAt:    failedAt,
	}
}

func TestDeadLetterRepository_Archive(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)

	ctx := context.Background()
	require.NoError(t, migrations.EnsureDeadLetterIndexes(ctx, infra.MongoDB))

	repo := deadletter.NewRepository(infra.MongoDB)

	dl := newDeadLetter("max_attempts_exhausted", time.Now().UTC())
	require.NoError(t, repo.Archive(ctx, dl))

	docs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, dl.Message.ID, doc.EventID)
	assert.Equal(t, "max_attempts_exhausted", doc.Reason)
	assert.Equal(t, "events.raw", doc.SourceTopic)
	assert.Equal(t, 5, doc.Attempt)
	assert.Equal(t, "store write failed", doc.LastError)
	require.NotNil(t, doc.Message)
	assert.Equal(t, dl.Message.Event.EventID, doc.Message.Event.EventID)
	assert.False(t, doc.ArchivedAt.IsZero())
}

func TestDeadLetterRepository_Archive_UndecodablePayload(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)

	ctx := context.Background()
	repo := deadletter.NewRepository(infra.MongoDB)

	// A payload that never decoded carries no envelope, only raw bytes.
	dl := models.DeadLetter{
		RawPayload:  []byte(`{"not":"a queue message`),
		Reason:      "undecodable_payload",
		SourceTopic: "events.raw",
		FailedAt:    time.Now().UTC(),
	}
	require.NoError(t, repo.Archive(ctx, dl))

	docs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Nil(t, docs[0].Message)
	assert.Equal(t, dl.RawPayload, docs[0].RawPayload)
}

func TestDeadLetterRepository_List_SortedByFailureTime(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)

	ctx := context.Background()
	repo := deadletter.NewRepository(infra.MongoDB)

	base := time.Now().UTC().Truncate(time.Second)
	oldest := newDeadLetter("first", base.Add(-2*time.Hour))
	middle := newDeadLetter("second", base.Add(-time.Hour))
	newest := newDeadLetter("third", base)

	require.NoError(t, repo.Archive(ctx, oldest))
	require.NoError(t, repo.Archive(ctx, newest))
	require.NoError(t, repo.Archive(ctx, middle))

	docs, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "third", docs[0].Reason)
	assert.Equal(t, "second", docs[1].Reason)
}
