package ingestion

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/config"
	"pulse/internal/logger"
	pkgerrors "pulse/pkg/errors"
	"pulse/pkg/models"
)

type fakeRepository struct {
	entries map[string]bool
	deleted []string
	err     error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{entries: make(map[string]bool)}
}

func (f *fakeRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.entries[key] {
		return false, nil
	}
	f.entries[key] = true
	return true, nil
}

func (f *fakeRepository) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.entries, key)
		f.deleted = append(f.deleted, key)
	}
	return nil
}

func (f *fakeRepository) GetCacheSize(ctx context.Context, prefix string) (int, error) {
	return len(f.entries), nil
}

type fakeProducer struct {
	published   []models.QueueMessage
	deadLetters []models.DeadLetter
	err         error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, msgs ...models.QueueMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msgs...)
	return nil
}

func (f *fakeProducer) PublishDeadLetter(ctx context.Context, topic string, dl models.DeadLetter) error {
	f.deadLetters = append(f.deadLetters, dl)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

type fakeStore struct {
	count int64
}

func (f *fakeStore) InsertEvent(ctx context.Context, event *models.Event) error { return nil }

func (f *fakeStore) CountEvents(ctx context.Context) (int64, error) { return f.count, nil }

func newTestService(repo Repository, producer *fakeProducer, cfg config.IngestionConfig) *Service {
	svc := NewService(repo, producer, &fakeStore{count: 42}, cfg, "events.test", logger.NopLogger())
	svc.StopCacheMetricsUpdater()
	return svc
}

func candidates(n int) []models.EventCandidate {
	out := make([]models.EventCandidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.EventCandidate{
			EventID:    uuid.New().String(),
			UserID:     fmt.Sprintf("user-%d", i),
			EventType:  "signup",
			OccurredAt: time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
		})
	}
	return out
}

func TestIngestBatch_AllAdmitted(t *testing.T) {
	producer := &fakeProducer{}
	svc := newTestService(newFakeRepository(), producer, config.IngestionConfig{})

	batch := models.IngestionBatch{Events: candidates(3)}
	result, err := svc.IngestBatch(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Admitted)
	assert.Equal(t, 0, result.Duplicates)
	assert.Equal(t, 0, result.Invalid)
	assert.Equal(t, len(batch.Events), result.Total())
	assert.Len(t, producer.published, 3)

	for _, c := range batch.Events {
		assert.Equal(t, models.DispositionAdmitted, result.Dispositions[c.EventID])
	}
}

func TestIngestBatch_ResubmissionIsDuplicate(t *testing.T) {
	repo := newFakeRepository()
	producer := &fakeProducer{}
	svc := newTestService(repo, producer, config.IngestionConfig{})

	batch := models.IngestionBatch{Events: candidates(2)}

	first, err := svc.IngestBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Admitted)

	second, err := svc.IngestBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Admitted)
	assert.Equal(t, 2, second.Duplicates)
	for _, c := range batch.Events {
		assert.Equal(t, models.DispositionDuplicate, second.Dispositions[c.EventID])
	}

	// Only the first submission reached the queue.
	assert.Len(t, producer.published, 2)
}

func TestIngestBatch_DuplicateWithinBatch(t *testing.T) {
	producer := &fakeProducer{}
	svc := newTestService(newFakeRepository(), producer, config.IngestionConfig{})

	events := candidates(1)
	events = append(events, events[0])

	result, err := svc.IngestBatch(context.Background(), models.IngestionBatch{Events: events})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Admitted)
	assert.Equal(t, 1, result.Duplicates)
	assert.Len(t, producer.published, 1)
}

func TestIngestBatch_MixedDispositionsSumToBatchSize(t *testing.T) {
	producer := &fakeProducer{}
	svc := newTestService(newFakeRepository(), producer, config.IngestionConfig{})

	events := candidates(2)
	events = append(events, models.EventCandidate{
		EventID:   "not-a-uuid",
		UserID:    "user-x",
		EventType: "signup",
	})
	events = append(events, events[0])

	result, err := svc.IngestBatch(context.Background(), models.IngestionBatch{Events: events})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Admitted)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.Invalid)
	assert.Equal(t, len(events), result.Total())
}

func TestIngestBatch_EmptyBatchRejected(t *testing.T) {
	svc := newTestService(newFakeRepository(), &fakeProducer{}, config.IngestionConfig{})

	_, err := svc.IngestBatch(context.Background(), models.IngestionBatch{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestIngestBatch_OversizedBatchRejected(t *testing.T) {
	svc := newTestService(newFakeRepository(), &fakeProducer{}, config.IngestionConfig{MaxBatchSize: 2})

	_, err := svc.IngestBatch(context.Background(), models.IngestionBatch{Events: candidates(3)})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestIngestBatch_PublishFailureReleasesCacheKeys(t *testing.T) {
	repo := newFakeRepository()
	producer := &fakeProducer{err: errors.New("kafka down")}
	svc := newTestService(repo, producer, config.IngestionConfig{})

	batch := models.IngestionBatch{Events: candidates(3)}
	_, err := svc.IngestBatch(context.Background(), batch)
	require.Error(t, err)

	var appErr *pkgerrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, pkgerrors.ErrServiceUnavailable.Code, appErr.Code)
	assert.True(t, appErr.IsRetryable())

	// The marks set during this batch were rolled back, so resubmitting the
	// same batch is not misclassified as duplicate.
	assert.Len(t, repo.deleted, 3)
	assert.Empty(t, repo.entries)

	producer.err = nil
	result, err := svc.IngestBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Admitted)
}

func TestIngestBatch_CacheErrorFallbackAllow(t *testing.T) {
	repo := newFakeRepository()
	repo.err = errors.New("redis down")
	producer := &fakeProducer{}
	svc := newTestService(repo, producer, config.IngestionConfig{OnRedisError: "allow"})

	result, err := svc.IngestBatch(context.Background(), models.IngestionBatch{Events: candidates(2)})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Admitted)
	assert.Len(t, producer.published, 2)
}

func TestIngestBatch_CacheErrorFallbackDeny(t *testing.T) {
	repo := newFakeRepository()
	repo.err = errors.New("redis down")
	svc := newTestService(repo, &fakeProducer{}, config.IngestionConfig{OnRedisError: "deny"})

	_, err := svc.IngestBatch(context.Background(), models.IngestionBatch{Events: candidates(1)})
	require.Error(t, err)

	var appErr *pkgerrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, pkgerrors.ErrServiceUnavailable.Code, appErr.Code)
}

func TestCountEvents(t *testing.T) {
	svc := newTestService(newFakeRepository(), &fakeProducer{}, config.IngestionConfig{})

	count, err := svc.CountEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}
