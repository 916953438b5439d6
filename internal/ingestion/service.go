package ingestion

import (
	"context"
	"fmt"
	"time"

	"pulse/internal/broker"
	"pulse/internal/config"
	"pulse/internal/constants"
	"pulse/internal/logger"
	"pulse/internal/storage"
	pkgerrors "pulse/pkg/errors"
	"pulse/pkg/metrics"
	"pulse/pkg/models"
)

// Service is the admission path. It classifies every candidate in a batch as
// admitted, duplicate or invalid, using only validation and the dedup cache,
// and publishes all admitted events in a single all-or-nothing queue write.
// Its answer means "accepted for processing", not "persisted".
type Service struct {
	repo             Repository
	producer         broker.Producer
	store            storage.Repository
	validator        *Validator
	cfg              config.IngestionConfig
	topic            string
	logger           logger.Logger
	cancelMetricsCtx context.CancelFunc
}

func NewService(
	repo Repository,
	producer broker.Producer,
	store storage.Repository,
	cfg config.IngestionConfig,
	topic string,
	log logger.Logger,
) *Service {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = constants.DefaultMaxBatchSize
	}
	if cfg.DedupTTLSeconds <= 0 {
		cfg.DedupTTLSeconds = constants.DefaultDedupTTLSeconds
	}
	if topic == "" {
		topic = constants.DefaultEventsTopic
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		repo:             repo,
		producer:         producer,
		store:            store,
		validator:        NewValidator(cfg.MaxPropertiesBytes),
		cfg:              cfg,
		topic:            topic,
		logger:           log,
		cancelMetricsCtx: cancel,
	}

	go s.updateCacheSizeMetrics(ctx)

	return s
}

// IngestBatch classifies every candidate and publishes the admitted ones.
// Publication is all-or-nothing: on queue failure no event from this batch is
// admitted and the cache marks set here are released so a retry of the same
// batch is not misclassified as duplicate.
func (s *Service) IngestBatch(ctx context.Context, batch models.IngestionBatch) (*models.IngestionResult, error) {
	start := time.Now()

	if len(batch.Events) == 0 {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "batch must contain at least one event")
	}
	if len(batch.Events) > s.cfg.MaxBatchSize {
		return nil, pkgerrors.ErrValidation.WithDetail("message",
			fmt.Sprintf("batch size %d exceeds maximum %d", len(batch.Events), s.cfg.MaxBatchSize))
	}

	result := &models.IngestionResult{
		Dispositions: make(map[string]string, len(batch.Events)),
	}

	ttl := time.Duration(s.cfg.DedupTTLSeconds) * time.Second
	admitted := make([]models.QueueMessage, 0, len(batch.Events))
	setKeys := make([]string, 0, len(batch.Events))

	for i, candidate := range batch.Events {
		dispositionKey := candidate.EventID
		if dispositionKey == "" {
			dispositionKey = fmt.Sprintf("#%d", i)
		}

		eventType := candidate.EventType
		if eventType == "" {
			eventType = "unknown"
		}
		metrics.EventsReceivedTotal.WithLabelValues(eventType).Inc()

		event, verr := s.validator.Validate(candidate)
		if verr != nil {
			result.Dispositions[dispositionKey] = models.DispositionInvalid
			result.Invalid++
			metrics.EventsInvalidTotal.WithLabelValues(verr.Reason).Inc()
			s.logger.DebugwCtx(ctx, "Event rejected as invalid",
				"event_id", candidate.EventID,
				"reason", verr.Reason,
			)
			continue
		}

		dedupKey := constants.CacheKeyPrefixDedup + event.EventID.String()
		checkStart := time.Now()
		unique, err := s.repo.SetNX(ctx, dedupKey, time.Now().Unix(), ttl)
		checkDuration := time.Since(checkStart)

		if err != nil {
			metrics.ObserveDedupCheck(checkDuration, "error")
			if s.cfg.OnRedisError == constants.FallbackDeny {
				metrics.FallbackUsageTotal.WithLabelValues("ingestion", "deny_on_error", "cache_unavailable").Inc()
				s.releaseCacheKeys(ctx, setKeys)
				return nil, pkgerrors.ErrServiceUnavailable.
					WithCause(err).
					WithDetail("message", "deduplication cache unavailable").
					AsRetryable()
			}

			// Fallback allow: admit without a cache mark. A true duplicate is
			// still caught by the store's uniqueness constraint.
			metrics.FallbackUsageTotal.WithLabelValues("ingestion", "allow_on_error", "cache_unavailable").Inc()
			s.logger.WarnwCtx(ctx, "Dedup cache error, admitting event without cache mark",
				"event_id", event.EventID,
				"error", err,
			)
		} else {
			metrics.ObserveDedupCheck(checkDuration, dedupStatus(unique))
			if !unique {
				result.Dispositions[dispositionKey] = models.DispositionDuplicate
				result.Duplicates++
				metrics.EventsDuplicateTotal.Inc()
				continue
			}
			setKeys = append(setKeys, dedupKey)
		}

		result.Dispositions[dispositionKey] = models.DispositionAdmitted
		result.Admitted++
		admitted = append(admitted, models.QueueMessage{
			ID:         event.EventID.String(),
			EnqueuedAt: time.Now().UTC(),
			Event:      *event,
		})
	}

	if len(admitted) > 0 {
		if err := s.producer.Publish(ctx, s.topic, admitted...); err != nil {
			s.releaseCacheKeys(ctx, setKeys)
			return nil, pkgerrors.ErrServiceUnavailable.
				WithCause(err).
				WithDetail("message", "event queue unavailable, batch not admitted").
				AsRetryable()
		}
		metrics.EventsAdmittedTotal.Add(float64(len(admitted)))
	}

	metrics.IngestionDuration.Observe(float64(time.Since(start).Milliseconds()))

	s.logger.InfowCtx(ctx, "Batch ingested",
		"batch_size", len(batch.Events),
		"admitted", result.Admitted,
		"duplicates", result.Duplicates,
		"invalid", result.Invalid,
	)

	return result, nil
}

// CountEvents reports the total number of durably stored events.
func (s *Service) CountEvents(ctx context.Context) (int64, error) {
	return s.store.CountEvents(ctx)
}

// releaseCacheKeys undoes the marks set during a failed batch. Best effort:
// a leftover mark only causes a spurious duplicate classification until the
// TTL expires, and the store constraint keeps correctness either way.
func (s *Service) releaseCacheKeys(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}

	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := s.repo.Delete(delCtx, keys...); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to release dedup cache keys after aborted batch",
			"keys", len(keys),
			"error", err,
		)
	}
}

func dedupStatus(unique bool) string {
	if unique {
		return "unique"
	}
	return "duplicate"
}

func (s *Service) updateCacheSizeMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			size, err := s.repo.GetCacheSize(ctx, constants.CacheKeyPrefixDedup)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Debugw("Failed to get dedup cache size for metrics",
					"error", err,
				)
				continue
			}
			metrics.SetDedupCacheSize(size)
		case <-ctx.Done():
			return
		}
	}
}

// StopCacheMetricsUpdater stops the background cache metrics goroutine.
func (s *Service) StopCacheMetricsUpdater() {
	if s.cancelMetricsCtx != nil {
		s.cancelMetricsCtx()
	}
}
