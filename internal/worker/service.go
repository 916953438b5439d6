package worker

import (
	"context"
	"errors"
	"time"

	"pulse/internal/broker"
	"pulse/internal/constants"
	"pulse/internal/logger"
	"pulse/internal/storage"
	pkgerrors "pulse/pkg/errors"
	"pulse/pkg/metrics"
	"pulse/pkg/models"
)

// Service consumes admitted events from the queue and writes them to the
// event store. The store's uniqueness constraint makes the write idempotent,
// so at-least-once delivery upstream is safe.
type Service struct {
	store        storage.Repository
	logger       logger.Logger
	writeTimeout time.Duration
}

func NewService(store storage.Repository, log logger.Logger) *Service {
	return &Service{
		store:        store,
		logger:       log,
		writeTimeout: constants.DefaultStoreWriteTimeout,
	}
}

// Handle resolves one delivered message. Duplicates acknowledge silently,
// permanent data errors terminate to the dead-letter topic, and transient
// store failures ask for redelivery.
func (s *Service) Handle(ctx context.Context, msg models.QueueMessage) (broker.Disposition, error) {
	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	event := msg.Event
	start := time.Now()
	err := s.store.InsertEvent(writeCtx, &event)
	duration := time.Since(start)

	if err == nil {
		metrics.ObserveStoreWrite(duration, "stored")
		metrics.EventsStoredTotal.WithLabelValues(event.EventType).Inc()
		s.logger.DebugwCtx(ctx, "Event stored",
			"event_id", event.EventID,
			"event_type", event.EventType,
		)
		return broker.Ack, nil
	}

	if errors.Is(err, storage.ErrDuplicateEvent) {
		// Redelivery or a dedup cache miss upstream. The row already exists,
		// so the delivery outcome is the same as a successful write.
		metrics.ObserveStoreWrite(duration, "duplicate")
		metrics.EventsAlreadyStoredTotal.Inc()
		s.logger.DebugwCtx(ctx, "Event already stored, acknowledging",
			"event_id", event.EventID,
		)
		return broker.Ack, nil
	}

	metrics.ObserveStoreWrite(duration, "error")

	if isPermanent(err) {
		s.logger.ErrorwCtx(ctx, "Permanent store failure, terminating message",
			"event_id", event.EventID,
			"error", err,
		)
		return broker.Terminate, err
	}

	// Everything else is treated as transient. The attempt budget bounds how
	// long a persistent unknown failure can loop before dead-lettering.
	s.logger.WarnwCtx(ctx, "Store failure, requesting redelivery",
		"event_id", event.EventID,
		"attempt", msg.Delivery.Attempt,
		"error", err,
	)
	return broker.Retry, err
}

func isPermanent(err error) bool {
	if pkgerrors.IsValidation(err) {
		return true
	}
	var fatalErr pkgerrors.FatalError
	return errors.As(err, &fatalErr) && fatalErr.IsFatal()
}
