package deadletter

import (
	"context"

	"pulse/internal/constants"
	"pulse/internal/logger"
	"pulse/pkg/metrics"
	"pulse/pkg/models"
)

// Service archives terminated messages for offline inspection. It never
// reprocesses them.
type Service struct {
	repo   Repository
	logger logger.Logger
}

func NewService(repo Repository, log logger.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: log,
	}
}

func (s *Service) Archive(ctx context.Context, dl models.DeadLetter) error {
	if err := s.repo.Archive(ctx, dl); err != nil {
		return err
	}

	metrics.DeadLettersArchivedTotal.Inc()
	s.logger.InfowCtx(ctx, "Dead letter archived",
		"event_id", dl.Message.ID,
		"reason", dl.Reason,
		"source_topic", dl.SourceTopic,
	)
	return nil
}

// List returns archived dead letters, most recent failures first. The limit
// is clamped so a single request cannot drain the whole collection.
func (s *Service) List(ctx context.Context, limit int64) ([]Document, error) {
	if limit <= 0 {
		limit = constants.DefaultDeadLetterListLimit
	}
	if limit > constants.MaxDeadLetterListLimit {
		limit = constants.MaxDeadLetterListLimit
	}
	return s.repo.List(ctx, limit)
}
