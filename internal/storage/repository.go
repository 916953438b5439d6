package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	pkgerrors "pulse/pkg/errors"
	"pulse/pkg/models"
)

// ErrDuplicateEvent reports that a row with the same event_id already exists.
// The write is idempotent, so callers treat this as success for delivery
// purposes.
var ErrDuplicateEvent = errors.New("event already stored")

type Repository interface {
	InsertEvent(ctx context.Context, event *models.Event) error
	CountEvents(ctx context.Context) (int64, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// InsertEvent persists the event exactly once. The unique constraint on
// event_id is the single source of truth for idempotence: a conflicting
// insert writes nothing and returns ErrDuplicateEvent.
func (r *PostgresRepository) InsertEvent(ctx context.Context, event *models.Event) error {
	propertiesJSON, err := json.Marshal(event.Properties)
	if err != nil {
		return pkgerrors.ErrValidation.
			WithCause(err).
			WithDetail("message", fmt.Sprintf("event %s has unencodable properties", event.EventID))
	}

	query := `
		INSERT INTO events (event_id, user_id, event_type, occurred_at, properties, received_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (event_id) DO NOTHING
		RETURNING received_at
	`

	var receivedAt time.Time
	err = r.db.QueryRowContext(ctx, query,
		event.EventID, event.UserID, event.EventType,
		event.OccurredAt, propertiesJSON,
	).Scan(&receivedAt)

	if errors.Is(err, sql.ErrNoRows) {
		// Conflict path: the row already existed and nothing was written.
		return ErrDuplicateEvent
	}
	if err != nil {
		return classifyWriteError(err, event.EventID.String())
	}

	event.ReceivedAt = receivedAt
	return nil
}

func (r *PostgresRepository) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// classifyWriteError splits insert failures into permanent data errors, which
// must not be retried, and transient ones, which may.
func classifyWriteError(err error, eventID string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == "23505":
			// Unique violation surfaced as an error rather than a silent
			// conflict; still a duplicate.
			return ErrDuplicateEvent
		case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"):
			// Data exception or other constraint violation. Retrying the same
			// payload can never succeed.
			return pkgerrors.ErrValidation.
				WithCause(err).
				WithDetail("message", fmt.Sprintf("event %s rejected by the store: %s", eventID, pqErr.Message)).
				AsFatal()
		}
	}

	return pkgerrors.ErrServiceUnavailable.
		WithCause(err).
		WithDetail("message", fmt.Sprintf("store write failed for event %s", eventID)).
		AsRetryable()
}
