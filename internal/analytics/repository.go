package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository answers aggregation queries directly against the event store.
// All ranges are half-open [from, to): callers convert inclusive date bounds
// by adding one day to the upper bound.
type Repository interface {
	DAU(ctx context.Context, from, to time.Time) (map[string]int64, error)
	TopEvents(ctx context.Context, from, to time.Time, limit int) ([]TopEvent, error)
	EventTypeCountsByDay(ctx context.Context, from, to time.Time) (map[string][]TopEvent, error)
	CohortSize(ctx context.Context, cohortDay time.Time) (int64, error)
	RetainedCount(ctx context.Context, cohortDay, windowStart, windowEnd time.Time) (int64, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) DAU(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	query := `
		SELECT occurred_at::date AS day, COUNT(DISTINCT user_id)
		FROM events
		WHERE occurred_at >= $1 AND occurred_at < $2
		GROUP BY day
		ORDER BY day
	`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query dau: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var day time.Time
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("failed to scan dau row: %w", err)
		}
		result[day.Format("2006-01-02")] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dau rows error: %w", err)
	}

	return result, nil
}

// TopEvents ranks event types by occurrence count over the whole range. Ties
// break lexically on event_type so equal counts order deterministically.
func (r *PostgresRepository) TopEvents(ctx context.Context, from, to time.Time, limit int) ([]TopEvent, error) {
	query := `
		SELECT event_type, COUNT(*) AS cnt
		FROM events
		WHERE occurred_at >= $1 AND occurred_at < $2
		GROUP BY event_type
		ORDER BY cnt DESC, event_type ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top events: %w", err)
	}
	defer rows.Close()

	return scanTopEvents(rows)
}

// EventTypeCountsByDay feeds the rollup refresher: per-day per-type counts
// keyed by day string.
func (r *PostgresRepository) EventTypeCountsByDay(ctx context.Context, from, to time.Time) (map[string][]TopEvent, error) {
	query := `
		SELECT occurred_at::date AS day, event_type, COUNT(*) AS cnt
		FROM events
		WHERE occurred_at >= $1 AND occurred_at < $2
		GROUP BY day, event_type
		ORDER BY day, event_type
	`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query event type counts: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]TopEvent)
	for rows.Next() {
		var day time.Time
		var te TopEvent
		if err := rows.Scan(&day, &te.EventType, &te.Count); err != nil {
			return nil, fmt.Errorf("failed to scan event type count row: %w", err)
		}
		key := day.Format("2006-01-02")
		result[key] = append(result[key], te)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event type count rows error: %w", err)
	}

	return result, nil
}

// CohortSize counts users whose earliest event across the whole store falls
// on cohortDay. Users first seen on any other day never qualify, even if
// active on cohortDay.
func (r *PostgresRepository) CohortSize(ctx context.Context, cohortDay time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM (
			SELECT user_id
			FROM events
			GROUP BY user_id
			HAVING MIN(occurred_at) >= $1 AND MIN(occurred_at) < $2
		) cohort
	`

	var count int64
	err := r.db.QueryRowContext(ctx, query, cohortDay, cohortDay.AddDate(0, 0, 1)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to query cohort size: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) RetainedCount(ctx context.Context, cohortDay, windowStart, windowEnd time.Time) (int64, error) {
	query := `
		WITH cohort AS (
			SELECT user_id
			FROM events
			GROUP BY user_id
			HAVING MIN(occurred_at) >= $1 AND MIN(occurred_at) < $2
		)
		SELECT COUNT(DISTINCT e.user_id)
		FROM events e
		JOIN cohort c ON c.user_id = e.user_id
		WHERE e.occurred_at >= $3 AND e.occurred_at < $4
	`

	var count int64
	err := r.db.QueryRowContext(ctx, query,
		cohortDay, cohortDay.AddDate(0, 0, 1),
		windowStart, windowEnd,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to query retained count: %w", err)
	}
	return count, nil
}

func scanTopEvents(rows *sql.Rows) ([]TopEvent, error) {
	var events []TopEvent
	for rows.Next() {
		var te TopEvent
		if err := rows.Scan(&te.EventType, &te.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top event row: %w", err)
		}
		events = append(events, te)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("top event rows error: %w", err)
	}
	return events, nil
}
