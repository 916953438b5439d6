package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RollupRepository reads and writes the derived per-day summary tables. The
// tables are recomputable from the event store alone; nothing here owns any
// correctness invariant.
type RollupRepository interface {
	UpsertDAU(ctx context.Context, day time.Time, distinctUsers int64) error
	ReplaceEventTypeCounts(ctx context.Context, day time.Time, counts []TopEvent) error
	CoveredDays(ctx context.Context, from, to time.Time) (int, error)
	DAU(ctx context.Context, from, to time.Time) (map[string]int64, error)
	TopEvents(ctx context.Context, from, to time.Time, limit int) ([]TopEvent, error)
}

type PostgresRollupRepository struct {
	db *sql.DB
}

func NewRollupRepository(db *sql.DB) *PostgresRollupRepository {
	return &PostgresRollupRepository{db: db}
}

func (r *PostgresRollupRepository) UpsertDAU(ctx context.Context, day time.Time, distinctUsers int64) error {
	query := `
		INSERT INTO daily_active_users (day, distinct_user_count, refreshed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (day) DO UPDATE
		SET distinct_user_count = EXCLUDED.distinct_user_count,
		    refreshed_at = EXCLUDED.refreshed_at
	`

	if _, err := r.db.ExecContext(ctx, query, day, distinctUsers); err != nil {
		return fmt.Errorf("failed to upsert dau rollup: %w", err)
	}
	return nil
}

// ReplaceEventTypeCounts swaps the whole day's rows in one transaction so a
// reader never sees a half-refreshed day.
func (r *PostgresRollupRepository) ReplaceEventTypeCounts(ctx context.Context, day time.Time, counts []TopEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rollup transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_type_counts WHERE day = $1`, day); err != nil {
		return fmt.Errorf("failed to clear event type counts: %w", err)
	}

	insert := `
		INSERT INTO event_type_counts (day, event_type, count, refreshed_at)
		VALUES ($1, $2, $3, NOW())
	`
	for _, te := range counts {
		if _, err := tx.ExecContext(ctx, insert, day, te.EventType, te.Count); err != nil {
			return fmt.Errorf("failed to insert event type count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollup transaction: %w", err)
	}
	return nil
}

// CoveredDays reports how many distinct days in [from, to) have a DAU rollup
// row. The refresher writes a row even for empty days, so full coverage means
// every day in range was refreshed at least once.
func (r *PostgresRollupRepository) CoveredDays(ctx context.Context, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM daily_active_users
		WHERE day >= $1 AND day < $2
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to query rollup coverage: %w", err)
	}
	return count, nil
}

func (r *PostgresRollupRepository) DAU(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	query := `
		SELECT day, distinct_user_count
		FROM daily_active_users
		WHERE day >= $1 AND day < $2
		ORDER BY day
	`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query dau rollup: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var day time.Time
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("failed to scan dau rollup row: %w", err)
		}
		result[day.Format("2006-01-02")] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dau rollup rows error: %w", err)
	}

	return result, nil
}

func (r *PostgresRollupRepository) TopEvents(ctx context.Context, from, to time.Time, limit int) ([]TopEvent, error) {
	query := `
		SELECT event_type, SUM(count) AS cnt
		FROM event_type_counts
		WHERE day >= $1 AND day < $2
		GROUP BY event_type
		ORDER BY cnt DESC, event_type ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top events rollup: %w", err)
	}
	defer rows.Close()

	return scanTopEvents(rows)
}
