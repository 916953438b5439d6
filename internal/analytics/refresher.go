package analytics

import (
	"context"
	"time"

	"pulse/internal/config"
	"pulse/internal/constants"
	"pulse/internal/logger"
	"pulse/pkg/metrics"
)

// Refresher recomputes the trailing rollup days on a fixed interval. Rollup
// staleness is bounded by the interval plus one refresh duration.
type Refresher struct {
	raw      Repository
	rollup   RollupRepository
	cfg      config.RollupConfig
	logger   logger.Logger
	interval time.Duration
	lookback int
}

func NewRefresher(raw Repository, rollup RollupRepository, cfg config.RollupConfig, log logger.Logger) *Refresher {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Duration(constants.DefaultRollupIntervalSeconds) * time.Second
	}
	lookback := cfg.LookbackDays
	if lookback <= 0 {
		lookback = constants.DefaultRollupLookbackDays
	}

	return &Refresher{
		raw:      raw,
		rollup:   rollup,
		cfg:      cfg,
		logger:   log,
		interval: interval,
		lookback: lookback,
	}
}

// Run refreshes once immediately, then on every tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refresh(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -(r.lookback - 1))
	to := today.AddDate(0, 0, 1)

	dau, err := r.raw.DAU(ctx, from, to)
	if err != nil {
		r.fail(ctx, "dau", err)
		return
	}

	countsByDay, err := r.raw.EventTypeCountsByDay(ctx, from, to)
	if err != nil {
		r.fail(ctx, "event_type_counts", err)
		return
	}

	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")

		// A day without events still gets a DAU row: coverage checks need to
		// distinguish "refreshed, zero users" from "never rolled up".
		if err := r.rollup.UpsertDAU(ctx, day, dau[key]); err != nil {
			r.fail(ctx, "dau_upsert", err)
			return
		}

		if err := r.rollup.ReplaceEventTypeCounts(ctx, day, countsByDay[key]); err != nil {
			r.fail(ctx, "event_type_counts_replace", err)
			return
		}
	}

	metrics.RollupRefreshTotal.WithLabelValues("success").Inc()
	metrics.RollupLastRefresh.Set(float64(time.Now().Unix()))

	r.logger.DebugwCtx(ctx, "Rollups refreshed",
		"from", from.Format("2006-01-02"),
		"days", r.lookback,
	)
}

func (r *Refresher) fail(ctx context.Context, stage string, err error) {
	if ctx.Err() != nil {
		return
	}
	metrics.RollupRefreshTotal.WithLabelValues("error").Inc()
	r.logger.ErrorwCtx(ctx, "Rollup refresh failed",
		"stage", stage,
		"error", err,
	)
}
