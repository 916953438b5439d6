package analytics

import (
	"context"
	"time"

	"pulse/internal/logger"
	"pulse/pkg/metrics"
)

// Service answers the three aggregation queries. DAU and top-events may be
// served from rollups when every day in range is covered; otherwise they fall
// back to the raw store. Retention always reads raw because the cohort is
// defined by each user's first event across the whole store.
type Service struct {
	raw    Repository
	rollup RollupRepository
	logger logger.Logger
}

// NewService wires the query paths. rollup may be nil, which disables the
// rollup fast path entirely.
func NewService(raw Repository, rollup RollupRepository, log logger.Logger) *Service {
	return &Service{
		raw:    raw,
		rollup: rollup,
		logger: log,
	}
}

// DAU returns a point for every day in the inclusive [from, to] range, zero
// for days without events.
func (s *Service) DAU(ctx context.Context, from, to time.Time) (*DAUResponse, error) {
	start := time.Now()
	upper := to.AddDate(0, 0, 1)
	days := daysBetween(from, upper)

	source := SourceRaw
	var counts map[string]int64
	var err error

	if s.rollupCovers(ctx, from, upper, days) {
		counts, err = s.rollup.DAU(ctx, from, upper)
		source = SourceRollup
	} else {
		counts, err = s.raw.DAU(ctx, from, upper)
	}
	if err != nil {
		return nil, err
	}

	points := make([]DAUPoint, 0, days)
	for day := from; day.Before(upper); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		points = append(points, DAUPoint{Day: key, DistinctUsers: counts[key]})
	}

	metrics.ObserveQuery("dau", source, time.Since(start))

	return &DAUResponse{
		From:   from.Format("2006-01-02"),
		To:     to.Format("2006-01-02"),
		Days:   points,
		Source: source,
	}, nil
}

// TopEvents ranks event types over the inclusive range, count descending with
// lexical tie-break, truncated to limit.
func (s *Service) TopEvents(ctx context.Context, from, to time.Time, limit int) (*TopEventsResponse, error) {
	start := time.Now()
	upper := to.AddDate(0, 0, 1)
	days := daysBetween(from, upper)

	source := SourceRaw
	var events []TopEvent
	var err error

	if s.rollupCovers(ctx, from, upper, days) {
		events, err = s.rollup.TopEvents(ctx, from, upper, limit)
		source = SourceRollup
	} else {
		events, err = s.raw.TopEvents(ctx, from, upper, limit)
	}
	if err != nil {
		return nil, err
	}

	if events == nil {
		events = []TopEvent{}
	}

	metrics.ObserveQuery("top_events", source, time.Since(start))

	return &TopEventsResponse{
		From:   from.Format("2006-01-02"),
		To:     to.Format("2006-01-02"),
		Limit:  limit,
		Events: events,
		Source: source,
	}, nil
}

// Retention computes windows 0..windows for the cohort of users whose
// first-ever event fell on startDate. Window w spans
// [start + w*period, start + (w+1)*period). Window 0 is the cohort period
// itself and is reported as fully retained.
func (s *Service) Retention(ctx context.Context, startDate time.Time, windows int, windowType string) (*RetentionResponse, error) {
	start := time.Now()

	periodDays := 1
	if windowType == WindowTypeWeekly {
		periodDays = 7
	}

	cohortSize, err := s.raw.CohortSize(ctx, startDate)
	if err != nil {
		return nil, err
	}

	result := make([]RetentionWindow, 0, windows+1)

	window0 := RetentionWindow{Window: 0, RetainedUsers: cohortSize}
	if cohortSize > 0 {
		window0.Rate = 1.0
	}
	result = append(result, window0)

	for w := 1; w <= windows; w++ {
		rw := RetentionWindow{Window: w}

		if cohortSize > 0 {
			windowStart := startDate.AddDate(0, 0, w*periodDays)
			windowEnd := startDate.AddDate(0, 0, (w+1)*periodDays)

			retained, err := s.raw.RetainedCount(ctx, startDate, windowStart, windowEnd)
			if err != nil {
				return nil, err
			}

			rw.RetainedUsers = retained
			rw.Rate = float64(retained) / float64(cohortSize)
		}

		result = append(result, rw)
	}

	metrics.ObserveQuery("retention", SourceRaw, time.Since(start))

	return &RetentionResponse{
		StartDate:  startDate.Format("2006-01-02"),
		WindowType: windowType,
		CohortSize: cohortSize,
		Windows:    result,
	}, nil
}

// rollupCovers reports whether every day in [from, upper) has been rolled up.
// Coverage failures degrade to raw queries, never to errors.
func (s *Service) rollupCovers(ctx context.Context, from, upper time.Time, days int) bool {
	if s.rollup == nil {
		return false
	}

	covered, err := s.rollup.CoveredDays(ctx, from, upper)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Rollup coverage check failed, serving from raw store",
			"error", err,
		)
		return false
	}

	return covered >= days
}

func daysBetween(from, upper time.Time) int {
	return int(upper.Sub(from).Hours() / 24)
}
