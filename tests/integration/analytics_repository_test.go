package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/analytics"
	"pulse/internal/config"
	"pulse/internal/storage"
)

func TestAnalyticsRepository_DAU(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	store := storage.NewRepository(infra.PostgresDB)
	repo := analytics.NewRepository(infra.PostgresDB)

	seedEvents(t, store,
		newEvent("user-1", "page_view", at(t, "2025-03-01 10:00:00")),
		newEvent("user-1", "purchase", at(t, "2025-03-01 11:00:00")),
		newEvent("user-2", "page_view", at(t, "2025-03-01 12:00:00")),
		newEvent("user-3", "page_view", at(t, "2025-03-03 09:00:00")),
	)

	counts, err := repo.DAU(ctx, day(t, "2025-03-01"), day(t, "2025-03-04"))
	require.NoError(t, err)

	// user-1 is active twice on the 1st but counts once.
	assert.Equal(t, int64(2), counts["2025-03-01"])
	assert.NotContains(t, counts, "2025-03-02")
	assert.Equal(t, int64(1), counts["2025-03-03"])
}

func TestAnalyticsRepository_TopEvents_LexicalTieBreak(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	store := storage.NewRepository(infra.PostgresDB)
	repo := analytics.NewRepository(infra.PostgresDB)

	seedEvents(t, store,
		newEvent("user-1", "view", at(t, "2025-03-01 10:00:00")),
		newEvent("user-2", "view", at(t, "2025-03-01 10:01:00")),
		newEvent("user-1", "click", at(t, "2025-03-01 10:02:00")),
		newEvent("user-2", "click", at(t, "2025-03-01 10:03:00")),
		newEvent("user-1", "purchase", at(t, "2025-03-01 10:04:00")),
	)

	events, err := repo.TopEvents(ctx, day(t, "2025-03-01"), day(t, "2025-03-02"), 10)
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, analytics.TopEvent{EventType: "click", Count: 2}, events[0])
	assert.Equal(t, analytics.TopEvent{EventType: "view", Count: 2}, events[1])
	assert.Equal(t, analytics.TopEvent{EventType: "purchase", Count: 1}, events[2])
}

func TestAnalyticsRepository_TopEvents_LimitTruncates(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	store := storage.NewRepository(infra.PostgresDB)
	repo := analytics.NewRepository(infra.PostgresDB)

	seedEvents(t, store,
		newEvent("user-1", "a_event", at(t, "2025-03-01 10:00:00")),
		newEvent("user-1", "b_event", at(t, "2025-03-01 10:01:00")),
		newEvent("user-1", "c_event", at(t, "2025-03-01 10:02:00")),
	)

	events, err := repo.TopEvents(ctx, day(t, "2025-03-01"), day(t, "2025-03-02"), 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a_event", events[0].EventType)
	assert.Equal(t, "b_event", events[1].EventType)
}

func TestAnalyticsRepository_Retention(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	store := storage.NewRepository(infra.PostgresDB)
	repo := analytics.NewRepository(infra.PostgresDB)

	// user-1 and user-2 first appear on the 1st. user-3 first appears on the
	// 2nd, so activity on the 1st's follow-up days must not count them.
	seedEvents(t, store,
		newEvent("user-1", "signup", at(t, "2025-03-01 10:00:00")),
		newEvent("user-2", "signup", at(t, "2025-03-01 11:00:00")),
		newEvent("user-3", "signup", at(t, "2025-03-02 09:00:00")),
		newEvent("user-1", "page_view", at(t, "2025-03-02 10:00:00")),
		newEvent("user-3", "page_view", at(t, "2025-03-03 10:00:00")),
		newEvent("user-2", "page_view", at(t, "2025-03-03 11:00:00")),
	)

	cohortDay := day(t, "2025-03-01")

	size, err := repo.CohortSize(ctx, cohortDay)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	window1, err := repo.RetainedCount(ctx, cohortDay, day(t, "2025-03-02"), day(t, "2025-03-03"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), window1, "only user-1 returned on day 1")

	window2, err := repo.RetainedCount(ctx, cohortDay, day(t, "2025-03-03"), day(t, "2025-03-04"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), window2, "only user-2 returned on day 2; user-3 is in a later cohort")
}

func TestAnalyticsRepository_CohortExcludesEarlierUsers(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	store := storage.NewRepository(infra.PostgresDB)
	repo := analytics.NewRepository(infra.PostgresDB)

	// user-1's first event predates the cohort day, so being active on the
	// cohort day does not admit them.
	seedEvents(t, store,
		newEvent("user-1", "signup", at(t, "2025-02-20 10:00:00")),
		newEvent("user-1", "page_view", at(t, "2025-03-01 10:00:00")),
		newEvent("user-2", "signup", at(t, "2025-03-01 11:00:00")),
	)

	size, err := repo.CohortSize(ctx, day(t, "2025-03-01"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestRollupRefresher_AgreesWithRawQueries(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	store := storage.NewRepository(infra.PostgresDB)
	raw := analytics.NewRepository(infra.PostgresDB)
	rollup := analytics.NewRollupRepository(infra.PostgresDB)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	yesterday := today.AddDate(0, 0, -1)

	seedEvents(t, store,
		newEvent("user-1", "page_view", yesterday.Add(10*time.Hour)),
		newEvent("user-2", "page_view", yesterday.Add(11*time.Hour)),
		newEvent("user-1", "purchase", today.Add(2*time.Hour)),
	)

	refresher := analytics.NewRefresher(raw, rollup, config.RollupConfig{
		IntervalSeconds: 3600,
		LookbackDays:    7,
	}, createTestLogger())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go refresher.Run(runCtx)

	require.Eventually(t, func() bool {
		covered, err := rollup.CoveredDays(ctx, yesterday, today.AddDate(0, 0, 1))
		return err == nil && covered >= 2
	}, 10*time.Second, 100*time.Millisecond, "refresher should cover the seeded days")

	svc := analytics.NewService(raw, rollup, createTestLogger())

	fromRollup, err := svc.DAU(ctx, yesterday, today)
	require.NoError(t, err)
	assert.Equal(t, analytics.SourceRollup, fromRollup.Source,
		"refreshed range should be served from rollups")

	rawSvc := analytics.NewService(raw, nil, createTestLogger())
	fromRaw, err := rawSvc.DAU(ctx, yesterday, today)
	require.NoError(t, err)

	assert.Equal(t, fromRaw.Days, fromRollup.Days, "rollup and raw answers must agree")

	topRollup, err := svc.TopEvents(ctx, yesterday, today, 10)
	require.NoError(t, err)
	topRaw, err := rawSvc.TopEvents(ctx, yesterday, today, 10)
	require.NoError(t, err)
	assert.Equal(t, topRaw.Events, topRollup.Events)
}

func TestRollupCoverage_PartialRangeFallsBackToRaw(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	store := storage.NewRepository(infra.PostgresDB)
	raw := analytics.NewRepository(infra.PostgresDB)
	rollup := analytics.NewRollupRepository(infra.PostgresDB)

	seedEvents(t, store,
		newEvent("user-1", "page_view", at(t, "2025-03-01 10:00:00")),
		newEvent("user-2", "page_view", at(t, "2025-03-02 10:00:00")),
	)

	// Only one of the two days has a rollup row.
	require.NoError(t, rollup.UpsertDAU(ctx, day(t, "2025-03-01"), 1))

	svc := analytics.NewService(raw, rollup, createTestLogger())

	result, err := svc.DAU(ctx, day(t, "2025-03-01"), day(t, "2025-03-02"))
	require.NoError(t, err)
	assert.Equal(t, analytics.SourceRaw, result.Source)
	assert.Equal(t, int64(1), result.Days[0].DistinctUsers)
	assert.Equal(t, int64(1), result.Days[1].DistinctUsers)
}
