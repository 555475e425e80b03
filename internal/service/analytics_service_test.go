package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"havosec-api/internal/models"
	"havosec-api/internal/repository"
	"havosec-api/internal/repository/memory"
)

var fixedNow = time.Date(2025, 3, 14, 12, 30, 0, 0, time.UTC)

func mkEvent(id string, et models.EventType, sev models.Severity, st models.EventStatus, ip string, at time.Time) *models.SecurityEvent {
	return &models.SecurityEvent{
		ID:          id,
		EventType:   et,
		Severity:    sev,
		Status:      st,
		Source:      models.EventSource{IP: ip},
		Description: "event " + id,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func newAnalytics(t *testing.T, events ...*models.SecurityEvent) *AnalyticsService {
	t.Helper()
	store := memory.NewEventStore()
	if len(events) > 0 {
		require.NoError(t, store.InsertEvents(context.Background(), events))
	}
	return NewAnalyticsService(store,
		StaticMonitoring{Uptime: 99.87, ResponseTime: 0.85},
		zaptest.NewLogger(t),
		WithClock(func() time.Time { return fixedNow }))
}

func TestOverview_FirstWeekTrendGuardsZeroDivision(t *testing.T) {
	svc := newAnalytics(t,
		mkEvent("a", models.EventTypeAttackBlocked, models.SeverityCritical, models.StatusBlocked, "1.1.1.1", fixedNow.Add(-time.Hour)),
		mkEvent("b", models.EventTypeMalwareDetected, models.SeverityCritical, models.StatusDetected, "1.1.1.1", fixedNow.Add(-2*day)),
		mkEvent("c", models.EventTypeSystemAlert, models.SeverityLow, models.StatusDetected, "", fixedNow.Add(-6*day)),
	)

	got, err := svc.Overview(context.Background())
	require.NoError(t, err)

	stats := got.Overview
	assert.Equal(t, int64(3), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.Events24h)
	assert.Equal(t, int64(3), stats.Events7d)
	assert.Equal(t, int64(2), stats.CriticalEvents)
	assert.Equal(t, int64(1), stats.BlockedAttacks)
	assert.Equal(t, 99.87, stats.SystemUptime)
	assert.Equal(t, Trend{Direction: TrendIncrease, Percentage: 0}, stats.Trends)
	assert.Equal(t, fixedNow, got.LastUpdated)
}

func TestOverview_WindowsAreNested(t *testing.T) {
	var events []*models.SecurityEvent
	for i := 0; i < 40; i++ {
		at := fixedNow.Add(-time.Duration(i) * 9 * time.Hour)
		events = append(events, mkEvent(fmt.Sprintf("e%d", i), models.EventTypeIntrusionAttempt, models.SeverityMedium, models.StatusDetected, "", at))
	}
	svc := newAnalytics(t, events...)

	got, err := svc.Overview(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, got.Overview.Events24h, got.Overview.Events7d)
	assert.LessOrEqual(t, got.Overview.Events7d, got.Overview.TotalEvents)
}

func TestOverview_TrendDecrease(t *testing.T) {
	svc := newAnalytics(t,
		mkEvent("cur", models.EventTypeAttackBlocked, models.SeverityLow, models.StatusDetected, "", fixedNow.Add(-day)),
		mkEvent("p1", models.EventTypeAttackBlocked, models.SeverityLow, models.StatusDetected, "", fixedNow.Add(-8*day)),
		mkEvent("p2", models.EventTypeAttackBlocked, models.SeverityLow, models.StatusDetected, "", fixedNow.Add(-9*day)),
		mkEvent("p3", models.EventTypeAttackBlocked, models.SeverityLow, models.StatusDetected, "", fixedNow.Add(-13*day)),
		// outside both windows
		mkEvent("old", models.EventTypeAttackBlocked, models.SeverityLow, models.StatusDetected, "", fixedNow.Add(-20*day)),
	)

	got, err := svc.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TrendDecrease, got.Overview.Trends.Direction)
	assert.Equal(t, 66.67, got.Overview.Trends.Percentage)
}

func TestComputeTrend(t *testing.T) {
	assert.Equal(t, Trend{Direction: TrendDecrease}, computeTrend(0, 0))
	assert.Equal(t, Trend{Direction: TrendDecrease}, computeTrend(4, 4))
	assert.Equal(t, Trend{Direction: TrendIncrease, Percentage: 50}, computeTrend(6, 4))
	assert.Equal(t, Trend{Direction: TrendDecrease, Percentage: 100}, computeTrend(0, 3))
}

func TestAttackInsights_SeverityExample(t *testing.T) {
	svc := newAnalytics(t,
		mkEvent("1", models.EventTypeAttackBlocked, models.SeverityCritical, models.StatusBlocked, "10.0.0.1", fixedNow.Add(-time.Hour)),
		mkEvent("2", models.EventTypeAttackBlocked, models.SeverityLow, models.StatusBlocked, "10.0.0.2", fixedNow.Add(-2*day)),
		mkEvent("3", models.EventTypeDDoSMitigated, models.SeverityCritical, models.StatusResolved, "10.0.0.1", fixedNow.Add(-3*day)),
	)

	got, err := svc.AttackInsights(context.Background(), "7d")
	require.NoError(t, err)

	assert.Equal(t, "7d", got.Period)
	assert.Equal(t, []SeverityCount{
		{Severity: models.SeverityCritical, Count: 2},
		{Severity: models.SeverityLow, Count: 1},
	}, got.EventsBySeverity)
	assert.Equal(t, []EventTypeCount{
		{EventType: models.EventTypeAttackBlocked, Count: 2},
		{EventType: models.EventTypeDDoSMitigated, Count: 1},
	}, got.EventsByType)
	assert.Equal(t, []SourceIPCount{
		{IP: "10.0.0.1", Count: 2},
		{IP: "10.0.0.2", Count: 1},
	}, got.TopSourceIPs)

	require.Len(t, got.Timeline, 3)
	for i := 1; i < len(got.Timeline); i++ {
		assert.True(t, got.Timeline[i-1].Bucket.Before(got.Timeline[i].Bucket))
	}
	assert.Nil(t, got.Timeline[0].Bucket.Hour)
}

func TestAttackInsights_UnknownPeriodFallsBackToWeek(t *testing.T) {
	svc := newAnalytics(t)
	got, err := svc.AttackInsights(context.Background(), "1y")
	require.NoError(t, err)
	assert.Equal(t, DefaultPeriod, got.Period)
	assert.Empty(t, got.EventsByType)
	assert.Empty(t, got.Timeline)
}

func TestAttackInsights_HourlyBucketsFor24h(t *testing.T) {
	svc := newAnalytics(t,
		mkEvent("a", models.EventTypeSystemAlert, models.SeverityLow, models.StatusDetected, "", fixedNow.Add(-10*time.Minute)),
		mkEvent("b", models.EventTypeSystemAlert, models.SeverityLow, models.StatusDetected, "", fixedNow.Add(-20*time.Minute)),
		mkEvent("c", models.EventTypeSystemAlert, models.SeverityLow, models.StatusDetected, "", fixedNow.Add(-5*time.Hour)),
		mkEvent("old", models.EventTypeSystemAlert, models.SeverityLow, models.StatusDetected, "", fixedNow.Add(-2*day)),
	)

	got, err := svc.AttackInsights(context.Background(), "24h")
	require.NoError(t, err)
	require.Len(t, got.Timeline, 2)

	first, last := got.Timeline[0], got.Timeline[1]
	require.NotNil(t, first.Bucket.Hour)
	assert.Equal(t, 7, *first.Bucket.Hour)
	assert.Equal(t, int64(1), first.Count)
	assert.Equal(t, 12, *last.Bucket.Hour)
	assert.Equal(t, int64(2), last.Count)
	// sources without ip never reach the top list
	assert.Empty(t, got.TopSourceIPs)
}

func TestAttackInsights_TopSourceIPsCappedAtTen(t *testing.T) {
	var events []*models.SecurityEvent
	for i := 0; i < 15; i++ {
		ip := fmt.Sprintf("192.168.0.%d", i)
		for j := 0; j <= i%3; j++ {
			events = append(events, mkEvent(fmt.Sprintf("%d-%d", i, j), models.EventTypeAttackBlocked, models.SeverityHigh, models.StatusBlocked, ip, fixedNow.Add(-time.Duration(i+1)*time.Hour)))
		}
	}
	svc := newAnalytics(t, events...)

	got, err := svc.AttackInsights(context.Background(), "7d")
	require.NoError(t, err)
	require.Len(t, got.TopSourceIPs, topSourceIPLimit)
	for i := 1; i < len(got.TopSourceIPs); i++ {
		assert.GreaterOrEqual(t, got.TopSourceIPs[i-1].Count, got.TopSourceIPs[i].Count)
	}
	// ties keep first-seen order
	assert.Equal(t, "192.168.0.2", got.TopSourceIPs[0].IP)
	assert.Equal(t, "192.168.0.5", got.TopSourceIPs[1].IP)
}

func TestDefenseMetrics_Example(t *testing.T) {
	var events []*models.SecurityEvent
	statuses := []models.EventStatus{
		models.StatusBlocked, models.StatusBlocked, models.StatusBlocked,
		models.StatusBlocked, models.StatusBlocked, models.StatusBlocked,
		models.StatusResolved, models.StatusResolved,
		models.StatusDetected, models.StatusDetected,
	}
	for i, st := range statuses {
		events = append(events, mkEvent(fmt.Sprintf("d%d", i), models.EventTypeAttackBlocked, models.SeverityHigh, st, "", fixedNow.Add(-time.Duration(i+1)*time.Hour)))
	}
	svc := newAnalytics(t, events...)

	got, err := svc.DefenseMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60.0, got.BlockingEfficiency)
	assert.Equal(t, 80.0, got.MitigationEfficiency)
	assert.Equal(t, 70.0, got.SecurityScore)
	assert.Equal(t, int64(6), got.TotalBlocked)
	assert.Equal(t, int64(8), got.TotalMitigated)
	assert.Equal(t, int64(10), got.TotalDetected)
	assert.Equal(t, 0.85, got.AverageResponseTime)
}

func TestDefenseMetrics_NoEvents(t *testing.T) {
	svc := newAnalytics(t,
		mkEvent("old", models.EventTypeAttackBlocked, models.SeverityHigh, models.StatusBlocked, "", fixedNow.Add(-8*day)))

	got, err := svc.DefenseMetrics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, got.BlockingEfficiency)
	assert.Zero(t, got.MitigationEfficiency)
	assert.Zero(t, got.SecurityScore)
	assert.Zero(t, got.TotalDetected)
}

func TestDefenseMetrics_ScoreUsesUnroundedRatios(t *testing.T) {
	// 1/3 blocked, 2/3 mitigated: 33.333.. and 66.666.. average to exactly 50
	svc := newAnalytics(t,
		mkEvent("1", models.EventTypeAttackBlocked, models.SeverityHigh, models.StatusBlocked, "", fixedNow.Add(-time.Hour)),
		mkEvent("2", models.EventTypeAttackBlocked, models.SeverityHigh, models.StatusResolved, "", fixedNow.Add(-time.Hour)),
		mkEvent("3", models.EventTypeAttackBlocked, models.SeverityHigh, models.StatusInvestigating, "", fixedNow.Add(-time.Hour)),
	)

	got, err := svc.DefenseMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 33.33, got.BlockingEfficiency)
	assert.Equal(t, 66.67, got.MitigationEfficiency)
	assert.Equal(t, 50.0, got.SecurityScore)
	assert.LessOrEqual(t, got.BlockingEfficiency, got.MitigationEfficiency)
}

func TestDefenseMetrics_ScoreRoundedOnce(t *testing.T) {
	// 1/7 and 3/7: the unrounded mean 28.5714.. rounds to 28.57, while the
	// mean of the displayed 14.29 and 42.86 would give 28.58.
	statuses := []models.EventStatus{
		models.StatusBlocked, models.StatusResolved, models.StatusResolved,
		models.StatusDetected, models.StatusDetected, models.StatusInvestigating, models.StatusFalsePositive,
	}
	events := make([]*models.SecurityEvent, 0, len(statuses))
	for i, st := range statuses {
		events = append(events, mkEvent(fmt.Sprintf("e%d", i), models.EventTypeAttackBlocked, models.SeverityLow, st, "", fixedNow.Add(-time.Hour)))
	}
	svc := newAnalytics(t, events...)

	got, err := svc.DefenseMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 14.29, got.BlockingEfficiency)
	assert.Equal(t, 42.86, got.MitigationEfficiency)
	assert.Equal(t, 28.57, got.SecurityScore)
}

func twentyFiveEvents() []*models.SecurityEvent {
	events := make([]*models.SecurityEvent, 0, 25)
	for i := 0; i < 25; i++ {
		events = append(events, mkEvent(fmt.Sprintf("log-%02d", i), models.EventTypeVulnerabilityScan, models.SeverityMedium, models.StatusDetected, "", fixedNow.Add(-time.Duration(i)*time.Minute)))
	}
	return events
}

func TestActivityLogs_SecondPage(t *testing.T) {
	svc := newAnalytics(t, twentyFiveEvents()...)

	got, err := svc.ActivityLogs(context.Background(), 2, 10, LogFilters{})
	require.NoError(t, err)

	require.Len(t, got.ActivityLogs, 10)
	assert.Equal(t, "log-10", got.ActivityLogs[0].ID)
	assert.Equal(t, "log-19", got.ActivityLogs[9].ID)
	assert.Equal(t, Pagination{
		CurrentPage: 2,
		TotalPages:  3,
		TotalLogs:   25,
		HasNextPage: true,
		HasPrevPage: true,
	}, got.Pagination)
}

func TestActivityLogs_PastLastPageIsEmpty(t *testing.T) {
	svc := newAnalytics(t, twentyFiveEvents()...)

	got, err := svc.ActivityLogs(context.Background(), 4, 10, LogFilters{})
	require.NoError(t, err)
	assert.NotNil(t, got.ActivityLogs)
	assert.Empty(t, got.ActivityLogs)
	assert.False(t, got.Pagination.HasNextPage)
	assert.True(t, got.Pagination.HasPrevPage)
}

func TestActivityLogs_Filters(t *testing.T) {
	start := fixedNow.Add(-3 * day)
	end := fixedNow.Add(-day)
	svc := newAnalytics(t,
		mkEvent("in", models.EventTypeMalwareDetected, models.SeverityHigh, models.StatusDetected, "", start),
		mkEvent("at-end", models.EventTypeMalwareDetected, models.SeverityHigh, models.StatusDetected, "", end),
		mkEvent("wrong-sev", models.EventTypeMalwareDetected, models.SeverityLow, models.StatusDetected, "", fixedNow.Add(-2*day)),
		mkEvent("wrong-type", models.EventTypePhishingBlocked, models.SeverityHigh, models.StatusDetected, "", fixedNow.Add(-2*day)),
	)

	got, err := svc.ActivityLogs(context.Background(), 1, 50, LogFilters{
		EventType: string(models.EventTypeMalwareDetected),
		Severity:  string(models.SeverityHigh),
		StartDate: &start,
		EndDate:   &end,
	})
	require.NoError(t, err)
	require.Len(t, got.ActivityLogs, 1)
	assert.Equal(t, "in", got.ActivityLogs[0].ID)
	assert.Equal(t, int64(1), got.Pagination.TotalLogs)
}

func TestActivityLogs_InvalidArguments(t *testing.T) {
	svc := newAnalytics(t)
	start := fixedNow
	end := fixedNow.Add(-time.Hour)

	cases := map[string]struct {
		page, size int
		filters    LogFilters
	}{
		"zero page":           {0, 10, LogFilters{}},
		"negative size":       {1, -1, LogFilters{}},
		"unknown severity":    {1, 10, LogFilters{Severity: "urgent"}},
		"unknown type":        {1, 10, LogFilters{EventType: "worm"}},
		"inverted date range": {1, 10, LogFilters{StartDate: &start, EndDate: &end}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ActivityLogs(context.Background(), tc.page, tc.size, tc.filters)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestActivityLogs_ClampsPageSize(t *testing.T) {
	svc := newAnalytics(t, twentyFiveEvents()...)

	got, err := svc.ActivityLogs(context.Background(), 1, MaxPageSize+1, LogFilters{})
	require.NoError(t, err)
	assert.Len(t, got.ActivityLogs, 25)
	assert.Equal(t, 1, got.Pagination.TotalPages)
	assert.False(t, got.Pagination.HasNextPage)
}

func TestActivityLogs_EqualDatesIsEmptyRange(t *testing.T) {
	at := fixedNow.Add(-time.Minute)
	svc := newAnalytics(t, twentyFiveEvents()...)

	got, err := svc.ActivityLogs(context.Background(), 1, 10, LogFilters{StartDate: &at, EndDate: &at})
	require.NoError(t, err)
	assert.Empty(t, got.ActivityLogs)
	assert.Equal(t, int64(0), got.Pagination.TotalLogs)
	assert.Equal(t, 0, got.Pagination.TotalPages)
}

func TestExportLogs_DefaultsAndCap(t *testing.T) {
	store := memory.NewEventStore()
	require.NoError(t, store.InsertEvents(context.Background(), twentyFiveEvents()))
	svc := NewAnalyticsService(store, StaticMonitoring{}, zaptest.NewLogger(t),
		WithClock(func() time.Time { return fixedNow }),
		WithExportLimit(5))

	got, err := svc.ExportLogs(context.Background(), "", LogFilters{})
	require.NoError(t, err)
	assert.Equal(t, ExportFormatJSON, got.Format)
	assert.Equal(t, fixedNow, got.ExportedAt)
	require.Len(t, got.Logs, 5)
	// newest five
	assert.Equal(t, "log-00", got.Logs[0].ID)
	assert.Equal(t, "log-04", got.Logs[4].ID)
}

func TestExportLogs_RejectsUnknownFormat(t *testing.T) {
	svc := newAnalytics(t)
	_, err := svc.ExportLogs(context.Background(), "xml", LogFilters{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

type failingReader struct {
	repository.EventReader
}

func (failingReader) CountEvents(context.Context, repository.EventFilter) (int64, error) {
	return 0, errors.New("connection reset")
}

func (failingReader) GroupCount(context.Context, repository.EventFilter, repository.GroupKey) ([]repository.GroupCount, error) {
	return nil, errors.New("connection reset")
}

func TestStoreFailuresSurface(t *testing.T) {
	svc := NewAnalyticsService(failingReader{}, StaticMonitoring{}, zaptest.NewLogger(t))

	_, err := svc.Overview(context.Background())
	assert.ErrorContains(t, err, "failed to count events")

	_, err = svc.AttackInsights(context.Background(), "30d")
	assert.ErrorContains(t, err, "connection reset")

	_, err = svc.DefenseMetrics(context.Background())
	assert.Error(t, err)
}
