package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"havosec-api/internal/models"
	"havosec-api/internal/repository"
	"havosec-api/internal/util"
)

const (
	day = 24 * time.Hour

	DefaultPeriod      = "7d"
	DefaultExportLimit = 10000
	MaxPageSize        = 500
	topSourceIPLimit   = 10

	TrendIncrease = "increase"
	TrendDecrease = "decrease"

	ExportFormatJSON = "json"
	ExportFormatCSV  = "csv"
)

var periods = map[string]time.Duration{
	"24h": day,
	"7d":  7 * day,
	"30d": 30 * day,
}

// Trend compares the trailing 7 days with the 7 days before them.
type Trend struct {
	Direction  string  `json:"direction"`
	Percentage float64 `json:"percentage"`
}

type OverviewStats struct {
	TotalEvents    int64   `json:"totalEvents"`
	Events24h      int64   `json:"events24h"`
	Events7d       int64   `json:"events7d"`
	CriticalEvents int64   `json:"criticalEvents"`
	BlockedAttacks int64   `json:"blockedAttacks"`
	SystemUptime   float64 `json:"systemUptime"`
	Trends         Trend   `json:"trends"`
}

type Overview struct {
	Overview    OverviewStats `json:"overview"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

type EventTypeCount struct {
	EventType models.EventType `json:"eventType"`
	Count     int64            `json:"count"`
}

type SeverityCount struct {
	Severity models.Severity `json:"severity"`
	Count    int64           `json:"count"`
}

type SourceIPCount struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

type TimelinePoint struct {
	Bucket models.TimeBucket `json:"bucket"`
	Count  int64             `json:"count"`
}

type AttackInsights struct {
	EventsByType     []EventTypeCount `json:"eventsByType"`
	EventsBySeverity []SeverityCount  `json:"eventsBySeverity"`
	TopSourceIPs     []SourceIPCount  `json:"topSourceIPs"`
	Timeline         []TimelinePoint  `json:"timeline"`
	Period           string           `json:"period"`
}

type DefenseMetrics struct {
	BlockingEfficiency   float64 `json:"blockingEfficiency"`
	MitigationEfficiency float64 `json:"mitigationEfficiency"`
	AverageResponseTime  float64 `json:"averageResponseTime"`
	TotalBlocked         int64   `json:"totalBlocked"`
	TotalMitigated       int64   `json:"totalMitigated"`
	TotalDetected        int64   `json:"totalDetected"`
	SecurityScore        float64 `json:"securityScore"`
}

// LogFilters are the optional filters shared by activity logs and export.
// StartDate is inclusive, EndDate exclusive.
type LogFilters struct {
	EventType string
	Severity  string
	StartDate *time.Time
	EndDate   *time.Time
}

type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalLogs   int64 `json:"totalLogs"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

type ActivityLogs struct {
	ActivityLogs []*models.SecurityEvent `json:"activityLogs"`
	Pagination   Pagination              `json:"pagination"`
}

type LogExport struct {
	Format     string                  `json:"-"`
	Logs       []*models.SecurityEvent `json:"logs"`
	ExportedAt time.Time               `json:"exportedAt"`
}

// AnalyticsService answers the dashboard's read-only aggregate queries.
type AnalyticsService struct {
	store       repository.EventReader
	monitoring  MonitoringProvider
	exportLimit int64
	logger      *zap.Logger
	now         func() time.Time
}

type AnalyticsOption func(*AnalyticsService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) AnalyticsOption {
	return func(s *AnalyticsService) { s.now = now }
}

func WithExportLimit(limit int) AnalyticsOption {
	return func(s *AnalyticsService) {
		if limit > 0 {
			s.exportLimit = int64(limit)
		}
	}
}

func NewAnalyticsService(store repository.EventReader, monitoring MonitoringProvider, logger *zap.Logger, opts ...AnalyticsOption) *AnalyticsService {
	s := &AnalyticsService{
		store:       store,
		monitoring:  monitoring,
		exportLimit: DefaultExportLimit,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Overview returns headline counts and the week-over-week trend.
func (s *AnalyticsService) Overview(ctx context.Context) (*Overview, error) {
	now := s.now().UTC()
	last24h := now.Add(-day)
	last7d := now.Add(-7 * day)
	prev7d := last7d.Add(-7 * day)

	var (
		stats    OverviewStats
		prevWeek int64
	)
	critical := repository.Since(last7d)
	critical.Severity = models.SeverityCritical
	blocked := repository.Since(last24h)
	blocked.Statuses = []models.EventStatus{models.StatusBlocked}

	g, gctx := errgroup.WithContext(ctx)
	s.count(gctx, g, repository.EventFilter{}, &stats.TotalEvents)
	s.count(gctx, g, repository.Since(last24h), &stats.Events24h)
	s.count(gctx, g, repository.Since(last7d), &stats.Events7d)
	s.count(gctx, g, critical, &stats.CriticalEvents)
	s.count(gctx, g, blocked, &stats.BlockedAttacks)
	s.count(gctx, g, repository.Between(prev7d, last7d), &prevWeek)
	g.Go(func() error {
		uptime, err := s.monitoring.SystemUptime(gctx)
		if err != nil {
			return fmt.Errorf("failed to read system uptime: %w", err)
		}
		stats.SystemUptime = uptime
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to build dashboard overview", util.ErrorField(err))
		return nil, err
	}

	stats.Trends = computeTrend(stats.Events7d, prevWeek)
	return &Overview{Overview: stats, LastUpdated: now}, nil
}

func (s *AnalyticsService) count(ctx context.Context, g *errgroup.Group, filter repository.EventFilter, dst *int64) {
	g.Go(func() error {
		n, err := s.store.CountEvents(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to count events: %w", err)
		}
		*dst = n
		return nil
	})
}

func computeTrend(current, previous int64) Trend {
	t := Trend{Direction: TrendDecrease}
	if current > previous {
		t.Direction = TrendIncrease
	}
	if previous > 0 {
		diff := decimal.NewFromInt(current - previous).Abs()
		t.Percentage = percent(diff, decimal.NewFromInt(previous)).Round(2).InexactFloat64()
	}
	return t
}

// NormalizePeriod maps unknown periods to the 7 day default.
func NormalizePeriod(period string) string {
	if _, ok := periods[period]; ok {
		return period
	}
	return DefaultPeriod
}

// AttackInsights groups events in the trailing period by type, severity,
// source ip and time bucket.
func (s *AnalyticsService) AttackInsights(ctx context.Context, period string) (*AttackInsights, error) {
	period = NormalizePeriod(period)
	since := s.now().UTC().Add(-periods[period])
	filter := repository.Since(since)

	bucketKey := repository.GroupByDay
	if period == "24h" {
		bucketKey = repository.GroupByHour
	}

	var byType, bySeverity, byIP, timeline []repository.GroupCount

	g, gctx := errgroup.WithContext(ctx)
	s.group(gctx, g, filter, repository.GroupByEventType, &byType)
	s.group(gctx, g, filter, repository.GroupBySeverity, &bySeverity)
	s.group(gctx, g, filter, repository.GroupBySourceIP, &byIP)
	s.group(gctx, g, filter, bucketKey, &timeline)

	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to build attack insights",
			util.String("period", period),
			util.ErrorField(err))
		return nil, err
	}

	insights := &AttackInsights{
		EventsByType:     make([]EventTypeCount, 0, len(byType)),
		EventsBySeverity: make([]SeverityCount, 0, len(bySeverity)),
		TopSourceIPs:     make([]SourceIPCount, 0, topSourceIPLimit),
		Timeline:         make([]TimelinePoint, 0, len(timeline)),
		Period:           period,
	}

	for _, gc := range sortByCountDesc(byType) {
		insights.EventsByType = append(insights.EventsByType, EventTypeCount{EventType: models.EventType(gc.Key), Count: gc.Count})
	}
	for _, gc := range sortByCountDesc(bySeverity) {
		insights.EventsBySeverity = append(insights.EventsBySeverity, SeverityCount{Severity: models.Severity(gc.Key), Count: gc.Count})
	}
	for _, gc := range sortByCountDesc(byIP) {
		if gc.Key == "" {
			continue
		}
		if len(insights.TopSourceIPs) == topSourceIPLimit {
			break
		}
		insights.TopSourceIPs = append(insights.TopSourceIPs, SourceIPCount{IP: gc.Key, Count: gc.Count})
	}

	for _, gc := range timeline {
		if gc.Bucket == nil || gc.Count == 0 {
			continue
		}
		insights.Timeline = append(insights.Timeline, TimelinePoint{Bucket: *gc.Bucket, Count: gc.Count})
	}
	sort.SliceStable(insights.Timeline, func(i, j int) bool {
		return insights.Timeline[i].Bucket.Before(insights.Timeline[j].Bucket)
	})

	return insights, nil
}

func (s *AnalyticsService) group(ctx context.Context, g *errgroup.Group, filter repository.EventFilter, key repository.GroupKey, dst *[]repository.GroupCount) {
	g.Go(func() error {
		rows, err := s.store.GroupCount(ctx, filter, key)
		if err != nil {
			return fmt.Errorf("failed to group events by %s: %w", key, err)
		}
		*dst = rows
		return nil
	})
}

// sortByCountDesc orders by count, keeping the store's order for ties.
func sortByCountDesc(rows []repository.GroupCount) []repository.GroupCount {
	out := append([]repository.GroupCount(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// DefenseMetrics reports blocking and mitigation efficiency over 7 days.
// SecurityScore is the mean of the unrounded efficiencies rounded once to
// 2dp, so it can differ by 0.01 from the mean of the displayed values.
func (s *AnalyticsService) DefenseMetrics(ctx context.Context) (*DefenseMetrics, error) {
	since := s.now().UTC().Add(-7 * day)

	blocked := repository.Since(since)
	blocked.Statuses = []models.EventStatus{models.StatusBlocked}
	mitigated := repository.Since(since)
	mitigated.Statuses = []models.EventStatus{models.StatusBlocked, models.StatusResolved}

	var m DefenseMetrics

	g, gctx := errgroup.WithContext(ctx)
	s.count(gctx, g, blocked, &m.TotalBlocked)
	s.count(gctx, g, repository.Since(since), &m.TotalDetected)
	s.count(gctx, g, mitigated, &m.TotalMitigated)
	g.Go(func() error {
		rt, err := s.monitoring.AverageResponseTime(gctx)
		if err != nil {
			return fmt.Errorf("failed to read average response time: %w", err)
		}
		m.AverageResponseTime = rt
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to build defense metrics", util.ErrorField(err))
		return nil, err
	}

	if m.TotalDetected > 0 {
		total := decimal.NewFromInt(m.TotalDetected)
		blocking := percent(decimal.NewFromInt(m.TotalBlocked), total)
		mitigation := percent(decimal.NewFromInt(m.TotalMitigated), total)

		m.BlockingEfficiency = blocking.Round(2).InexactFloat64()
		m.MitigationEfficiency = mitigation.Round(2).InexactFloat64()
		m.SecurityScore = blocking.Add(mitigation).Div(decimal.NewFromInt(2)).Round(2).InexactFloat64()
	}
	return &m, nil
}

func percent(part, whole decimal.Decimal) decimal.Decimal {
	return part.Mul(decimal.NewFromInt(100)).Div(whole)
}

func (f LogFilters) toEventFilter() (repository.EventFilter, error) {
	filter := repository.EventFilter{
		CreatedFrom:   f.StartDate,
		CreatedBefore: f.EndDate,
	}
	if f.EventType != "" {
		et := models.EventType(f.EventType)
		if !et.Valid() {
			return filter, fmt.Errorf("%w: unknown eventType %q", ErrInvalidInput, f.EventType)
		}
		filter.EventType = et
	}
	if f.Severity != "" {
		sev := models.Severity(f.Severity)
		if !sev.Valid() {
			return filter, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, f.Severity)
		}
		filter.Severity = sev
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return filter, fmt.Errorf("%w: startDate must not be after endDate", ErrInvalidInput)
	}
	return filter, nil
}

// ActivityLogs returns one page of matching events, newest first. pageSize
// is clamped to MaxPageSize.
func (s *AnalyticsService) ActivityLogs(ctx context.Context, page, pageSize int, filters LogFilters) (*ActivityLogs, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be a positive integer", ErrInvalidInput)
	}
	if pageSize < 1 {
		return nil, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidInput)
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	filter, err := filters.toEventFilter()
	if err != nil {
		return nil, err
	}

	var (
		logs  []*models.SecurityEvent
		total int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		logs, err = s.store.FindEvents(gctx, filter, repository.FindOptions{
			Skip:  int64(page-1) * int64(pageSize),
			Limit: int64(pageSize),
		})
		if err != nil {
			return fmt.Errorf("failed to load activity logs: %w", err)
		}
		return nil
	})
	s.count(gctx, g, filter, &total)

	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to load activity logs",
			util.Int("page", page),
			util.Int("limit", pageSize),
			util.ErrorField(err))
		return nil, err
	}

	if logs == nil {
		logs = []*models.SecurityEvent{}
	}
	return &ActivityLogs{
		ActivityLogs: logs,
		Pagination:   paginate(page, pageSize, total),
	}, nil
}

func paginate(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalLogs:   total,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}
}

// ExportLogs returns up to the export limit of the newest matching events.
func (s *AnalyticsService) ExportLogs(ctx context.Context, format string, filters LogFilters) (*LogExport, error) {
	if format == "" {
		format = ExportFormatJSON
	}
	if format != ExportFormatJSON && format != ExportFormatCSV {
		return nil, fmt.Errorf("%w: format must be json or csv", ErrInvalidInput)
	}

	filter, err := filters.toEventFilter()
	if err != nil {
		return nil, err
	}

	logs, err := s.store.FindEvents(ctx, filter, repository.FindOptions{Limit: s.exportLimit})
	if err != nil {
		s.logger.Error("Failed to export logs",
			util.String("format", format),
			util.ErrorField(err))
		return nil, fmt.Errorf("failed to export logs: %w", err)
	}
	if logs == nil {
		logs = []*models.SecurityEvent{}
	}

	return &LogExport{
		Format:     format,
		Logs:       logs,
		ExportedAt: s.now().UTC(),
	}, nil
}
