package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"havosec-api/internal/models"
	"havosec-api/internal/service"
	"havosec-api/internal/util"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	dateOnlyLayout  = "2006-01-02"
)

// DashboardHandler serves the read-only dashboard aggregations
type DashboardHandler struct {
	analytics *service.AnalyticsService
	search    *service.SearchService
	health    *service.HealthService
	logger    *zap.Logger
}

func NewDashboardHandler(analytics *service.AnalyticsService, search *service.SearchService, health *service.HealthService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		analytics: analytics,
		search:    search,
		health:    health,
		logger:    logger,
	}
}

// RegisterRoutes mounts the dashboard endpoints. Callers are expected to have
// applied RequireAuth already.
func (h *DashboardHandler) RegisterRoutes(router chi.Router) {
	router.Get("/overview", h.Overview)
	router.Get("/attack-insights", h.AttackInsights)
	router.Get("/defense-metrics", h.DefenseMetrics)
	router.Get("/activity-logs", h.ActivityLogs)
	router.Get("/system-health", h.SystemHealth)
	router.Get("/search", h.Search)

	router.With(RequireRole(h.logger, string(models.ClientRoleAdmin), string(models.ClientRoleAnalyst))).
		Get("/export-logs", h.ExportLogs)
}

// Overview returns headline counts
// @Summary Dashboard overview
// @Tags dashboard
// @Produce json
// @Success 200 {object} Response
// @Failure 500 {object} Response
// @Router /dashboard/overview [get]
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	overview, err := h.analytics.Overview(r.Context())
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to load overview")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(overview, ""))
	h.logger.Debug("Overview served",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Overview"))
}

// AttackInsights returns distributions for a period
// @Summary Attack insights
// @Tags dashboard
// @Param period query string false "24h, 7d or 30d; anything else means 7d"
// @Router /dashboard/attack-insights [get]
func (h *DashboardHandler) AttackInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := h.analytics.AttackInsights(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to load attack insights")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(map[string]interface{}{"attackInsights": insights}, ""))
}

// DefenseMetrics returns blocking and mitigation efficiency over 7 days
// @Summary Defense metrics
// @Tags dashboard
// @Router /dashboard/defense-metrics [get]
func (h *DashboardHandler) DefenseMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.analytics.DefenseMetrics(r.Context())
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to load defense metrics")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(map[string]interface{}{"defenseMetrics": metrics}, ""))
}

// ActivityLogs returns a page of filtered events
// @Summary Activity logs
// @Tags dashboard
// @Param page query int false "page number, default 1"
// @Param limit query int false "page size, default 50"
// @Router /dashboard/activity-logs [get]
func (h *DashboardHandler) ActivityLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := queryInt(q.Get("page"), defaultPage)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid page")
		return
	}
	limit, err := queryInt(q.Get("limit"), defaultPageSize)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid limit")
		return
	}
	filters, err := parseLogFilters(r)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid filters")
		return
	}

	logs, err := h.analytics.ActivityLogs(r.Context(), page, limit, filters)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to load activity logs")
		return
	}

	resp := successResponse(logs, "")
	resp.Meta = &Meta{Page: page, PageSize: min(limit, service.MaxPageSize), Total: logs.Pagination.TotalLogs}
	respondWithJSON(w, h.logger, http.StatusOK, resp)
}

// ExportLogs streams matching events as a JSON or CSV attachment
// @Summary Export logs
// @Tags dashboard
// @Param format query string false "json (default) or csv"
// @Produce json
// @Produce text/csv
// @Failure 403 {object} Response
// @Router /dashboard/export-logs [get]
func (h *DashboardHandler) ExportLogs(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	filters, err := parseLogFilters(r)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid filters")
		return
	}

	export, err := h.analytics.ExportLogs(r.Context(), r.URL.Query().Get("format"), filters)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to export logs")
		return
	}

	switch export.Format {
	case service.ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=security-logs.csv")
		w.WriteHeader(http.StatusOK)
		if err := service.WriteCSV(w, export.Logs); err != nil {
			h.logger.Error("Failed to write CSV export", util.ErrorField(err))
			return
		}
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=security-logs.json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(export); err != nil {
			h.logger.Error("Failed to write JSON export", util.ErrorField(err))
			return
		}
	}

	h.logger.Info("Logs exported",
		util.String("format", export.Format),
		util.Int("count", len(export.Logs)),
		util.Duration("duration", time.Since(startTime)))
}

// SystemHealth reports the live state of backing services
// @Summary System health
// @Tags dashboard
// @Router /dashboard/system-health [get]
func (h *DashboardHandler) SystemHealth(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(map[string]interface{}{"systemHealth": report}, ""))
}

// Search runs a full-text query over events
// @Summary Search events
// @Tags dashboard
// @Param q query string true "query"
// @Param limit query int false "max results, default 20"
// @Failure 503 {object} Response
// @Router /dashboard/search [get]
func (h *DashboardHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), 0)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid limit")
		return
	}

	result, err := h.search.Search(r.Context(), q.Get("q"), limit)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Search failed")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(result, ""))
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", service.ErrInvalidInput, raw)
	}
	return n, nil
}

func parseLogFilters(r *http.Request) (service.LogFilters, error) {
	q := r.URL.Query()
	filters := service.LogFilters{
		EventType: q.Get("eventType"),
		Severity:  q.Get("severity"),
	}

	var err error
	if filters.StartDate, err = parseDate(q.Get("startDate"), false); err != nil {
		return filters, err
	}
	if filters.EndDate, err = parseDate(q.Get("endDate"), true); err != nil {
		return filters, err
	}
	return filters, nil
}

// parseDate accepts RFC3339 or YYYY-MM-DD. A date-only end bound covers the
// whole of that day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(dateOnlyLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", service.ErrInvalidInput, raw)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}
