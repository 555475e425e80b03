package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"havosec-api/internal/client"
	"havosec-api/internal/config"
	"havosec-api/internal/hashing"
	"havosec-api/internal/models"
	"havosec-api/internal/repository/memory"
	rediscache "havosec-api/internal/repository/redis"
	"havosec-api/internal/service"
)

const testPassword = "correct horse battery"

type testAPI struct {
	router http.Handler
	auth   *service.AuthService
	events *service.EventService
	mr     *miniredis.Miniredis
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zaptest.NewLogger(t)

	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFromConn(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })

	store := memory.NewEventStore()
	auth := service.NewAuthService(memory.NewUserStore(), hashing.NewHasher(4),
		rediscache.NewRateLimitCache(rc), rediscache.NewSessionCache(rc),
		config.AuthConfig{
			ClientJWTSecret:    "client-secret-for-tests",
			AdminJWTSecret:     "admin-secret-for-tests",
			ClientTokenTTL:     time.Hour,
			AdminTokenTTL:      time.Hour,
			MaxLoginAttempts:   3,
			LoginAttemptWindow: 15 * time.Minute,
		}, logger)
	events := service.NewEventService(store, logger)
	monitoring := service.StaticMonitoring{Uptime: 99.9, ResponseTime: 1.2}
	health := service.NewHealthService(map[string]service.HealthCheck{
		"mongo": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}, monitoring, logger)

	router := NewRouter(RouterConfig{
		Auth: NewAuthHandler(auth, logger),
		Dashboard: NewDashboardHandler(
			service.NewAnalyticsService(store, monitoring, logger),
			service.NewSearchService(nil, logger),
			health,
			logger,
		),
		Events:         NewEventHandler(events, logger),
		Authenticator:  auth,
		AllowedOrigins: []string{"http://localhost:3000"},
	}, logger)

	return &testAPI{router: router, auth: auth, events: events, mr: mr}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) clientToken(t *testing.T, email string, role models.ClientRole) string {
	t.Helper()
	ctx := context.Background()
	_, err := a.auth.EnsureClientUser(ctx, email, testPassword, "Acme", role)
	require.NoError(t, err)
	res, err := a.auth.ClientLogin(ctx, service.LoginInput{Email: email, Password: testPassword})
	require.NoError(t, err)
	return res.Token
}

func (a *testAPI) adminToken(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	_, err := a.auth.EnsureAdminUser(ctx, "root@havosec.io", testPassword)
	require.NoError(t, err)
	res, err := a.auth.AdminLogin(ctx, service.LoginInput{Email: "root@havosec.io", Password: testPassword})
	require.NoError(t, err)
	return res.Token
}

func (a *testAPI) seed(t *testing.T, inputs ...service.EventInput) []*models.SecurityEvent {
	t.Helper()
	events, err := a.events.Ingest(context.Background(), inputs)
	require.NoError(t, err)
	return events
}

func sampleInput(desc string) service.EventInput {
	return service.EventInput{
		EventType:   string(models.EventTypeAttackBlocked),
		Severity:    string(models.SeverityHigh),
		Source:      models.EventSource{IP: "10.0.0.1", Country: "US"},
		Target:      models.EventTarget{Endpoint: "/api/login", Service: "web", Port: 443},
		Description: desc,
		Status:      string(models.StatusBlocked),
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Meta    *Meta           `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK","service":"havosec-api"}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "havosec_http_requests_total")
}

func TestUnknownRoute(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestDashboardRequiresToken(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/dashboard/overview", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, errNoToken.Error(), decodeEnvelope(t, rec).Error)

	rec = api.do(t, http.MethodGet, "/api/dashboard/overview", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// admin tokens are signed with a different secret
	rec = api.do(t, http.MethodGet, "/api/dashboard/overview", api.adminToken(t), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOverview(t *testing.T) {
	api := newTestAPI(t)
	token := api.clientToken(t, "viewer@acme.io", models.ClientRoleViewer)
	api.seed(t, sampleInput("one"), sampleInput("two"))

	rec := api.do(t, http.MethodGet, "/api/dashboard/overview", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data service.Overview
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	assert.Equal(t, int64(2), data.Overview.TotalEvents)
	assert.Equal(t, int64(2), data.Overview.BlockedAttacks)
	assert.Equal(t, 99.9, data.Overview.SystemUptime)
}

func TestAttackInsights(t *testing.T) {
	api := newTestAPI(t)
	token := api.clientToken(t, "viewer@acme.io", models.ClientRoleViewer)
	api.seed(t, sampleInput("one"), sampleInput("two"))

	for query, period := range map[string]string{
		"":              "7d",
		"?period=24h":   "24h",
		"?period=30d":   "30d",
		"?period=90d":   "7d",
		"?period=bogus": "7d",
	} {
		rec := api.do(t, http.MethodGet, "/api/dashboard/attack-insights"+query, token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var data struct {
			AttackInsights *service.AttackInsights `json:"attackInsights"`
		}
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
		require.NotNil(t, data.AttackInsights, query)
		assert.Equal(t, period, data.AttackInsights.Period, query)
		require.Len(t, data.AttackInsights.EventsByType, 1)
		assert.Equal(t, models.EventTypeAttackBlocked, data.AttackInsights.EventsByType[0].EventType)
		assert.Equal(t, int64(2), data.AttackInsights.EventsByType[0].Count)
		require.Len(t, data.AttackInsights.TopSourceIPs, 1)
		assert.Equal(t, "10.0.0.1", data.AttackInsights.TopSourceIPs[0].IP)
	}
}

func TestDefenseMetrics(t *testing.T) {
	api := newTestAPI(t)
	token := api.clientToken(t, "viewer@acme.io", models.ClientRoleViewer)
	detected := sampleInput("three")
	detected.Status = string(models.StatusDetected)
	api.seed(t, sampleInput("one"), sampleInput("two"), detected, sampleInput("four"))

	rec := api.do(t, http.MethodGet, "/api/dashboard/defense-metrics", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data struct {
		DefenseMetrics *service.DefenseMetrics `json:"defenseMetrics"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	require.NotNil(t, data.DefenseMetrics)
	assert.Equal(t, 75.0, data.DefenseMetrics.BlockingEfficiency)
	assert.Equal(t, 75.0, data.DefenseMetrics.MitigationEfficiency)
	assert.Equal(t, 75.0, data.DefenseMetrics.SecurityScore)
	assert.Equal(t, int64(4), data.DefenseMetrics.TotalDetected)
	assert.Equal(t, 1.2, data.DefenseMetrics.AverageResponseTime)
}

func TestActivityLogs(t *testing.T) {
	api := newTestAPI(t)
	token := api.clientToken(t, "viewer@acme.io", models.ClientRoleViewer)
	api.seed(t, sampleInput("one"), sampleInput("two"), sampleInput("three"))

	rec := api.do(t, http.MethodGet, "/api/dashboard/activity-logs", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Page)
	assert.Equal(t, 50, env.Meta.PageSize)
	assert.Equal(t, int64(3), env.Meta.Total)

	rec = api.do(t, http.MethodGet, "/api/dashboard/activity-logs?page=2&limit=2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs service.ActivityLogs
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &logs))
	assert.Len(t, logs.ActivityLogs, 1)
	assert.True(t, logs.Pagination.HasPrevPage)
	assert.False(t, logs.Pagination.HasNextPage)

	rec = api.do(t, http.MethodGet, "/api/dashboard/activity-logs?limit=501", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, service.MaxPageSize, decodeEnvelope(t, rec).Meta.PageSize)

	for _, q := range []string{"page=abc", "limit=0", "severity=extreme", "startDate=yesterday"} {
		rec = api.do(t, http.MethodGet, "/api/dashboard/activity-logs?"+q, token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestExportLogs(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t, sampleInput(`say "hi"`))

	viewer := api.clientToken(t, "viewer@acme.io", models.ClientRoleViewer)
	rec := api.do(t, http.MethodGet, "/api/dashboard/export-logs", viewer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	analyst := api.clientToken(t, "analyst@acme.io", models.ClientRoleAnalyst)
	rec = api.do(t, http.MethodGet, "/api/dashboard/export-logs?format=csv", analyst, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=security-logs.csv", rec.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "ID,Event Type,"))
	assert.Contains(t, rec.Body.String(), `"say ""hi"""`)

	rec = api.do(t, http.MethodGet, "/api/dashboard/export-logs", analyst, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=security-logs.json", rec.Header().Get("Content-Disposition"))
	var export struct {
		Logs       []models.SecurityEvent `json:"logs"`
		ExportedAt time.Time              `json:"exportedAt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	assert.Len(t, export.Logs, 1)
	assert.False(t, export.ExportedAt.IsZero())

	rec = api.do(t, http.MethodGet, "/api/dashboard/export-logs?format=xml", analyst, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSystemHealthAndSearch(t *testing.T) {
	api := newTestAPI(t)
	token := api.clientToken(t, "viewer@acme.io", models.ClientRoleViewer)

	rec := api.do(t, http.MethodGet, "/api/dashboard/system-health", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		SystemHealth service.SystemHealth `json:"systemHealth"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &data))
	assert.Equal(t, service.HealthStatusDegraded, data.SystemHealth.Status)
	require.Len(t, data.SystemHealth.Services, 2)
	assert.Equal(t, "redis", data.SystemHealth.Services[1].Name)
	assert.Equal(t, service.HealthStatusUnhealthy, data.SystemHealth.Services[1].Status)

	rec = api.do(t, http.MethodGet, "/api/dashboard/search?q=ddos", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEventLifecycle(t *testing.T) {
	api := newTestAPI(t)
	event := api.seed(t, sampleInput("lifecycle"))[0]
	path := "/api/dashboard/events/" + event.ID

	viewer := api.clientToken(t, "viewer@acme.io", models.ClientRoleViewer)
	rec := api.do(t, http.MethodGet, path, viewer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPatch, path+"/status", viewer, statusRequest{Status: "resolved"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	analyst := api.clientToken(t, "analyst@acme.io", models.ClientRoleAnalyst)
	rec = api.do(t, http.MethodPatch, path+"/status", analyst, statusRequest{Status: "resolved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated models.SecurityEvent
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &updated))
	assert.Equal(t, models.StatusResolved, updated.Status)

	rec = api.do(t, http.MethodPatch, path+"/status", analyst, statusRequest{Status: "closed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPatch, path+"/assignee", analyst, assigneeRequest{AssignedTo: "soc-team"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, path+"/mitigations", analyst, mitigationRequest{Action: "blocked ip at edge"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &updated))
	require.Len(t, updated.MitigationActions, 1)
	assert.Equal(t, "analyst@acme.io", updated.MitigationActions[0].PerformedBy)
	assert.Equal(t, "soc-team", updated.AssignedTo)

	rec = api.do(t, http.MethodGet, "/api/dashboard/events/missing", viewer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminIngest(t *testing.T) {
	api := newTestAPI(t)
	body := ingestRequest{Events: []service.EventInput{sampleInput("a"), sampleInput("b")}}

	client := api.clientToken(t, "analyst@acme.io", models.ClientRoleAnalyst)
	rec := api.do(t, http.MethodPost, "/api/admin/security-events", client, body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	admin := api.adminToken(t)
	rec = api.do(t, http.MethodPost, "/api/admin/security-events", admin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	assert.Equal(t, int64(2), env.Meta.Total)

	bad := sampleInput("bad")
	bad.Severity = "extreme"
	rec = api.do(t, http.MethodPost, "/api/admin/security-events", admin,
		ingestRequest{Events: []service.EventInput{sampleInput("ok"), bad}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	api := newTestAPI(t)

	reg := service.RegisterInput{
		Email: "new@acme.io", Password: testPassword, FirstName: "New", LastName: "User",
	}
	rec := api.do(t, http.MethodPost, "/api/auth/register", "", reg)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &result))
	require.NotEmpty(t, result.Token)

	rec = api.do(t, http.MethodPost, "/api/auth/register", "", reg)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/auth/me", result.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"new@acme.io"`)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	rec = api.do(t, http.MethodPost, "/api/auth/logout", result.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodGet, "/api/auth/me", result.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginThrottled(t *testing.T) {
	api := newTestAPI(t)
	api.clientToken(t, "viewer@acme.io", models.ClientRoleViewer)

	wrong := service.LoginInput{Email: "viewer@acme.io", Password: "wrong-password"}
	for i := 0; i < 3; i++ {
		rec := api.do(t, http.MethodPost, "/api/auth/login", "", wrong)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := api.do(t, http.MethodPost, "/api/auth/login", "", service.LoginInput{Email: "viewer@acme.io", Password: testPassword})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = api.do(t, http.MethodPost, "/api/auth/login", "", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2025-03-14", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), *got)

	got, err = parseDate("2025-03-14", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), *got)

	got, err = parseDate("2025-03-14T10:00:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC), *got)

	got, err = parseDate("", false)
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseDate("14/03/2025", false)
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}
