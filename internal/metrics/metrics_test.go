package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/events/{eventID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/events/{eventID}", "418"))
	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/events/{eventID}", "418"))
	assert.Equal(t, 3.0, after-before)
}

func TestEventCounters(t *testing.T) {
	before := testutil.ToFloat64(eventsIngested.WithLabelValues("kafka"))
	EventsIngested("kafka", 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(eventsIngested.WithLabelValues("kafka"))-before)

	EventsRejected("kafka", "malformed")
	assert.GreaterOrEqual(t, testutil.ToFloat64(eventsRejected.WithLabelValues("kafka", "malformed")), 1.0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	SinkFailure("clickhouse")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "havosec_events_sink_failures_total"))
}
