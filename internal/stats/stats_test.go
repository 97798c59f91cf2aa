package stats

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.gauges, "expected gauges to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/metrics"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /metrics to be set")
	assert.Equal(t, "GET /metrics", pattern, "expected handler to be registered for GET method on /metrics")
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	su := NewStatsUpdater(nil)
	su.RegisterMetric("NumActiveClients")
	su.RegisterMetric("NumActiveClients")

	su.Incr("NumActiveClients")
	su.Incr("NumActiveClients")
	su.Decr("NumActiveClients")

	assert.Equal(t, float64(1), testutil.ToFloat64(su.gauges["NumActiveClients"]))
	assert.Panics(t, func() { su.Incr("Unknown") }, "expected unknown metric to panic")
}

func TestStatsUpdater_Set(t *testing.T) {
	su := NewStatsUpdater(nil)
	su.RegisterMetric("QueueWaitingJobs")

	su.Set("QueueWaitingJobs", 7)
	su.Set("QueueWaitingJobs", 3)

	assert.Equal(t, float64(3), testutil.ToFloat64(su.gauges["QueueWaitingJobs"]))
}

func TestStatsUpdater_scrape(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.RegisterMetric("NotificationsDelivered")
	su.Incr("NotificationsDelivered")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "quizlive_notifications_delivered 1")
}

func Test_metricName(t *testing.T) {
	assert.Equal(t, "quizlive_num_active_sessions", metricName("NumActiveSessions"))
	assert.Equal(t, "quizlive_jobs_failed", metricName("JobsFailed"))
}
