package stats

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	su := NewStatsUpdater()
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.registry, "expected registry to be initialized")
	assert.Empty(t, su.gauges, "expected no gauges before registration")
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	su := NewStatsUpdater()
	su.RegisterMetric("NumActiveClients")
	su.RegisterMetric("NumActiveClients")

	su.Incr("NumActiveClients")
	su.Incr("NumActiveClients")
	su.Decr("NumActiveClients")

	assert.Equal(t, float64(1), testutil.ToFloat64(su.gauges["NumActiveClients"]), "expected gauge to reflect increments and decrements")
}

func TestStatsUpdater_UnknownMetric(t *testing.T) {
	su := NewStatsUpdater()
	assert.PanicsWithValue(t, "metric not found: Missing", func() {
		su.Incr("Missing")
	})
}

func TestStatsUpdater_Handler(t *testing.T) {
	su := NewStatsUpdater()
	su.RegisterMetric("NumActiveRooms")
	su.Incr("NumActiveRooms")

	rr := httptest.NewRecorder()
	su.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gochat_num_active_rooms 1")
	assert.Contains(t, string(body), "gochat_uptime_seconds")
}

func Test_metricName(t *testing.T) {
	assert.Equal(t, "num_active_clients", metricName("NumActiveClients"))
	assert.Equal(t, "num_online_users", metricName("NumOnlineUsers"))
}
